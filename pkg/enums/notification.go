package enums

import "fmt"

// NotificationType classifies persisted partner/agent notifications.
type NotificationType string

const (
	NotificationTypeSystem         NotificationType = "SYSTEM"
	NotificationTypeNewOrder       NotificationType = "NEW_ORDER"
	NotificationTypeOrderCancelled NotificationType = "ORDER_CANCELLED"
	NotificationTypeOrderAssigned  NotificationType = "ORDER_ASSIGNED"
	NotificationTypeOrderRejected  NotificationType = "ORDER_REJECTED"
	NotificationTypeOrderPicked    NotificationType = "ORDER_PICKED"
	NotificationTypeOrderDelivered NotificationType = "ORDER_DELIVERED"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeSystem,
	NotificationTypeNewOrder,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderAssigned,
	NotificationTypeOrderRejected,
	NotificationTypeOrderPicked,
	NotificationTypeOrderDelivered,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
