package enums

import "fmt"

// ActorRole tags an authenticated principal. The role is fixed when the
// token is minted and is never re-derived by probing collections.
type ActorRole string

const (
	ActorRoleCustomer      ActorRole = "customer"
	ActorRolePartner       ActorRole = "partner"
	ActorRoleDeliveryAgent ActorRole = "delivery_agent"
)

var validActorRoles = []ActorRole{
	ActorRoleCustomer,
	ActorRolePartner,
	ActorRoleDeliveryAgent,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
