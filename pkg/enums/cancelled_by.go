package enums

import "fmt"

// CancelledBy records which party cancelled an order.
type CancelledBy string

const (
	CancelledByUser    CancelledBy = "USER"
	CancelledByPartner CancelledBy = "PARTNER"
	CancelledBySystem  CancelledBy = "SYSTEM"
)

// IsValid reports whether the value is a known CancelledBy.
func (c CancelledBy) IsValid() bool {
	switch c {
	case CancelledByUser, CancelledByPartner, CancelledBySystem:
		return true
	default:
		return false
	}
}

// ParseCancelledBy converts raw input into a CancelledBy.
func ParseCancelledBy(value string) (CancelledBy, error) {
	c := CancelledBy(value)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid cancelled-by %q", value)
	}
	return c, nil
}
