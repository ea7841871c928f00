package enums

import "fmt"

// Gateway identifies the external payment processor backing a charge.
type Gateway string

const (
	GatewayRazorpay Gateway = "RAZORPAY"
	GatewayStripe   Gateway = "STRIPE"
	GatewayWallet   Gateway = "WALLET"
	GatewaySystem   Gateway = "SYSTEM"
)

var validGateways = []Gateway{
	GatewayRazorpay,
	GatewayStripe,
	GatewayWallet,
	GatewaySystem,
}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is a known Gateway.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// IsExternal reports whether the gateway requires proof verification.
func (g Gateway) IsExternal() bool {
	return g == GatewayRazorpay || g == GatewayStripe
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
