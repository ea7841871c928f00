package enums

import "fmt"

// WalletTxnType is the direction of a ledger entry.
type WalletTxnType string

const (
	WalletTxnTypeCredit WalletTxnType = "CREDIT"
	WalletTxnTypeDebit  WalletTxnType = "DEBIT"
)

// IsValid reports whether the value is a known WalletTxnType.
func (t WalletTxnType) IsValid() bool {
	return t == WalletTxnTypeCredit || t == WalletTxnTypeDebit
}

// WalletTxnSource records which flow produced a ledger entry.
type WalletTxnSource string

const (
	WalletTxnSourceTopup               WalletTxnSource = "TOPUP"
	WalletTxnSourceOrderPayment        WalletTxnSource = "ORDER_PAYMENT"
	WalletTxnSourceOrderRefund         WalletTxnSource = "ORDER_REFUND"
	WalletTxnSourceSubscriptionPayment WalletTxnSource = "SUBSCRIPTION_PAYMENT"
	WalletTxnSourceSubscriptionRefund  WalletTxnSource = "SUBSCRIPTION_REFUND"
	WalletTxnSourceTip                 WalletTxnSource = "TIP"
	WalletTxnSourceReferralBonus       WalletTxnSource = "REFERRAL_BONUS"
	WalletTxnSourceAdjustment          WalletTxnSource = "ADJUSTMENT"
)

var validWalletTxnSources = []WalletTxnSource{
	WalletTxnSourceTopup,
	WalletTxnSourceOrderPayment,
	WalletTxnSourceOrderRefund,
	WalletTxnSourceSubscriptionPayment,
	WalletTxnSourceSubscriptionRefund,
	WalletTxnSourceTip,
	WalletTxnSourceReferralBonus,
	WalletTxnSourceAdjustment,
}

// IsValid reports whether the value is a known WalletTxnSource.
func (s WalletTxnSource) IsValid() bool {
	for _, candidate := range validWalletTxnSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWalletTxnSource converts raw input into a WalletTxnSource.
func ParseWalletTxnSource(value string) (WalletTxnSource, error) {
	for _, candidate := range validWalletTxnSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction source %q", value)
}

// WalletTxnStatus tracks whether a ledger entry has settled.
type WalletTxnStatus string

const (
	WalletTxnStatusPending WalletTxnStatus = "PENDING"
	WalletTxnStatusSuccess WalletTxnStatus = "SUCCESS"
	WalletTxnStatusFailed  WalletTxnStatus = "FAILED"
)

// IsValid reports whether the value is a known WalletTxnStatus.
func (s WalletTxnStatus) IsValid() bool {
	switch s {
	case WalletTxnStatusPending, WalletTxnStatusSuccess, WalletTxnStatusFailed:
		return true
	default:
		return false
	}
}
