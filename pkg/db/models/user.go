package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a customer account. WalletBalancePaise is only ever mutated
// through the wallet ledger; every change produces one WalletTransaction.
type User struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FullName              string    `gorm:"column:full_name;type:text;not null"`
	Email                 string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	Phone                 string    `gorm:"column:phone;type:text;not null"`
	PasswordHash          string    `gorm:"column:password_hash;type:text;not null"`
	WalletBalancePaise    int64     `gorm:"column:wallet_balance_paise;not null;default:0"`
	ReferralCode          string    `gorm:"column:referral_code;type:text;uniqueIndex"`
	ReferredBy            *string   `gorm:"column:referred_by;type:text"`
	ReferralEarningsPaise int64     `gorm:"column:referral_earnings_paise;not null;default:0"`
	ReferralCount         int       `gorm:"column:referral_count;not null;default:0"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
