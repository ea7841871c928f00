package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// WalletTransaction is an immutable ledger entry. BalanceAfterPaise must
// equal BalanceBeforePaise plus/minus AmountPaise depending on Type, and
// must equal the user's stored balance at commit time.
type WalletTransaction struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index:idx_wallet_txns_user_created,priority:1"`
	Type               enums.WalletTxnType   `gorm:"column:type;type:text;not null"`
	Source             enums.WalletTxnSource `gorm:"column:source;type:text;not null"`
	AmountPaise        int64                 `gorm:"column:amount_paise;not null"`
	BalanceBeforePaise int64                 `gorm:"column:balance_before_paise;not null"`
	BalanceAfterPaise  int64                 `gorm:"column:balance_after_paise;not null"`
	Status             enums.WalletTxnStatus `gorm:"column:status;type:text;not null;default:'SUCCESS'"`
	Gateway            enums.Gateway         `gorm:"column:gateway;type:text;not null;default:'SYSTEM'"`
	ExternalTxnID      *string               `gorm:"column:external_txn_id;type:text;index"`
	ReferenceType      *string               `gorm:"column:reference_type;type:text"`
	ReferenceID        *uuid.UUID            `gorm:"column:reference_id;type:uuid"`
	Notes              *string               `gorm:"column:notes;type:text"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_wallet_txns_user_created,priority:2,sort:desc"`
}
