package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/razorpay"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type topupGateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error)
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool
	KeyID() string
}

// Service owns every wallet balance mutation. Each successful mutation
// writes exactly one ledger entry in the same transaction as the balance
// change; the user row is locked for the duration.
type Service interface {
	DebitTx(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.WalletTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.WalletTransaction, error)
	Credit(ctx context.Context, input EntryInput) (*models.WalletTransaction, error)
	Topup(ctx context.Context, input TopupInput) (*TopupIntent, error)
	ConfirmTopup(ctx context.Context, input ConfirmTopupInput) (*models.WalletTransaction, error)
	GrantReferralBonuses(ctx context.Context, tx *gorm.DB, referrerID, newUserID uuid.UUID) error
	Summary(ctx context.Context, userID uuid.UUID) (*Summary, error)
	Transactions(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	gateway   topupGateway
	publisher realtime.Publisher
	referral  config.ReferralConfig
}

// EntryInput describes a single balance mutation.
type EntryInput struct {
	UserID        uuid.UUID
	AmountPaise   int64
	Source        enums.WalletTxnSource
	Gateway       enums.Gateway
	ExternalTxnID *string
	ReferenceType *string
	ReferenceID   *uuid.UUID
	Notes         *string
}

// TopupInput starts an online wallet top-up.
type TopupInput struct {
	UserID      uuid.UUID
	AmountPaise int64
}

// TopupIntent carries what the client needs to open the gateway checkout.
type TopupIntent struct {
	GatewayOrderID string `json:"gateway_order_id"`
	AmountPaise    int64  `json:"amount_paise"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

// ConfirmTopupInput carries the gateway callback proof.
type ConfirmTopupInput struct {
	UserID         uuid.UUID
	GatewayOrderID string
	PaymentID      string
	Signature      string
	AmountPaise    int64
}

// Summary reports the balance plus referral counters.
type Summary struct {
	BalancePaise          int64  `json:"balance_paise"`
	ReferralCode          string `json:"referral_code"`
	ReferralCount         int    `json:"referral_count"`
	ReferralEarningsPaise int64  `json:"referral_earnings_paise"`
}

// ListParams configures the transaction history feed.
type ListParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// ListResult wraps ledger entries and the cursor for the next page.
type ListResult struct {
	Items  []models.WalletTransaction `json:"items"`
	Cursor string                     `json:"cursor"`
}

// NewService wires the wallet dependencies. The gateway may be nil when
// online top-ups are disabled.
func NewService(repo Repository, tx txRunner, gateway topupGateway, publisher realtime.Publisher, referral config.ReferralConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		gateway:   gateway,
		publisher: publisher,
		referral:  referral,
	}, nil
}

// DebitTx subtracts from the balance inside the caller's transaction.
// Fails with INSUFFICIENT_BALANCE before touching anything when the
// locked balance cannot cover the amount.
func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.WalletTransaction, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	user, err := repo.FindUserForUpdate(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}

	if user.WalletBalancePaise < input.AmountPaise {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet balance too low").
			WithDetails(map[string]int64{
				"balance_paise":  user.WalletBalancePaise,
				"required_paise": input.AmountPaise,
			})
	}

	return applyEntry(ctx, repo, user, enums.WalletTxnTypeDebit, input)
}

// CreditTx adds to the balance inside the caller's transaction.
func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.WalletTransaction, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	user, err := repo.FindUserForUpdate(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}

	return applyEntry(ctx, repo, user, enums.WalletTxnTypeCredit, input)
}

func (s *service) Credit(ctx context.Context, input EntryInput) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.CreditTx(ctx, tx, input)
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Topup(ctx context.Context, input TopupInput) (*TopupIntent, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "topup amount must be positive")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	order, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderRequest{
		AmountPaise: input.AmountPaise,
		Receipt:     fmt.Sprintf("topup_%s", input.UserID),
		Notes:       map[string]string{"user_id": input.UserID.String(), "purpose": "wallet_topup"},
	})
	if err != nil {
		return nil, err
	}

	return &TopupIntent{
		GatewayOrderID: order.ID,
		AmountPaise:    order.AmountPaise,
		Currency:       order.Currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

// ConfirmTopup verifies the gateway signature and credits the wallet.
// Replays of the same payment id return the original ledger entry.
func (s *service) ConfirmTopup(ctx context.Context, input ConfirmTopupInput) (*models.WalletTransaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "topup amount must be positive")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	if !s.gateway.VerifyPaymentSignature(input.GatewayOrderID, input.PaymentID, input.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodePaymentVerification, "topup signature mismatch")
	}

	var txn *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByExternalID(ctx, input.UserID, input.PaymentID)
		if err == nil {
			txn = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check topup idempotency")
		}

		paymentID := input.PaymentID
		created, err := s.CreditTx(ctx, tx, EntryInput{
			UserID:        input.UserID,
			AmountPaise:   input.AmountPaise,
			Source:        enums.WalletTxnSourceTopup,
			Gateway:       enums.GatewayRazorpay,
			ExternalTxnID: &paymentID,
		})
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.ToUser(input.UserID, realtime.Event{
		Event: realtime.EventPaymentSuccess,
		Data: map[string]any{
			"purpose":           "wallet_topup",
			"amount_paise":      txn.AmountPaise,
			"balance_paise":     txn.BalanceAfterPaise,
			"transaction_id":    txn.ID,
			"gateway_order_id":  input.GatewayOrderID,
			"gateway_payment_id": input.PaymentID,
		},
	})
	return txn, nil
}

// GrantReferralBonuses credits both sides of a referral and bumps the
// referrer's counters, all inside the caller's transaction.
func (s *service) GrantReferralBonuses(ctx context.Context, tx *gorm.DB, referrerID, newUserID uuid.UUID) error {
	if referrerID == uuid.Nil || newUserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "referrer and new user ids required")
	}

	referenceType := "referral"
	if s.referral.ReferrerBonusPaise > 0 {
		ref := newUserID
		if _, err := s.CreditTx(ctx, tx, EntryInput{
			UserID:        referrerID,
			AmountPaise:   s.referral.ReferrerBonusPaise,
			Source:        enums.WalletTxnSourceReferralBonus,
			Gateway:       enums.GatewaySystem,
			ReferenceType: &referenceType,
			ReferenceID:   &ref,
		}); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).IncrementReferralStats(ctx, referrerID, s.referral.ReferrerBonusPaise); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update referral stats")
		}
	}

	if s.referral.SignupBonusPaise > 0 {
		ref := referrerID
		if _, err := s.CreditTx(ctx, tx, EntryInput{
			UserID:        newUserID,
			AmountPaise:   s.referral.SignupBonusPaise,
			Source:        enums.WalletTxnSourceReferralBonus,
			Gateway:       enums.GatewaySystem,
			ReferenceType: &referenceType,
			ReferenceID:   &ref,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	return &Summary{
		BalancePaise:          user.WalletBalancePaise,
		ReferralCode:          user.ReferralCode,
		ReferralCount:         user.ReferralCount,
		ReferralEarningsPaise: user.ReferralEarningsPaise,
	}, nil
}

func (s *service) Transactions(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listTransactionsParams{
		UserID: params.UserID,
		Limit:  params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func validateEntry(input EntryInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction source")
	}
	return nil
}

func applyEntry(ctx context.Context, repo Repository, user *models.User, txnType enums.WalletTxnType, input EntryInput) (*models.WalletTransaction, error) {
	before := user.WalletBalancePaise
	after := before + input.AmountPaise
	if txnType == enums.WalletTxnTypeDebit {
		after = before - input.AmountPaise
	}

	if err := repo.UpdateUserBalance(ctx, user.ID, after); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}

	gateway := input.Gateway
	if gateway == "" {
		gateway = enums.GatewaySystem
	}

	txn := &models.WalletTransaction{
		UserID:             user.ID,
		Type:               txnType,
		Source:             input.Source,
		AmountPaise:        input.AmountPaise,
		BalanceBeforePaise: before,
		BalanceAfterPaise:  after,
		Status:             enums.WalletTxnStatusSuccess,
		Gateway:            gateway,
		ExternalTxnID:      input.ExternalTxnID,
		ReferenceType:      input.ReferenceType,
		ReferenceID:        input.ReferenceID,
		Notes:              input.Notes,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entry")
	}

	user.WalletBalancePaise = after
	return txn, nil
}
