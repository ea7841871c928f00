package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/wallet"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/razorpay"
)

const (
	statusActive = "ACTIVE"

	subscriptionReferenceType = "subscription"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletLedger interface {
	DebitTx(ctx context.Context, tx *gorm.DB, input wallet.EntryInput) (*models.WalletTransaction, error)
}

type gateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error)
	KeyID() string
}

// Service sells meal plans. Wallet purchases settle in one transaction;
// online purchases stay payment PENDING until the gateway confirms.
type Service interface {
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	wallet  walletLedger
	gateway gateway
}

// PurchaseInput describes a plan purchase.
type PurchaseInput struct {
	UserID        uuid.UUID
	PlanID        uuid.UUID
	PaymentMethod enums.PaymentMethod
}

// PurchasePayment carries the gateway handle for an online purchase.
type PurchasePayment struct {
	GatewayOrderID string `json:"gateway_order_id"`
	AmountPaise    int64  `json:"amount_paise"`
	KeyID          string `json:"key_id"`
}

// PurchaseResult is the created subscription plus, for online payment,
// the charge to complete.
type PurchaseResult struct {
	Subscription *models.UserSubscription `json:"subscription"`
	Payment      *PurchasePayment         `json:"payment,omitempty"`
}

// NewService wires the subscription dependencies. The gateway may be nil
// when online purchases are disabled.
func NewService(repo Repository, tx txRunner, walletSvc walletLedger, gw gateway) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	return &service{repo: repo, tx: tx, wallet: walletSvc, gateway: gw}, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if input.UserID == uuid.Nil || input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and plan id required")
	}
	switch input.PaymentMethod {
	case enums.PaymentMethodWallet, enums.PaymentMethodOnline:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriptions are paid by wallet or online")
	}

	plan, err := s.repo.FindPlan(ctx, input.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "plan is no longer offered")
	}

	now := time.Now().UTC()
	if _, err := s.repo.FindActiveForUser(ctx, input.UserID, now); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an active subscription already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active subscription")
	}

	sub := &models.UserSubscription{
		ID:            uuid.New(),
		UserID:        input.UserID,
		PlanID:        plan.ID,
		StartDate:     now,
		EndDate:       now.AddDate(0, 0, plan.DurationDays),
		Status:        statusActive,
		PaymentMethod: input.PaymentMethod,
		PaymentStatus: enums.PaymentStatusPending,
	}

	if input.PaymentMethod == enums.PaymentMethodWallet {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ref := sub.ID
			refType := subscriptionReferenceType
			if _, err := s.wallet.DebitTx(ctx, tx, wallet.EntryInput{
				UserID:        input.UserID,
				AmountPaise:   plan.TotalPricePaise,
				Source:        enums.WalletTxnSourceSubscriptionPayment,
				Gateway:       enums.GatewayWallet,
				ReferenceType: &refType,
				ReferenceID:   &ref,
			}); err != nil {
				return err
			}
			sub.PaymentStatus = enums.PaymentStatusPaid
			if err := s.repo.WithTx(tx).CreateSubscription(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &PurchaseResult{Subscription: sub}, nil
	}

	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	gwOrder, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderRequest{
		AmountPaise: plan.TotalPricePaise,
		Receipt:     fmt.Sprintf("sub_%s", sub.ID),
		Notes:       map[string]string{"subscription_id": sub.ID.String(), "plan_id": plan.ID.String()},
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return &PurchaseResult{
		Subscription: sub,
		Payment: &PurchasePayment{
			GatewayOrderID: gwOrder.ID,
			AmountPaise:    plan.TotalPricePaise,
			KeyID:          s.gateway.KeyID(),
		},
	}, nil
}
