package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/notifications"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/internal/wallet"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/razorpay"
)

// Kitchen actions on a freshly placed order.
const (
	KitchenActionAccept = "ACCEPT"
	KitchenActionReject = "REJECT"
)

const orderReferenceType = "order"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletLedger interface {
	DebitTx(ctx context.Context, tx *gorm.DB, input wallet.EntryInput) (*models.WalletTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, input wallet.EntryInput) (*models.WalletTransaction, error)
}

type cartStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type deliveryOps interface {
	Assign(ctx context.Context, orderID uuid.UUID) (bool, error)
	ApplyRatingTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, rating int) error
	CreditEarningsTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, amountPaise int64) error
	ReleaseAgentTx(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID) error
}

type notifier interface {
	NotifyPartner(ctx context.Context, input notifications.PartnerInput) (*models.PartnerNotification, error)
	NotifyAgent(ctx context.Context, input notifications.AgentInput) (*models.DeliveryNotification, error)
}

type razorpayGateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error)
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool
	KeyID() string
}

type stripeGateway interface {
	CreatePaymentIntent(ctx context.Context, amountPaise int64, referenceID string) (*stripeapi.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*stripeapi.PaymentIntent, error)
}

// Service runs the order lifecycle. Every transition is a conditional
// update keyed on the expected prior status; money moves through the
// wallet ledger or an external gateway, never both for the same charge.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	KitchenAction(ctx context.Context, input KitchenActionInput) (*models.Order, error)
	MarkReady(ctx context.Context, kitchenID, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (*models.Order, error)
	RetryPayment(ctx context.Context, userID, orderID uuid.UUID, gateway enums.Gateway) (*CreateResult, error)
	ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*models.Order, error)
	Rate(ctx context.Context, input RateInput) (*models.Order, error)
	AddTip(ctx context.Context, input TipInput) (*TipResult, error)
	ConfirmTip(ctx context.Context, input ConfirmTipInput) (*models.Order, error)
	ListMine(ctx context.Context, params ListParams) (*ListResult, error)
	ListForKitchen(ctx context.Context, params ListParams) (*ListResult, error)
	Detail(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	AuthorizeAccess(ctx context.Context, principal realtime.Principal, orderID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	wallet    walletLedger
	carts     cartStore
	delivery  deliveryOps
	notifier  notifier
	razorpay  razorpayGateway
	stripe    stripeGateway
	publisher realtime.Publisher
	metrics   *metrics.OrderMetrics
	logg      *logger.Logger
	pricing   config.PricingConfig
}

// CreateInput describes a checkout request. The item list always comes
// from the user's cart, never from the request body.
type CreateInput struct {
	UserID          uuid.UUID
	PaymentMethod   enums.PaymentMethod
	Gateway         enums.Gateway
	DeliveryAddress string
	DeliveryLat     *float64
	DeliveryLng     *float64
}

// PaymentIntentInfo carries what the client needs to complete an online
// charge.
type PaymentIntentInfo struct {
	Gateway        enums.Gateway `json:"gateway"`
	GatewayOrderID string        `json:"gateway_order_id"`
	AmountPaise    int64         `json:"amount_paise"`
	KeyID          string        `json:"key_id,omitempty"`
	ClientSecret   string        `json:"client_secret,omitempty"`
}

// CreateResult is the created order plus, for online payments, the
// gateway handle to pay it with.
type CreateResult struct {
	Order   *models.Order      `json:"order"`
	Payment *PaymentIntentInfo `json:"payment,omitempty"`
}

// KitchenActionInput is the partner's accept/reject decision.
type KitchenActionInput struct {
	KitchenID uuid.UUID
	OrderID   uuid.UUID
	Action    string
	Reason    string
}

// ConfirmPaymentInput carries the gateway proof for an online order.
type ConfirmPaymentInput struct {
	UserID    uuid.UUID
	OrderID   uuid.UUID
	Gateway   enums.Gateway
	PaymentID string
	Signature string
	IntentID  string
}

// RateInput stores post-delivery ratings. At least one of the two
// ratings must be present.
type RateInput struct {
	UserID         uuid.UUID
	OrderID        uuid.UUID
	PartnerRating  *int
	DeliveryRating *int
	Review         *string
}

// TipInput starts a tip for the delivery agent.
type TipInput struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	AmountPaise int64
	Method      enums.Gateway
}

// TipResult is the updated order plus, for gateway tips, the charge to
// complete.
type TipResult struct {
	Order   *models.Order      `json:"order"`
	Payment *PaymentIntentInfo `json:"payment,omitempty"`
}

// ConfirmTipInput carries the gateway proof for a pending tip.
type ConfirmTipInput struct {
	UserID    uuid.UUID
	OrderID   uuid.UUID
	PaymentID string
	Signature string
}

// ListParams configures the order feed.
type ListParams struct {
	OwnerID uuid.UUID
	Status  string
	Limit   int
	Cursor  string
}

// ListResult wraps orders and the cursor for the next page.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}

// cancellableStatuses is the window in which a customer may cancel.
var cancellableStatuses = map[enums.OrderStatus]bool{
	enums.OrderStatusPlaced:    true,
	enums.OrderStatusAccepted:  true,
	enums.OrderStatusPreparing: true,
	enums.OrderStatusReady:     true,
}

// tippableStatuses is the window in which a tip may be added.
var tippableStatuses = map[enums.OrderStatus]bool{
	enums.OrderStatusOutForDelivery: true,
	enums.OrderStatusDelivered:      true,
}

// NewService wires the order dependencies. Gateways may be nil when the
// corresponding payment option is disabled.
func NewService(
	repo Repository,
	tx txRunner,
	walletSvc walletLedger,
	carts cartStore,
	delivery deliveryOps,
	notifier notifier,
	rz razorpayGateway,
	st stripeGateway,
	publisher realtime.Publisher,
	m *metrics.OrderMetrics,
	logg *logger.Logger,
	pricing config.PricingConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery service required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		wallet:    walletSvc,
		carts:     carts,
		delivery:  delivery,
		notifier:  notifier,
		razorpay:  rz,
		stripe:    st,
		publisher: publisher,
		metrics:   m,
		logg:      logg,
		pricing:   pricing,
	}, nil
}

// Create turns the user's cart into a PLACED order. Price details are
// computed once here and frozen. Wallet orders debit the ledger in the
// same transaction; online orders get a gateway charge after commit and
// stay payment PENDING until confirmed.
func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if input.DeliveryAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required")
	}

	gateway := input.Gateway
	if input.PaymentMethod == enums.PaymentMethodOnline {
		if gateway == "" {
			gateway = enums.GatewayRazorpay
		}
		if !gateway.IsExternal() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "online payment requires an external gateway")
		}
	}

	userCart, err := s.carts.Get(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if len(userCart.Items) == 0 || userCart.KitchenID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	itemTotal := userCart.TotalPaise()
	order := &models.Order{
		ID:                  uuid.New(),
		UserID:              input.UserID,
		KitchenID:           *userCart.KitchenID,
		Status:              enums.OrderStatusPlaced,
		ItemTotalPaise:      itemTotal,
		TaxPaise:            s.pricing.TaxPaise,
		DeliveryChargePaise: s.pricing.DeliveryChargePaise,
		PlatformFeePaise:    s.pricing.PlatformFeePaise,
		TotalAmountPaise:    itemTotal + s.pricing.TaxPaise + s.pricing.DeliveryChargePaise + s.pricing.PlatformFeePaise,
		PaymentMethod:       input.PaymentMethod,
		PaymentStatus:       enums.PaymentStatusPending,
		DeliveryAddress:     input.DeliveryAddress,
		DeliveryLat:         input.DeliveryLat,
		DeliveryLng:         input.DeliveryLng,
		PlacedAt:            time.Now().UTC(),
	}
	for _, item := range userCart.Items {
		order.Items = append(order.Items, models.OrderItem{
			OrderID:    order.ID,
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			PricePaise: item.PricePaise,
			Quantity:   item.Quantity,
			Addons:     item.Addons,
		})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if input.PaymentMethod == enums.PaymentMethodWallet {
			ref := order.ID
			refType := orderReferenceType
			if _, err := s.wallet.DebitTx(ctx, tx, wallet.EntryInput{
				UserID:        input.UserID,
				AmountPaise:   order.TotalAmountPaise,
				Source:        enums.WalletTxnSourceOrderPayment,
				Gateway:       enums.GatewayWallet,
				ReferenceType: &refType,
				ReferenceID:   &ref,
			}); err != nil {
				return err
			}
			walletGateway := enums.GatewayWallet
			order.PaymentStatus = enums.PaymentStatusPaid
			order.PaymentGateway = &walletGateway
		}

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.carts.ClearTx(ctx, tx, input.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPlaced()
	s.announcePlaced(ctx, order)

	result := &CreateResult{Order: order}
	if input.PaymentMethod == enums.PaymentMethodOnline {
		payment, err := s.createGatewayCharge(ctx, order, gateway)
		if err != nil {
			// The order is committed and stays PENDING; the error carries
			// the order id so the client can call RetryPayment.
			return nil, err
		}
		result.Payment = payment
	}
	return result, nil
}

// RetryPayment re-issues the gateway charge for an unpaid online order.
// Covers charges that failed after the order committed; when a charge is
// already on file the existing handle is returned instead.
func (s *service) RetryPayment(ctx context.Context, userID, orderID uuid.UUID, gateway enums.Gateway) (*CreateResult, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if order.PaymentMethod != enums.PaymentMethodOnline {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is not paid online")
	}
	if order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order payment already settled").
			WithDetails(map[string]string{"payment_status": order.PaymentStatus.String()})
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order was cancelled")
	}

	if order.GatewayOrderID != nil {
		payment, err := s.existingGatewayHandle(ctx, order)
		if err != nil {
			return nil, err
		}
		return &CreateResult{Order: order, Payment: payment}, nil
	}

	if gateway == "" {
		gateway = enums.GatewayRazorpay
		if order.PaymentGateway != nil && order.PaymentGateway.IsExternal() {
			gateway = *order.PaymentGateway
		}
	}
	if !gateway.IsExternal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "online payment requires an external gateway")
	}

	payment, err := s.createGatewayCharge(ctx, order, gateway)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Order: order, Payment: payment}, nil
}

// existingGatewayHandle rebuilds the client-side payment info for a
// charge already recorded on the order.
func (s *service) existingGatewayHandle(ctx context.Context, order *models.Order) (*PaymentIntentInfo, error) {
	if order.PaymentGateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "charge recorded without a gateway")
	}
	switch *order.PaymentGateway {
	case enums.GatewayRazorpay:
		if s.razorpay == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay not configured")
		}
		return &PaymentIntentInfo{
			Gateway:        enums.GatewayRazorpay,
			GatewayOrderID: *order.GatewayOrderID,
			AmountPaise:    order.TotalAmountPaise,
			KeyID:          s.razorpay.KeyID(),
		}, nil
	case enums.GatewayStripe:
		if s.stripe == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe not configured")
		}
		intent, err := s.stripe.RetrievePaymentIntent(ctx, *order.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		return &PaymentIntentInfo{
			Gateway:        enums.GatewayStripe,
			GatewayOrderID: intent.ID,
			AmountPaise:    order.TotalAmountPaise,
			ClientSecret:   intent.ClientSecret,
		}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "unsupported gateway on order")
	}
}

func (s *service) announcePlaced(ctx context.Context, order *models.Order) {
	if _, err := s.notifier.NotifyPartner(ctx, notifications.PartnerInput{
		KitchenID: order.KitchenID,
		Type:      enums.NotificationTypeNewOrder,
		Title:     "New order received",
		Message:   "A customer placed a new order",
		Data: map[string]any{
			"order_id":     order.ID,
			"total_paise":  order.TotalAmountPaise,
			"item_count":   len(order.Items),
			"payment_mode": order.PaymentMethod,
		},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist new order notification", err)
	}

	s.publisher.ToKitchen(order.KitchenID, realtime.Event{
		Event: realtime.EventNewOrder,
		Data:  order,
	})
	s.publisher.ToUser(order.UserID, realtime.Event{
		Event: realtime.EventOrderStatusUpdate,
		Data: map[string]any{
			"order_id": order.ID,
			"status":   order.Status,
		},
	})
}

func (s *service) createGatewayCharge(ctx context.Context, order *models.Order, gateway enums.Gateway) (*PaymentIntentInfo, error) {
	switch gateway {
	case enums.GatewayRazorpay:
		if s.razorpay == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay not configured")
		}
		gwOrder, err := s.razorpay.CreateOrder(ctx, razorpay.CreateOrderRequest{
			AmountPaise: order.TotalAmountPaise,
			Receipt:     fmt.Sprintf("order_%s", order.ID),
			Notes:       map[string]string{"order_id": order.ID.String()},
		})
		if err != nil {
			return nil, s.gatewayFailure(order, err)
		}
		if err := s.storeGatewayHandle(ctx, order, gateway, gwOrder.ID); err != nil {
			return nil, err
		}
		return &PaymentIntentInfo{
			Gateway:        gateway,
			GatewayOrderID: gwOrder.ID,
			AmountPaise:    order.TotalAmountPaise,
			KeyID:          s.razorpay.KeyID(),
		}, nil

	case enums.GatewayStripe:
		if s.stripe == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe not configured")
		}
		intent, err := s.stripe.CreatePaymentIntent(ctx, order.TotalAmountPaise, order.ID.String())
		if err != nil {
			return nil, s.gatewayFailure(order, err)
		}
		if err := s.storeGatewayHandle(ctx, order, gateway, intent.ID); err != nil {
			return nil, err
		}
		return &PaymentIntentInfo{
			Gateway:        gateway,
			GatewayOrderID: intent.ID,
			AmountPaise:    order.TotalAmountPaise,
			ClientSecret:   intent.ClientSecret,
		}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported gateway")
	}
}

func (s *service) gatewayFailure(order *models.Order, err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.WithDetails(map[string]any{"order_id": order.ID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create gateway charge").
		WithDetails(map[string]any{"order_id": order.ID})
}

func (s *service) storeGatewayHandle(ctx context.Context, order *models.Order, gateway enums.Gateway, gatewayOrderID string) error {
	if _, err := s.repo.UpdateIfPaymentStatus(ctx, order.ID, enums.PaymentStatusPending, map[string]any{
		"payment_gateway":  gateway,
		"gateway_order_id": gatewayOrderID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway order id")
	}
	order.PaymentGateway = &gateway
	order.GatewayOrderID = &gatewayOrderID
	return nil
}

// KitchenAction is the partner's decision on a PLACED order. ACCEPT
// moves straight through ACCEPTED into PREPARING and kicks off agent
// assignment; REJECT cancels with a refund when the wallet already paid.
func (s *service) KitchenAction(ctx context.Context, input KitchenActionInput) (*models.Order, error) {
	if input.KitchenID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kitchen id and order id required")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.KitchenID != input.KitchenID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another kitchen")
	}

	switch input.Action {
	case KitchenActionAccept:
		return s.accept(ctx, order)
	case KitchenActionReject:
		reason := input.Reason
		if reason == "" {
			reason = "rejected by kitchen"
		}
		return s.cancel(ctx, order, enums.OrderStatusPlaced, enums.CancelledByPartner, reason)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "action must be ACCEPT or REJECT")
	}
}

func (s *service) accept(ctx context.Context, order *models.Order) (*models.Order, error) {
	now := time.Now().UTC()
	affected, err := s.repo.UpdateIfStatus(ctx, order.ID, enums.OrderStatusPlaced, map[string]any{
		"status":      enums.OrderStatusAccepted,
		"accepted_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept order")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order is not awaiting kitchen action").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	// Kitchens start cooking on accept, so the order advances immediately.
	if _, err := s.repo.UpdateIfStatus(ctx, order.ID, enums.OrderStatusAccepted, map[string]any{
		"status":       enums.OrderStatusPreparing,
		"preparing_at": now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start preparing")
	}

	s.publisher.ToUser(order.UserID, realtime.Event{
		Event: realtime.EventOrderAccepted,
		Data: map[string]any{
			"order_id":    order.ID,
			"accepted_at": now,
		},
	})
	statusEvent := realtime.Event{
		Event: realtime.EventOrderStatusUpdate,
		Data: map[string]any{
			"order_id": order.ID,
			"status":   enums.OrderStatusPreparing,
		},
	}
	s.publisher.ToUser(order.UserID, statusEvent)
	s.publisher.ToOrder(order.ID, statusEvent)

	// Assignment is best-effort; the order waits if no agent is free.
	if _, err := s.delivery.Assign(ctx, order.ID); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "assign delivery agent", err)
	}

	return s.loadOrder(ctx, order.ID)
}

// MarkReady moves a PREPARING order to READY.
func (s *service) MarkReady(ctx context.Context, kitchenID, orderID uuid.UUID) (*models.Order, error) {
	if kitchenID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kitchen id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.KitchenID != kitchenID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another kitchen")
	}

	now := time.Now().UTC()
	affected, err := s.repo.UpdateIfStatus(ctx, orderID, enums.OrderStatusPreparing, map[string]any{
		"status":   enums.OrderStatusReady,
		"ready_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order ready")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order is not being prepared").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	statusEvent := realtime.Event{
		Event: realtime.EventOrderStatusUpdate,
		Data: map[string]any{
			"order_id": orderID,
			"status":   enums.OrderStatusReady,
		},
	}
	s.publisher.ToUser(order.UserID, statusEvent)
	s.publisher.ToOrder(orderID, statusEvent)

	return s.loadOrder(ctx, orderID)
}

// Cancel lets the customer abort before pickup.
func (s *service) Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if !cancellableStatuses[order.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order can no longer be cancelled").
			WithDetails(map[string]string{"status": order.Status.String()})
	}
	if reason == "" {
		reason = "cancelled by customer"
	}

	cancelled, err := s.cancel(ctx, order, order.Status, enums.CancelledByUser, reason)
	if err != nil {
		return nil, err
	}

	if _, err := s.notifier.NotifyPartner(ctx, notifications.PartnerInput{
		KitchenID: order.KitchenID,
		Type:      enums.NotificationTypeOrderCancelled,
		Title:     "Order cancelled",
		Message:   "The customer cancelled the order",
		Data: map[string]any{
			"order_id": order.ID,
			"reason":   reason,
		},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist cancellation notification", err)
	}
	return cancelled, nil
}

// cancel terminates the order from the expected status. Wallet-paid
// orders are refunded in the same transaction; the conditional payment
// update guarantees at most one refund.
func (s *service) cancel(ctx context.Context, order *models.Order, expected enums.OrderStatus, by enums.CancelledBy, reason string) (*models.Order, error) {
	now := time.Now().UTC()
	refunded := false

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		affected, err := repo.UpdateIfStatus(ctx, order.ID, expected, map[string]any{
			"status":              enums.OrderStatusCancelled,
			"cancelled_at":        now,
			"cancelled_by":        by,
			"cancellation_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order status changed").
				WithDetails(map[string]string{"expected": expected.String()})
		}

		if order.PaymentMethod == enums.PaymentMethodWallet && order.PaymentStatus == enums.PaymentStatusPaid {
			changed, err := repo.UpdateIfPaymentStatus(ctx, order.ID, enums.PaymentStatusPaid, map[string]any{
				"payment_status": enums.PaymentStatusRefunded,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
			}
			if changed > 0 {
				ref := order.ID
				refType := orderReferenceType
				if _, err := s.wallet.CreditTx(ctx, tx, wallet.EntryInput{
					UserID:        order.UserID,
					AmountPaise:   order.TotalAmountPaise,
					Source:        enums.WalletTxnSourceOrderRefund,
					Gateway:       enums.GatewayWallet,
					ReferenceType: &refType,
					ReferenceID:   &ref,
				}); err != nil {
					return err
				}
				refunded = true
			}
		}

		if order.DeliveryAgentID != nil {
			if err := s.delivery.ReleaseAgentTx(ctx, tx, *order.DeliveryAgentID, order.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCancelled(string(by))

	cancelEvent := realtime.Event{
		Event: realtime.EventOrderCancelled,
		Data: map[string]any{
			"order_id":     order.ID,
			"cancelled_by": by,
			"reason":       reason,
		},
	}
	s.publisher.ToUser(order.UserID, cancelEvent)
	s.publisher.ToKitchen(order.KitchenID, cancelEvent)
	s.publisher.ToOrder(order.ID, cancelEvent)

	if refunded {
		s.publisher.ToUser(order.UserID, realtime.Event{
			Event: realtime.EventWalletRefunded,
			Data: map[string]any{
				"order_id":     order.ID,
				"amount_paise": order.TotalAmountPaise,
			},
		})
	}

	return s.loadOrder(ctx, order.ID)
}

// ConfirmPayment verifies gateway proof and marks the order PAID exactly
// once. Replays return the already paid order.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*models.Order, error) {
	if input.UserID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return order, nil
	}
	if order.PaymentMethod != enums.PaymentMethodOnline {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is not paid online")
	}
	if order.GatewayOrderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodePaymentVerification, "no gateway charge recorded for this order")
	}

	paymentID, err := s.verifyProof(ctx, *order.GatewayOrderID, input.Gateway, input.PaymentID, input.Signature, input.IntentID)
	if err != nil {
		return nil, err
	}

	affected, err := s.repo.UpdateIfPaymentStatus(ctx, order.ID, enums.PaymentStatusPending, map[string]any{
		"payment_status":     enums.PaymentStatusPaid,
		"gateway_payment_id": paymentID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	if affected == 0 {
		// A concurrent confirm won; reload and report the settled state.
		current, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == enums.PaymentStatusPaid {
			return current, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment state changed").
			WithDetails(map[string]string{"payment_status": current.PaymentStatus.String()})
	}

	successEvent := realtime.Event{
		Event: realtime.EventPaymentSuccess,
		Data: map[string]any{
			"order_id":     order.ID,
			"amount_paise": order.TotalAmountPaise,
		},
	}
	s.publisher.ToUser(order.UserID, successEvent)
	s.publisher.ToOrder(order.ID, successEvent)

	return s.loadOrder(ctx, order.ID)
}

// verifyProof checks the gateway-specific payment proof and returns the
// gateway payment id to store.
func (s *service) verifyProof(ctx context.Context, gatewayOrderID string, gateway enums.Gateway, paymentID, signature, intentID string) (string, error) {
	switch gateway {
	case enums.GatewayRazorpay:
		if s.razorpay == nil {
			return "", pkgerrors.New(pkgerrors.CodeDependency, "razorpay not configured")
		}
		if paymentID == "" || signature == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "payment id and signature required")
		}
		if !s.razorpay.VerifyPaymentSignature(gatewayOrderID, paymentID, signature) {
			return "", pkgerrors.New(pkgerrors.CodePaymentVerification, "payment signature mismatch")
		}
		return paymentID, nil

	case enums.GatewayStripe:
		if s.stripe == nil {
			return "", pkgerrors.New(pkgerrors.CodeDependency, "stripe not configured")
		}
		if intentID == "" {
			intentID = gatewayOrderID
		}
		if intentID != gatewayOrderID {
			return "", pkgerrors.New(pkgerrors.CodePaymentVerification, "intent does not match this charge")
		}
		intent, err := s.stripe.RetrievePaymentIntent(ctx, intentID)
		if err != nil {
			return "", err
		}
		if intent.Status != stripeapi.PaymentIntentStatusSucceeded {
			return "", pkgerrors.New(pkgerrors.CodePaymentVerification, "payment intent has not succeeded").
				WithDetails(map[string]string{"intent_status": string(intent.Status)})
		}
		return intent.ID, nil

	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported gateway")
	}
}

// Rate stores ratings for a delivered order, once. A delivery rating
// also folds into the agent's running average.
func (s *service) Rate(ctx context.Context, input RateInput) (*models.Order, error) {
	if input.UserID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	if input.PartnerRating == nil && input.DeliveryRating == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one rating required")
	}
	for _, rating := range []*int{input.PartnerRating, input.DeliveryRating} {
		if rating != nil && (*rating < 1 || *rating > 5) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
		}
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "only delivered orders can be rated").
			WithDetails(map[string]string{"status": order.Status.String()})
	}
	if order.PartnerRating != nil || order.DeliveryRating != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
	}

	updates := map[string]any{}
	if input.PartnerRating != nil {
		updates["partner_rating"] = *input.PartnerRating
	}
	if input.DeliveryRating != nil {
		updates["delivery_rating"] = *input.DeliveryRating
	}
	if input.Review != nil {
		updates["review"] = *input.Review
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).UpdateIfStatus(ctx, order.ID, enums.OrderStatusDelivered, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store rating")
		}
		if input.DeliveryRating != nil && order.DeliveryAgentID != nil {
			return s.delivery.ApplyRatingTx(ctx, tx, *order.DeliveryAgentID, *input.DeliveryRating)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, order.ID)
}

// AddTip starts a tip during or after delivery. Wallet tips settle
// immediately; gateway tips stay PENDING until ConfirmTip.
func (s *service) AddTip(ctx context.Context, input TipInput) (*TipResult, error) {
	if input.UserID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	if input.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tip amount must be positive")
	}
	switch input.Method {
	case enums.GatewayWallet, enums.GatewayRazorpay, enums.GatewayStripe:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported tip payment method")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if !tippableStatuses[order.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "tips are only accepted during or after delivery").
			WithDetails(map[string]string{"status": order.Status.String()})
	}
	if order.TipPaymentStatus != nil && *order.TipPaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "tip already paid")
	}

	now := time.Now().UTC()
	switch input.Method {
	case enums.GatewayWallet:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			affected, err := s.repo.WithTx(tx).UpdateTipIfUnpaid(ctx, order.ID, map[string]any{
				"tip_amount_paise":   input.AmountPaise,
				"tip_payment_method": enums.GatewayWallet,
				"tip_payment_status": enums.PaymentStatusPaid,
				"tipped_at":          now,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tip")
			}
			if affected == 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "tip already paid")
			}

			ref := order.ID
			refType := orderReferenceType
			if _, err := s.wallet.DebitTx(ctx, tx, wallet.EntryInput{
				UserID:        input.UserID,
				AmountPaise:   input.AmountPaise,
				Source:        enums.WalletTxnSourceTip,
				Gateway:       enums.GatewayWallet,
				ReferenceType: &refType,
				ReferenceID:   &ref,
			}); err != nil {
				return err
			}

			if order.DeliveryAgentID != nil {
				return s.delivery.CreditEarningsTx(ctx, tx, *order.DeliveryAgentID, input.AmountPaise)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.announceTip(ctx, order, input.AmountPaise)

		updated, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &TipResult{Order: updated}, nil

	case enums.GatewayRazorpay:
		if s.razorpay == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay not configured")
		}
		gwOrder, err := s.razorpay.CreateOrder(ctx, razorpay.CreateOrderRequest{
			AmountPaise: input.AmountPaise,
			Receipt:     fmt.Sprintf("tip_%s", order.ID),
			Notes:       map[string]string{"order_id": order.ID.String(), "purpose": "tip"},
		})
		if err != nil {
			return nil, s.gatewayFailure(order, err)
		}
		if err := s.storePendingTip(ctx, order.ID, input.AmountPaise, enums.GatewayRazorpay, gwOrder.ID, now); err != nil {
			return nil, err
		}
		updated, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &TipResult{
			Order: updated,
			Payment: &PaymentIntentInfo{
				Gateway:        enums.GatewayRazorpay,
				GatewayOrderID: gwOrder.ID,
				AmountPaise:    input.AmountPaise,
				KeyID:          s.razorpay.KeyID(),
			},
		}, nil

	default: // enums.GatewayStripe
		if s.stripe == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe not configured")
		}
		intent, err := s.stripe.CreatePaymentIntent(ctx, input.AmountPaise, fmt.Sprintf("tip_%s", order.ID))
		if err != nil {
			return nil, s.gatewayFailure(order, err)
		}
		if err := s.storePendingTip(ctx, order.ID, input.AmountPaise, enums.GatewayStripe, intent.ID, now); err != nil {
			return nil, err
		}
		updated, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &TipResult{
			Order: updated,
			Payment: &PaymentIntentInfo{
				Gateway:        enums.GatewayStripe,
				GatewayOrderID: intent.ID,
				AmountPaise:    input.AmountPaise,
				ClientSecret:   intent.ClientSecret,
			},
		}, nil
	}
}

func (s *service) storePendingTip(ctx context.Context, orderID uuid.UUID, amountPaise int64, gateway enums.Gateway, gatewayOrderID string, now time.Time) error {
	affected, err := s.repo.UpdateTipIfUnpaid(ctx, orderID, map[string]any{
		"tip_amount_paise":     amountPaise,
		"tip_payment_method":   gateway,
		"tip_payment_status":   enums.PaymentStatusPending,
		"tip_gateway_order_id": gatewayOrderID,
		"tipped_at":            now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pending tip")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "tip already paid")
	}
	return nil
}

// ConfirmTip verifies gateway proof for a pending tip and settles it.
func (s *service) ConfirmTip(ctx context.Context, input ConfirmTipInput) (*models.Order, error) {
	if input.UserID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if order.TipPaymentStatus == nil || order.TipGatewayOrderID == nil || order.TipPaymentMethod == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "no pending tip on this order")
	}
	if *order.TipPaymentStatus == enums.PaymentStatusPaid {
		return order, nil
	}

	paymentID, err := s.verifyProof(ctx, *order.TipGatewayOrderID, *order.TipPaymentMethod, input.PaymentID, input.Signature, *order.TipGatewayOrderID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).UpdateTipIfStatus(ctx, order.ID, enums.PaymentStatusPending, map[string]any{
			"tip_payment_status":     enums.PaymentStatusPaid,
			"tip_gateway_payment_id": paymentID,
			"tipped_at":              time.Now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle tip")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "tip state changed")
		}
		if order.DeliveryAgentID != nil {
			return s.delivery.CreditEarningsTx(ctx, tx, *order.DeliveryAgentID, order.TipAmountPaise)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announceTip(ctx, order, order.TipAmountPaise)
	return s.loadOrder(ctx, order.ID)
}

func (s *service) announceTip(ctx context.Context, order *models.Order, amountPaise int64) {
	if order.DeliveryAgentID == nil {
		return
	}
	if _, err := s.notifier.NotifyAgent(ctx, notifications.AgentInput{
		AgentID: *order.DeliveryAgentID,
		Type:    enums.NotificationTypeSystem,
		Title:   "Tip received",
		Message: "The customer left you a tip",
		Data: map[string]any{
			"order_id":     order.ID,
			"amount_paise": amountPaise,
		},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist tip notification", err)
	}
}

func (s *service) ListMine(ctx context.Context, params ListParams) (*ListResult, error) {
	query, err := buildListParams(params)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return wrapList(rows, next), nil
}

func (s *service) ListForKitchen(ctx context.Context, params ListParams) (*ListResult, error) {
	query, err := buildListParams(params)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListByKitchen(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list kitchen orders")
	}
	return wrapList(rows, next), nil
}

func (s *service) Detail(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// AuthorizeAccess decides whether the principal may watch this order's
// room: the owning customer, the fulfilling kitchen, or the bound agent.
func (s *service) AuthorizeAccess(ctx context.Context, principal realtime.Principal, orderID uuid.UUID) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch principal.Role {
	case enums.ActorRoleCustomer:
		if order.UserID == principal.UserID {
			return nil
		}
	case enums.ActorRolePartner:
		if principal.KitchenID != nil && *principal.KitchenID == order.KitchenID {
			return nil
		}
	case enums.ActorRoleDeliveryAgent:
		if principal.AgentID != nil && order.DeliveryAgentID != nil && *principal.AgentID == *order.DeliveryAgentID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "no access to this order")
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func buildListParams(params ListParams) (listParams, error) {
	if params.OwnerID == uuid.Nil {
		return listParams{}, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	query := listParams{
		OwnerID: params.OwnerID,
		Limit:   params.Limit,
	}
	if params.Status != "" {
		status, err := enums.ParseOrderStatus(params.Status)
		if err != nil {
			return listParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return listParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	return query, nil
}

func wrapList(rows []models.Order, next *pagination.Cursor) *ListResult {
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}
}
