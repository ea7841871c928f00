package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/notifications"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/internal/wallet"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/razorpay"
)

// memOrdersRepo mirrors the conditional-update semantics of the SQL
// repository so state machine races can be asserted in memory.
type memOrdersRepo struct {
	orders map[uuid.UUID]*models.Order
}

func newMemOrdersRepo() *memOrdersRepo {
	return &memOrdersRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (m *memOrdersRepo) WithTx(tx *gorm.DB) Repository { return m }

func (m *memOrdersRepo) Create(ctx context.Context, order *models.Order) error {
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memOrdersRepo) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memOrdersRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	for _, order := range m.orders {
		if order.GatewayOrderID != nil && *order.GatewayOrderID == gatewayOrderID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memOrdersRepo) UpdateIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.Status != expected {
		return 0, nil
	}
	applyOrderUpdates(order, updates)
	return 1, nil
}

func (m *memOrdersRepo) UpdateIfPaymentStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.PaymentStatus != expected {
		return 0, nil
	}
	applyOrderUpdates(order, updates)
	return 1, nil
}

func (m *memOrdersRepo) UpdateTipIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.TipPaymentStatus == nil || *order.TipPaymentStatus != expected {
		return 0, nil
	}
	applyOrderUpdates(order, updates)
	return 1, nil
}

func (m *memOrdersRepo) UpdateTipIfUnpaid(ctx context.Context, orderID uuid.UUID, updates map[string]any) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return 0, nil
	}
	if order.TipPaymentStatus != nil && *order.TipPaymentStatus == enums.PaymentStatusPaid {
		return 0, nil
	}
	applyOrderUpdates(order, updates)
	return 1, nil
}

func (m *memOrdersRepo) ListByUser(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error) {
	var rows []models.Order
	for _, order := range m.orders {
		if order.UserID != params.OwnerID {
			continue
		}
		if params.Status != nil && order.Status != *params.Status {
			continue
		}
		rows = append(rows, *order)
	}
	return rows, nil, nil
}

func (m *memOrdersRepo) ListByKitchen(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error) {
	var rows []models.Order
	for _, order := range m.orders {
		if order.KitchenID == params.OwnerID {
			rows = append(rows, *order)
		}
	}
	return rows, nil, nil
}

func applyOrderUpdates(order *models.Order, updates map[string]any) {
	for column, value := range updates {
		switch column {
		case "status":
			order.Status = value.(enums.OrderStatus)
		case "accepted_at":
			t := value.(time.Time)
			order.AcceptedAt = &t
		case "preparing_at":
			t := value.(time.Time)
			order.PreparingAt = &t
		case "ready_at":
			t := value.(time.Time)
			order.ReadyAt = &t
		case "cancelled_at":
			t := value.(time.Time)
			order.CancelledAt = &t
		case "cancelled_by":
			v := value.(enums.CancelledBy)
			order.CancelledBy = &v
		case "cancellation_reason":
			v := value.(string)
			order.CancellationReason = &v
		case "payment_status":
			order.PaymentStatus = value.(enums.PaymentStatus)
		case "payment_gateway":
			g := value.(enums.Gateway)
			order.PaymentGateway = &g
		case "gateway_order_id":
			v := value.(string)
			order.GatewayOrderID = &v
		case "gateway_payment_id":
			v := value.(string)
			order.GatewayPaymentID = &v
		case "partner_rating":
			v := value.(int)
			order.PartnerRating = &v
		case "delivery_rating":
			v := value.(int)
			order.DeliveryRating = &v
		case "review":
			v := value.(string)
			order.Review = &v
		case "tip_amount_paise":
			order.TipAmountPaise = value.(int64)
		case "tip_payment_method":
			g := value.(enums.Gateway)
			order.TipPaymentMethod = &g
		case "tip_payment_status":
			p := value.(enums.PaymentStatus)
			order.TipPaymentStatus = &p
		case "tip_gateway_order_id":
			v := value.(string)
			order.TipGatewayOrderID = &v
		case "tip_gateway_payment_id":
			v := value.(string)
			order.TipGatewayPaymentID = &v
		case "tipped_at":
			t := value.(time.Time)
			order.TippedAt = &t
		}
	}
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type ledgerEntry struct {
	Type        enums.WalletTxnType
	Source      enums.WalletTxnSource
	AmountPaise int64
}

type stubWallet struct {
	balances map[uuid.UUID]int64
	entries  []ledgerEntry
}

func newStubWallet() *stubWallet {
	return &stubWallet{balances: make(map[uuid.UUID]int64)}
}

func (s *stubWallet) DebitTx(ctx context.Context, tx *gorm.DB, input wallet.EntryInput) (*models.WalletTransaction, error) {
	balance := s.balances[input.UserID]
	if balance < input.AmountPaise {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet balance too low")
	}
	s.balances[input.UserID] = balance - input.AmountPaise
	s.entries = append(s.entries, ledgerEntry{enums.WalletTxnTypeDebit, input.Source, input.AmountPaise})
	return &models.WalletTransaction{UserID: input.UserID, AmountPaise: input.AmountPaise}, nil
}

func (s *stubWallet) CreditTx(ctx context.Context, tx *gorm.DB, input wallet.EntryInput) (*models.WalletTransaction, error) {
	s.balances[input.UserID] += input.AmountPaise
	s.entries = append(s.entries, ledgerEntry{enums.WalletTxnTypeCredit, input.Source, input.AmountPaise})
	return &models.WalletTransaction{UserID: input.UserID, AmountPaise: input.AmountPaise}, nil
}

type stubCarts struct {
	carts map[uuid.UUID]*models.Cart
}

func newStubCarts() *stubCarts {
	return &stubCarts{carts: make(map[uuid.UUID]*models.Cart)}
}

func (s *stubCarts) Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if cart, ok := s.carts[userID]; ok {
		return cart, nil
	}
	return &models.Cart{UserID: userID}, nil
}

func (s *stubCarts) ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if cart, ok := s.carts[userID]; ok {
		cart.Items = nil
		cart.KitchenID = nil
	}
	return nil
}

type stubDelivery struct {
	assigned []uuid.UUID
	ratings  []int
	earnings []int64
	released []uuid.UUID
}

func (s *stubDelivery) Assign(ctx context.Context, orderID uuid.UUID) (bool, error) {
	s.assigned = append(s.assigned, orderID)
	return true, nil
}

func (s *stubDelivery) ApplyRatingTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, rating int) error {
	s.ratings = append(s.ratings, rating)
	return nil
}

func (s *stubDelivery) CreditEarningsTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, amountPaise int64) error {
	s.earnings = append(s.earnings, amountPaise)
	return nil
}

func (s *stubDelivery) ReleaseAgentTx(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID) error {
	s.released = append(s.released, agentID)
	return nil
}

type stubNotifier struct {
	partnerInputs []notifications.PartnerInput
	agentInputs   []notifications.AgentInput
}

func (s *stubNotifier) NotifyPartner(ctx context.Context, input notifications.PartnerInput) (*models.PartnerNotification, error) {
	s.partnerInputs = append(s.partnerInputs, input)
	return &models.PartnerNotification{}, nil
}

func (s *stubNotifier) NotifyAgent(ctx context.Context, input notifications.AgentInput) (*models.DeliveryNotification, error) {
	s.agentInputs = append(s.agentInputs, input)
	return &models.DeliveryNotification{}, nil
}

type recordingPublisher struct {
	events []realtime.Event
}

func (r *recordingPublisher) ToUser(_ uuid.UUID, e realtime.Event)    { r.events = append(r.events, e) }
func (r *recordingPublisher) ToKitchen(_ uuid.UUID, e realtime.Event) { r.events = append(r.events, e) }
func (r *recordingPublisher) ToAgent(_ uuid.UUID, e realtime.Event)   { r.events = append(r.events, e) }
func (r *recordingPublisher) ToOrder(_ uuid.UUID, e realtime.Event)   { r.events = append(r.events, e) }

func (r *recordingPublisher) names() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type fakeRazorpay struct {
	createFn func(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error)
	verifyFn func(gatewayOrderID, paymentID, signature string) bool
}

func (f *fakeRazorpay) CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &razorpay.GatewayOrder{ID: "order_rzp_1", AmountPaise: req.AmountPaise, Currency: "INR", Status: "created"}, nil
}

func (f *fakeRazorpay) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	if f.verifyFn != nil {
		return f.verifyFn(gatewayOrderID, paymentID, signature)
	}
	return true
}

func (f *fakeRazorpay) KeyID() string { return "rzp_test_key" }

type fakeStripe struct {
	createFn   func(ctx context.Context, amountPaise int64, referenceID string) (*stripeapi.PaymentIntent, error)
	retrieveFn func(ctx context.Context, intentID string) (*stripeapi.PaymentIntent, error)
}

func (f *fakeStripe) CreatePaymentIntent(ctx context.Context, amountPaise int64, referenceID string) (*stripeapi.PaymentIntent, error) {
	if f.createFn != nil {
		return f.createFn(ctx, amountPaise, referenceID)
	}
	return &stripeapi.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: stripeapi.PaymentIntentStatusRequiresPaymentMethod}, nil
}

func (f *fakeStripe) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripeapi.PaymentIntent, error) {
	if f.retrieveFn != nil {
		return f.retrieveFn(ctx, intentID)
	}
	return &stripeapi.PaymentIntent{ID: intentID, Status: stripeapi.PaymentIntentStatusSucceeded}, nil
}

type orderFixture struct {
	svc       Service
	repo      *memOrdersRepo
	wallet    *stubWallet
	carts     *stubCarts
	delivery  *stubDelivery
	notifier  *stubNotifier
	publisher *recordingPublisher
	razorpay  *fakeRazorpay
	stripe    *fakeStripe
}

func newOrderFixture(t *testing.T, pricing config.PricingConfig) *orderFixture {
	t.Helper()
	f := &orderFixture{
		repo:      newMemOrdersRepo(),
		wallet:    newStubWallet(),
		carts:     newStubCarts(),
		delivery:  &stubDelivery{},
		notifier:  &stubNotifier{},
		publisher: &recordingPublisher{},
		razorpay:  &fakeRazorpay{},
		stripe:    &fakeStripe{},
	}
	svc, err := NewService(
		f.repo,
		fakeTxRunner{},
		f.wallet,
		f.carts,
		f.delivery,
		f.notifier,
		f.razorpay,
		f.stripe,
		f.publisher,
		metrics.NewOrderMetrics(nil),
		nil,
		pricing,
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *orderFixture) seedCart(userID, kitchenID uuid.UUID, pricePaise int64, quantity int) {
	f.carts.carts[userID] = &models.Cart{
		ID:        uuid.New(),
		UserID:    userID,
		KitchenID: &kitchenID,
		Items: []models.CartItem{{
			ID:         uuid.New(),
			MenuItemID: uuid.New(),
			Name:       "Paneer Tikka",
			PricePaise: pricePaise,
			Quantity:   quantity,
		}},
	}
}

func (f *orderFixture) seedOrder(status enums.OrderStatus, method enums.PaymentMethod, paymentStatus enums.PaymentStatus) *models.Order {
	order := &models.Order{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		KitchenID:        uuid.New(),
		Status:           status,
		ItemTotalPaise:   8000,
		TotalAmountPaise: 8000,
		PaymentMethod:    method,
		PaymentStatus:    paymentStatus,
		PlacedAt:         time.Now().UTC(),
	}
	f.repo.orders[order.ID] = order
	return order
}

func TestCreateWalletOrderDebitsAndClearsCart(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	userID, kitchenID := uuid.New(), uuid.New()
	f.wallet.balances[userID] = 10000
	f.seedCart(userID, kitchenID, 8000, 1)

	result, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodWallet,
		DeliveryAddress: "12 MG Road",
	})
	require.NoError(t, err)

	order := result.Order
	assert.Equal(t, enums.OrderStatusPlaced, order.Status)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.EqualValues(t, 8000, order.TotalAmountPaise)

	assert.EqualValues(t, 2000, f.wallet.balances[userID])
	require.Len(t, f.wallet.entries, 1)
	assert.Equal(t, enums.WalletTxnTypeDebit, f.wallet.entries[0].Type)
	assert.Equal(t, enums.WalletTxnSourceOrderPayment, f.wallet.entries[0].Source)
	assert.EqualValues(t, 8000, f.wallet.entries[0].AmountPaise)

	assert.Empty(t, f.carts.carts[userID].Items)
	assert.Contains(t, f.publisher.names(), realtime.EventNewOrder)
	require.Len(t, f.notifier.partnerInputs, 1)
	assert.Equal(t, enums.NotificationTypeNewOrder, f.notifier.partnerInputs[0].Type)
}

func TestCreateFreezesPriceDetails(t *testing.T) {
	pricing := config.PricingConfig{TaxPaise: 500, DeliveryChargePaise: 3000, PlatformFeePaise: 200}
	f := newOrderFixture(t, pricing)
	userID, kitchenID := uuid.New(), uuid.New()
	f.seedCart(userID, kitchenID, 24900, 2)

	result, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodCOD,
		DeliveryAddress: "12 MG Road",
	})
	require.NoError(t, err)

	order := result.Order
	assert.EqualValues(t, 49800, order.ItemTotalPaise)
	assert.EqualValues(t, 500, order.TaxPaise)
	assert.EqualValues(t, 3000, order.DeliveryChargePaise)
	assert.EqualValues(t, 200, order.PlatformFeePaise)
	assert.EqualValues(t, 53500, order.TotalAmountPaise)
	require.Len(t, order.Items, 1)
	assert.EqualValues(t, 24900, order.Items[0].PricePaise)
}

func TestCreateInsufficientBalanceLeavesNoOrder(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	userID, kitchenID := uuid.New(), uuid.New()
	f.wallet.balances[userID] = 500
	f.seedCart(userID, kitchenID, 8000, 1)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodWallet,
		DeliveryAddress: "12 MG Road",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.wallet.entries)
	assert.NotEmpty(t, f.carts.carts[userID].Items)
}

func TestCreateEmptyCartRejected(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          uuid.New(),
		PaymentMethod:   enums.PaymentMethodCOD,
		DeliveryAddress: "12 MG Road",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateOnlineStoresGatewayHandle(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	userID, kitchenID := uuid.New(), uuid.New()
	f.seedCart(userID, kitchenID, 8000, 1)

	result, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodOnline,
		DeliveryAddress: "12 MG Road",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, enums.GatewayRazorpay, result.Payment.Gateway)
	assert.Equal(t, "order_rzp_1", result.Payment.GatewayOrderID)
	assert.Equal(t, "rzp_test_key", result.Payment.KeyID)

	stored := f.repo.orders[result.Order.ID]
	require.NotNil(t, stored.GatewayOrderID)
	assert.Equal(t, "order_rzp_1", *stored.GatewayOrderID)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestCreateOnlineGatewayFailureKeepsOrderPending(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	f.razorpay.createFn = func(context.Context, razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error) {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway down")
	}
	userID, kitchenID := uuid.New(), uuid.New()
	f.seedCart(userID, kitchenID, 8000, 1)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodOnline,
		DeliveryAddress: "12 MG Road",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	require.Len(t, f.repo.orders, 1)
	for _, order := range f.repo.orders {
		assert.Equal(t, enums.OrderStatusPlaced, order.Status)
		assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	}
}

func TestRetryPaymentAfterGatewayFailure(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	f.razorpay.createFn = func(context.Context, razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error) {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway down")
	}
	userID, kitchenID := uuid.New(), uuid.New()
	f.seedCart(userID, kitchenID, 8000, 1)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		PaymentMethod:   enums.PaymentMethodOnline,
		DeliveryAddress: "12 MG Road",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	var orderID uuid.UUID
	for id := range f.repo.orders {
		orderID = id
	}

	f.razorpay.createFn = nil
	result, err := f.svc.RetryPayment(context.Background(), userID, orderID, "")
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "order_rzp_1", result.Payment.GatewayOrderID)

	stored := f.repo.orders[orderID]
	require.NotNil(t, stored.GatewayOrderID)
	assert.Equal(t, "order_rzp_1", *stored.GatewayOrderID)

	updated, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{
		UserID:    userID,
		OrderID:   orderID,
		Gateway:   enums.GatewayRazorpay,
		PaymentID: "pay_1",
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
}

func TestRetryPaymentReusesExistingCharge(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	calls := 0
	f.razorpay.createFn = func(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.GatewayOrder, error) {
		calls++
		return &razorpay.GatewayOrder{ID: "order_rzp_9", AmountPaise: req.AmountPaise}, nil
	}
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodOnline, enums.PaymentStatusPending)
	gw := enums.GatewayRazorpay
	handle := "order_rzp_existing"
	f.repo.orders[order.ID].PaymentGateway = &gw
	f.repo.orders[order.ID].GatewayOrderID = &handle

	result, err := f.svc.RetryPayment(context.Background(), order.UserID, order.ID, "")
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "order_rzp_existing", result.Payment.GatewayOrderID)
	assert.Zero(t, calls)
}

func TestRetryPaymentSettledOrderConflict(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodOnline, enums.PaymentStatusPaid)

	_, err := f.svc.RetryPayment(context.Background(), order.UserID, order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestKitchenAcceptAdvancesToPreparing(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	updated, err := f.svc.KitchenAction(context.Background(), KitchenActionInput{
		KitchenID: order.KitchenID,
		OrderID:   order.ID,
		Action:    KitchenActionAccept,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPreparing, updated.Status)
	assert.NotNil(t, updated.AcceptedAt)
	assert.NotNil(t, updated.PreparingAt)
	assert.Contains(t, f.publisher.names(), realtime.EventOrderAccepted)
	require.Len(t, f.delivery.assigned, 1)
	assert.Equal(t, order.ID, f.delivery.assigned[0])
}

func TestKitchenActionWrongKitchen(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	_, err := f.svc.KitchenAction(context.Background(), KitchenActionInput{
		KitchenID: uuid.New(),
		OrderID:   order.ID,
		Action:    KitchenActionAccept,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestKitchenAcceptFromNonPlacedRejected(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPreparing, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	_, err := f.svc.KitchenAction(context.Background(), KitchenActionInput{
		KitchenID: order.KitchenID,
		OrderID:   order.ID,
		Action:    KitchenActionAccept,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestKitchenRejectRefundsWalletOrder(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodWallet, enums.PaymentStatusPaid)

	updated, err := f.svc.KitchenAction(context.Background(), KitchenActionInput{
		KitchenID: order.KitchenID,
		OrderID:   order.ID,
		Action:    KitchenActionReject,
		Reason:    "out of stock",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledBy)
	assert.Equal(t, enums.CancelledByPartner, *updated.CancelledBy)
	assert.Equal(t, enums.PaymentStatusRefunded, updated.PaymentStatus)

	require.Len(t, f.wallet.entries, 1)
	assert.Equal(t, enums.WalletTxnTypeCredit, f.wallet.entries[0].Type)
	assert.Equal(t, enums.WalletTxnSourceOrderRefund, f.wallet.entries[0].Source)
	assert.EqualValues(t, 8000, f.wallet.entries[0].AmountPaise)
	assert.Contains(t, f.publisher.names(), realtime.EventWalletRefunded)
	assert.Contains(t, f.publisher.names(), realtime.EventOrderCancelled)
}

func TestCustomerCancelFromReadyReleasesAgent(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusReady, enums.PaymentMethodCOD, enums.PaymentStatusPending)
	agentID := uuid.New()
	order.DeliveryAgentID = &agentID

	updated, err := f.svc.Cancel(context.Background(), order.UserID, order.ID, "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledBy)
	assert.Equal(t, enums.CancelledByUser, *updated.CancelledBy)
	require.Len(t, f.delivery.released, 1)
	assert.Equal(t, agentID, f.delivery.released[0])
	require.Len(t, f.notifier.partnerInputs, 1)
	assert.Equal(t, enums.NotificationTypeOrderCancelled, f.notifier.partnerInputs[0].Type)
}

func TestCancelAfterPickupRejected(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusOutForDelivery, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	_, err := f.svc.Cancel(context.Background(), order.UserID, order.ID, "too late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)

	_, err := f.svc.Cancel(context.Background(), order.UserID, order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodOnline, enums.PaymentStatusPending)
	gwOrderID := "order_rzp_9"
	f.repo.orders[order.ID].GatewayOrderID = &gwOrderID

	input := ConfirmPaymentInput{
		UserID:    order.UserID,
		OrderID:   order.ID,
		Gateway:   enums.GatewayRazorpay,
		PaymentID: "pay_1",
		Signature: "sig",
	}
	first, err := f.svc.ConfirmPayment(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, first.PaymentStatus)
	require.NotNil(t, first.GatewayPaymentID)
	assert.Equal(t, "pay_1", *first.GatewayPaymentID)
	assert.Contains(t, f.publisher.names(), realtime.EventPaymentSuccess)

	events := len(f.publisher.events)
	again, err := f.svc.ConfirmPayment(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, again.PaymentStatus)
	assert.Len(t, f.publisher.events, events)
}

func TestConfirmPaymentBadSignature(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	f.razorpay.verifyFn = func(string, string, string) bool { return false }
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodOnline, enums.PaymentStatusPending)
	gwOrderID := "order_rzp_9"
	f.repo.orders[order.ID].GatewayOrderID = &gwOrderID

	_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{
		UserID:    order.UserID,
		OrderID:   order.ID,
		Gateway:   enums.GatewayRazorpay,
		PaymentID: "pay_1",
		Signature: "forged",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentVerification))
	assert.Equal(t, enums.PaymentStatusPending, f.repo.orders[order.ID].PaymentStatus)
}

func TestConfirmPaymentStripeIntentState(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	f.stripe.retrieveFn = func(ctx context.Context, intentID string) (*stripeapi.PaymentIntent, error) {
		return &stripeapi.PaymentIntent{ID: intentID, Status: stripeapi.PaymentIntentStatusRequiresPaymentMethod}, nil
	}
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodOnline, enums.PaymentStatusPending)
	intentID := "pi_42"
	f.repo.orders[order.ID].GatewayOrderID = &intentID

	_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{
		UserID:   order.UserID,
		OrderID:  order.ID,
		Gateway:  enums.GatewayStripe,
		IntentID: intentID,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentVerification))
}

func TestRateDeliveredOrderUpdatesAgentAverage(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)
	agentID := uuid.New()
	order.DeliveryAgentID = &agentID

	partnerRating, deliveryRating := 4, 5
	review := "quick and warm"
	updated, err := f.svc.Rate(context.Background(), RateInput{
		UserID:         order.UserID,
		OrderID:        order.ID,
		PartnerRating:  &partnerRating,
		DeliveryRating: &deliveryRating,
		Review:         &review,
	})
	require.NoError(t, err)

	require.NotNil(t, updated.PartnerRating)
	assert.Equal(t, 4, *updated.PartnerRating)
	require.NotNil(t, updated.DeliveryRating)
	assert.Equal(t, 5, *updated.DeliveryRating)
	require.Len(t, f.delivery.ratings, 1)
	assert.Equal(t, 5, f.delivery.ratings[0])
}

func TestRateRequiresDelivered(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusOutForDelivery, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	rating := 5
	_, err := f.svc.Rate(context.Background(), RateInput{
		UserID:        order.UserID,
		OrderID:       order.ID,
		PartnerRating: &rating,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestRateRejectsOutOfRange(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)

	rating := 6
	_, err := f.svc.Rate(context.Background(), RateInput{
		UserID:        order.UserID,
		OrderID:       order.ID,
		PartnerRating: &rating,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRateOnlyOnce(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)

	rating := 4
	_, err := f.svc.Rate(context.Background(), RateInput{
		UserID:        order.UserID,
		OrderID:       order.ID,
		PartnerRating: &rating,
	})
	require.NoError(t, err)

	_, err = f.svc.Rate(context.Background(), RateInput{
		UserID:        order.UserID,
		OrderID:       order.ID,
		PartnerRating: &rating,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestWalletTipSettlesImmediately(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusOutForDelivery, enums.PaymentMethodCOD, enums.PaymentStatusPending)
	agentID := uuid.New()
	order.DeliveryAgentID = &agentID
	f.wallet.balances[order.UserID] = 5000

	result, err := f.svc.AddTip(context.Background(), TipInput{
		UserID:      order.UserID,
		OrderID:     order.ID,
		AmountPaise: 2000,
		Method:      enums.GatewayWallet,
	})
	require.NoError(t, err)

	tipped := result.Order
	assert.EqualValues(t, 2000, tipped.TipAmountPaise)
	require.NotNil(t, tipped.TipPaymentStatus)
	assert.Equal(t, enums.PaymentStatusPaid, *tipped.TipPaymentStatus)
	assert.Nil(t, result.Payment)

	require.Len(t, f.wallet.entries, 1)
	assert.Equal(t, enums.WalletTxnTypeDebit, f.wallet.entries[0].Type)
	assert.Equal(t, enums.WalletTxnSourceTip, f.wallet.entries[0].Source)
	require.Len(t, f.delivery.earnings, 1)
	assert.EqualValues(t, 2000, f.delivery.earnings[0])
	require.Len(t, f.notifier.agentInputs, 1)
}

func TestTipImmutableOncePaid(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)
	paid := enums.PaymentStatusPaid
	order.TipPaymentStatus = &paid
	order.TipAmountPaise = 1500

	_, err := f.svc.AddTip(context.Background(), TipInput{
		UserID:      order.UserID,
		OrderID:     order.ID,
		AmountPaise: 3000,
		Method:      enums.GatewayWallet,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.EqualValues(t, 1500, f.repo.orders[order.ID].TipAmountPaise)
}

func TestTipOutsideDeliveryWindowRejected(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPreparing, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	_, err := f.svc.AddTip(context.Background(), TipInput{
		UserID:      order.UserID,
		OrderID:     order.ID,
		AmountPaise: 2000,
		Method:      enums.GatewayWallet,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestGatewayTipPendingThenConfirmed(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusDelivered, enums.PaymentMethodCOD, enums.PaymentStatusPaid)
	agentID := uuid.New()
	order.DeliveryAgentID = &agentID

	result, err := f.svc.AddTip(context.Background(), TipInput{
		UserID:      order.UserID,
		OrderID:     order.ID,
		AmountPaise: 2000,
		Method:      enums.GatewayRazorpay,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "order_rzp_1", result.Payment.GatewayOrderID)
	require.NotNil(t, result.Order.TipPaymentStatus)
	assert.Equal(t, enums.PaymentStatusPending, *result.Order.TipPaymentStatus)
	assert.Empty(t, f.delivery.earnings)

	confirmed, err := f.svc.ConfirmTip(context.Background(), ConfirmTipInput{
		UserID:    order.UserID,
		OrderID:   order.ID,
		PaymentID: "pay_tip_1",
		Signature: "sig",
	})
	require.NoError(t, err)
	require.NotNil(t, confirmed.TipPaymentStatus)
	assert.Equal(t, enums.PaymentStatusPaid, *confirmed.TipPaymentStatus)
	require.Len(t, f.delivery.earnings, 1)
	assert.EqualValues(t, 2000, f.delivery.earnings[0])

	// Replays settle nothing further.
	again, err := f.svc.ConfirmTip(context.Background(), ConfirmTipInput{
		UserID:    order.UserID,
		OrderID:   order.ID,
		PaymentID: "pay_tip_1",
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, *again.TipPaymentStatus)
	assert.Len(t, f.delivery.earnings, 1)
}

func TestDetailScopedToOwner(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodCOD, enums.PaymentStatusPending)

	found, err := f.svc.Detail(context.Background(), order.UserID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = f.svc.Detail(context.Background(), uuid.New(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAuthorizeAccessPerRole(t *testing.T) {
	f := newOrderFixture(t, config.PricingConfig{})
	order := f.seedOrder(enums.OrderStatusPlaced, enums.PaymentMethodCOD, enums.PaymentStatusPending)
	agentID := uuid.New()
	order.DeliveryAgentID = &agentID

	ctx := context.Background()
	assert.NoError(t, f.svc.AuthorizeAccess(ctx, realtime.Principal{
		UserID: order.UserID,
		Role:   enums.ActorRoleCustomer,
	}, order.ID))

	kitchenID := order.KitchenID
	assert.NoError(t, f.svc.AuthorizeAccess(ctx, realtime.Principal{
		UserID:    uuid.New(),
		Role:      enums.ActorRolePartner,
		KitchenID: &kitchenID,
	}, order.ID))

	assert.NoError(t, f.svc.AuthorizeAccess(ctx, realtime.Principal{
		UserID:  uuid.New(),
		Role:    enums.ActorRoleDeliveryAgent,
		AgentID: &agentID,
	}, order.ID))

	err := f.svc.AuthorizeAccess(ctx, realtime.Principal{
		UserID: uuid.New(),
		Role:   enums.ActorRoleCustomer,
	}, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}
