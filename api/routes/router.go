package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhatia/feastly-backend/api/controllers"
	"github.com/nikhilbhatia/feastly-backend/api/middleware"
	authsvc "github.com/nikhilbhatia/feastly-backend/internal/auth"
	cartsvc "github.com/nikhilbhatia/feastly-backend/internal/cart"
	deliverysvc "github.com/nikhilbhatia/feastly-backend/internal/delivery"
	notifsvc "github.com/nikhilbhatia/feastly-backend/internal/notifications"
	ordersvc "github.com/nikhilbhatia/feastly-backend/internal/orders"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	subssvc "github.com/nikhilbhatia/feastly-backend/internal/subscriptions"
	walletsvc "github.com/nikhilbhatia/feastly-backend/internal/wallet"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
	"github.com/nikhilbhatia/feastly-backend/pkg/redis"
)

// Deps bundles everything the router needs. Services are wired in
// cmd/api; the router only arranges them behind middleware.
type Deps struct {
	Cfg   *config.Config
	Logg  *logger.Logger
	DB    db.Pinger
	Redis *redis.Client

	HTTPMetrics *metrics.HTTPMetrics
	Hub         *realtime.Hub

	Auth          authsvc.Service
	Cart          cartsvc.Service
	Orders        ordersvc.Service
	Delivery      deliverysvc.Service
	Wallet        walletsvc.Service
	Notifications notifsvc.Service
	Subscriptions subssvc.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Cfg, d.Logg

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Metrics(d.HTTPMetrics),
		middleware.Logging(logg),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	var cache controllers.Pinger
	if d.Redis != nil {
		cache = d.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, d.DB, cache, logg))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	registerLimit := middleware.AuthRateLimit(registerPolicy, nil, logg)
	loginLimit := middleware.AuthRateLimit(loginPolicy, nil, logg)
	if d.Redis != nil {
		registerLimit = middleware.AuthRateLimit(registerPolicy, d.Redis, logg)
		loginLimit = middleware.AuthRateLimit(loginPolicy, d.Redis, logg)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(registerLimit).Post("/register", controllers.Register(d.Auth, logg))
		r.With(loginLimit).Post("/login", controllers.Login(d.Auth, logg))
	})

	auth := middleware.Auth(cfg.JWT, logg)
	customerOnly := middleware.RequireRole(logg, enums.ActorRoleCustomer)
	partnerOnly := middleware.RequireRole(logg, enums.ActorRolePartner)
	agentOnly := middleware.RequireRole(logg, enums.ActorRoleDeliveryAgent)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(auth, customerOnly)
		r.Get("/", controllers.GetCart(d.Cart, logg))
		r.Post("/items", controllers.AddCartItem(d.Cart, logg))
		r.Patch("/items/{itemId}", controllers.UpdateCartItem(d.Cart, logg))
		r.Delete("/items/{itemId}", controllers.RemoveCartItem(d.Cart, logg))
		r.Delete("/", controllers.ClearCart(d.Cart, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(auth)

		r.Group(func(r chi.Router) {
			r.Use(customerOnly)
			r.Post("/", controllers.CreateOrder(d.Orders, logg))
			r.Get("/", controllers.ListMyOrders(d.Orders, logg))
			r.Patch("/{orderId}/cancel", controllers.CancelOrder(d.Orders, logg))
			r.Post("/confirm-payment", controllers.ConfirmOrderPayment(d.Orders, logg))
			r.Post("/{orderId}/retry-payment", controllers.RetryOrderPayment(d.Orders, logg))
			r.Post("/{orderId}/rate", controllers.RateOrder(d.Orders, logg))
			r.Post("/{orderId}/tip", controllers.AddTip(d.Orders, logg))
			r.Post("/{orderId}/tip/confirm", controllers.ConfirmTip(d.Orders, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(partnerOnly)
			r.Get("/kitchen", controllers.ListKitchenOrders(d.Orders, logg))
			r.Patch("/{orderId}/kitchen-action", controllers.KitchenAction(d.Orders, logg))
			r.Patch("/{orderId}/ready", controllers.MarkOrderReady(d.Orders, logg))
		})

		r.Get("/{orderId}", controllers.OrderDetail(d.Orders, logg))
	})

	r.Route("/api/v1/delivery", func(r chi.Router) {
		r.Use(auth, agentOnly)
		r.Put("/accept-order/{orderId}", controllers.AcceptOrder(d.Delivery, logg))
		r.Put("/reject-order/{orderId}", controllers.RejectOrder(d.Delivery, logg))
		r.Put("/pick-order/{orderId}", controllers.PickOrder(d.Delivery, logg))
		r.Put("/complete-order/{orderId}", controllers.CompleteOrder(d.Delivery, logg))
		r.Put("/toggle-online", controllers.ToggleOnline(d.Delivery, logg))
		r.Put("/update-location", controllers.UpdateLocation(d.Delivery, logg))
		r.Get("/me", controllers.AgentProfile(d.Delivery, logg))
	})

	r.Route("/api/v1/wallet", func(r chi.Router) {
		r.Use(auth, customerOnly)
		r.Get("/", controllers.WalletSummary(d.Wallet, logg))
		r.Get("/transactions", controllers.WalletTransactions(d.Wallet, logg))
		r.Post("/topup", controllers.WalletTopup(d.Wallet, logg))
		r.Post("/topup/confirm", controllers.WalletConfirmTopup(d.Wallet, logg))
	})

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(auth)

		r.Route("/partner", func(r chi.Router) {
			r.Use(partnerOnly)
			r.Get("/", controllers.ListPartnerNotifications(d.Notifications, logg))
			r.Patch("/{notificationId}/read", controllers.MarkPartnerNotificationRead(d.Notifications, logg))
			r.Patch("/read-all", controllers.MarkAllPartnerNotificationsRead(d.Notifications, logg))
		})

		r.Route("/agent", func(r chi.Router) {
			r.Use(agentOnly)
			r.Get("/", controllers.ListAgentNotifications(d.Notifications, logg))
			r.Patch("/{notificationId}/read", controllers.MarkAgentNotificationRead(d.Notifications, logg))
			r.Patch("/read-all", controllers.MarkAllAgentNotificationsRead(d.Notifications, logg))
		})
	})

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Use(auth)
		r.Get("/plans", controllers.ListSubscriptionPlans(d.Subscriptions, logg))
		r.With(customerOnly).Post("/", controllers.PurchaseSubscription(d.Subscriptions, logg))
	})

	r.With(auth).Get("/ws", controllers.WS(d.Hub, logg))

	return r
}
