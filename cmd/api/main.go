package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nikhilbhatia/feastly-backend/api/routes"
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
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/razorpay"
	"github.com/nikhilbhatia/feastly-backend/pkg/payments/stripe"
	"github.com/nikhilbhatia/feastly-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	// Payment clients stay nil when unconfigured; the services degrade
	// the matching payment option instead of refusing to boot.
	rzClient, err := razorpay.NewClient(cfg.Razorpay)
	if err != nil {
		logg.Warn(ctx, "razorpay disabled: "+err.Error())
		rzClient = nil
	}
	stripeClient, err := stripe.NewClient(cfg.Stripe)
	if err != nil {
		logg.Warn(ctx, "stripe disabled: "+err.Error())
		stripeClient = nil
	}

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	hub := realtime.NewHub(logg, orderMetrics)

	gdb := dbClient.DB()

	walletService, err := walletsvc.NewService(walletsvc.NewRepository(gdb), dbClient, rzClient, hub, cfg.Referral)
	if err != nil {
		fatal(logg, ctx, "wallet service", err)
	}
	cartService, err := cartsvc.NewService(cartsvc.NewRepository(gdb), dbClient)
	if err != nil {
		fatal(logg, ctx, "cart service", err)
	}
	notificationService, err := notifsvc.NewService(notifsvc.NewRepository(gdb), hub, logg)
	if err != nil {
		fatal(logg, ctx, "notifications service", err)
	}
	deliveryService, err := deliverysvc.NewService(
		deliverysvc.NewRepository(gdb), dbClient, notificationService, hub, orderMetrics, logg, cfg.Delivery,
	)
	if err != nil {
		fatal(logg, ctx, "delivery service", err)
	}
	orderService, err := ordersvc.NewService(
		ordersvc.NewRepository(gdb), dbClient, walletService, cartService, deliveryService,
		notificationService, rzClient, stripeClient, hub, orderMetrics, logg, cfg.Pricing,
	)
	if err != nil {
		fatal(logg, ctx, "order service", err)
	}
	subscriptionService, err := subssvc.NewService(subssvc.NewRepository(gdb), dbClient, walletService, rzClient)
	if err != nil {
		fatal(logg, ctx, "subscription service", err)
	}
	authService, err := authsvc.NewService(authsvc.NewRepository(gdb), dbClient, walletService, cfg.JWT)
	if err != nil {
		fatal(logg, ctx, "auth service", err)
	}

	// Order actions arriving over WebSocket route through the same
	// service as the REST surface.
	hub.SetActionHandler(ordersvc.NewActionHandler(orderService))

	router := routes.NewRouter(routes.Deps{
		Cfg:           cfg,
		Logg:          logg,
		DB:            dbClient,
		Redis:         redisClient,
		HTTPMetrics:   httpMetrics,
		Hub:           hub,
		Auth:          authService,
		Cart:          cartService,
		Orders:        orderService,
		Delivery:      deliveryService,
		Wallet:        walletService,
		Notifications: notificationService,
		Subscriptions: subscriptionService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(startCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}
}

func fatal(logg *logger.Logger, ctx context.Context, what string, err error) {
	logg.Error(ctx, "failed to create "+what, err)
	os.Exit(1)
}
