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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pharmaflow-backend/api/routes"
	"github.com/angelmondragon/pharmaflow-backend/internal/orders"
	"github.com/angelmondragon/pharmaflow-backend/internal/payments"
	"github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/internal/referrals"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments/delhivery"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments/shiprocket"
	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/migrate"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/razorpay"
	"github.com/angelmondragon/pharmaflow-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	registry := metrics.NewRegistry()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	svc, err := buildServices(cfg, logg, dbClient, redisClient, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"transactions": cfg.DB.Transactions,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var closeErr error
	multierr.AppendInto(&closeErr, server.Shutdown(shutdownCtx))
	multierr.AppendInto(&closeErr, redisClient.Close())
	multierr.AppendInto(&closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(ctx, "error during shutdown", closeErr)
		exitCode = 1
	}
	logg.Info(ctx, "api server stopped")
	os.Exit(exitCode)
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, m *metrics.SettlementMetrics) (routes.Services, error) {
	conn := dbClient.DB()
	uow := db.NewUnitOfWork(dbClient, cfg.DB)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger := webhookledger.New()

	pointsSvc, err := points.NewService(points.NewRepository(conn), uow, emitter, logg)
	if err != nil {
		return routes.Services{}, err
	}

	referralsSvc, err := referrals.NewService(referrals.NewRepository(conn), uow, emitter, logg, nil)
	if err != nil {
		return routes.Services{}, err
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:           orders.NewRepository(conn),
		UnitOfWork:     uow,
		Outbox:         emitter,
		Referrals:      referralsSvc,
		Logger:         logg,
		Metrics:        m,
		NumberPrefix:   cfg.Orders.NumberPrefix,
		NumberAttempts: cfg.Orders.NumberAttempts,
	})
	if err != nil {
		return routes.Services{}, err
	}

	gateway, err := razorpay.NewClient(cfg.Razorpay, logg, m)
	if err != nil {
		return routes.Services{}, err
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:       payments.NewRepository(conn),
		UnitOfWork: uow,
		Gateway:    gateway,
		Ledger:     ledger,
		Points:     pointsSvc,
		Outbox:     emitter,
		Logger:     logg,
		Metrics:    m,
	})
	if err != nil {
		return routes.Services{}, err
	}

	svc := routes.Services{
		Orders:    ordersSvc,
		Payments:  paymentsSvc,
		Points:    pointsSvc,
		Referrals: referralsSvc,
	}

	carriers, err := buildCarriers(cfg, logg, redisClient)
	if err != nil {
		return routes.Services{}, err
	}
	if len(carriers) == 0 {
		logg.Warn(context.Background(), "no shipping carrier configured, shipment routes disabled")
		return svc, nil
	}
	defaultProvider, err := enums.ParseShippingProvider(cfg.Shipping.DefaultProvider)
	if err != nil {
		return routes.Services{}, err
	}
	if !hasCarrier(carriers, defaultProvider) {
		logg.Warn(logg.WithField(context.Background(), "provider", defaultProvider), "default carrier not configured, falling back")
		defaultProvider = carriers[0].Name()
	}
	svc.Shipments, err = shipments.NewService(shipments.ServiceParams{
		Repo:            shipments.NewRepository(conn),
		UnitOfWork:      uow,
		Providers:       carriers,
		DefaultProvider: defaultProvider,
		Ledger:          ledger,
		Outbox:          emitter,
		Logger:          logg,
		Metrics:         m,
	})
	if err != nil {
		return routes.Services{}, err
	}
	return svc, nil
}

func hasCarrier(carriers []shipments.ShippingProvider, name enums.ShippingProvider) bool {
	for _, c := range carriers {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// buildCarriers skips carriers without credentials so local setups can run
// with only one of them configured.
func buildCarriers(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) ([]shipments.ShippingProvider, error) {
	var carriers []shipments.ShippingProvider
	ctx := context.Background()

	if cfg.Shiprocket.Email != "" {
		client, err := shiprocket.NewClient(cfg.Shiprocket, cfg.Shipping.Timeout, logg, shiprocket.WithTokenCache(redisClient))
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, client)
	} else {
		logg.Warn(logg.WithField(ctx, "provider", enums.ShippingProviderShiprocket), "carrier not configured")
	}

	if cfg.Delhivery.APIToken != "" {
		client, err := delhivery.NewClient(cfg.Delhivery, cfg.Shipping.Timeout, logg)
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, client)
	} else {
		logg.Warn(logg.WithField(ctx, "provider", enums.ShippingProviderDelhivery), "carrier not configured")
	}

	return carriers, nil
}
