// Command cron-worker runs the periodic housekeeping jobs: outbox retention
// and payment intent expiry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/pharmaflow-backend/internal/cron"
	"github.com/angelmondragon/pharmaflow-backend/internal/payments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/migrate"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	if err := godotenv.Load(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

// run owns every resource so deferred closes happen before main exits.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		return err
	}
	jobs, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("build jobs: %w", err)
	}

	reg := metrics.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		return err
	}
	metrics.Serve(ctx, cfg.Service.MetricsAddr, reg, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lockKey scopes the lock per environment so staging and prod sharing a
// redis do not block each other.
func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return "pf:" + serviceName + ":lock:" + env
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) ([]cron.Job, error) {
	retention, err := cron.NewOutboxRetentionJob(outbox.NewRepository(dbClient.DB()), cfg.Maintenance.OutboxRetentionDays, logg)
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewIntentExpiryJob(payments.NewRepository(dbClient.DB()), cfg.Maintenance.IntentTTL, logg)
	if err != nil {
		return nil, err
	}
	return []cron.Job{retention, expiry}, nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
