package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/libraryhq/library-backend/internal/cron"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/internal/reservations"
	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/db"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/metrics"
	"github.com/libraryhq/library-backend/pkg/migrate"
	"github.com/libraryhq/library-backend/pkg/outbox"
	"github.com/libraryhq/library-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	holdStore, err := holds.NewStore(redisClient, cfg.Reservations.HoldWindow)
	if err != nil {
		logg.Error(context.Background(), "failed to create hold store", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())

	reservationMetrics := metrics.NewReservationMetrics(prometheus.DefaultRegisterer)
	reservationsService, err := reservations.NewService(reservations.ServiceParams{
		TxRunner:      dbClient,
		Repo:          reservations.NewRepository(dbClient.DB()),
		Holds:         holdStore,
		Clock:         clock.NewSystem(),
		Events:        outbox.NewService(outboxRepo, logg),
		Metrics:       reservationMetrics,
		Logger:        logg,
		MaxLoanDays:   cfg.Reservations.MaxLoanDays,
		LateFeePerDay: cfg.Reservations.LateFee(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	holdSweep, err := cron.NewHoldSweepJob(cron.HoldSweepJobParams{
		Logger:  logg,
		Holds:   holdStore,
		Metrics: reservationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create hold sweep job", err)
		os.Exit(1)
	}
	overdue, err := cron.NewReservationOverdueJob(cron.ReservationOverdueJobParams{
		Logger:       logg,
		Reservations: reservationsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation overdue job", err)
		os.Exit(1)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        cfg.Outbox.RetentionDays,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(holdSweep, overdue, retention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
