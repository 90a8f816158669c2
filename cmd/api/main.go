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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/libraryhq/library-backend/api/routes"
	"github.com/libraryhq/library-backend/internal/auth"
	"github.com/libraryhq/library-backend/internal/catalog"
	"github.com/libraryhq/library-backend/internal/covers"
	"github.com/libraryhq/library-backend/internal/favorites"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/internal/reservations"
	"github.com/libraryhq/library-backend/internal/users"
	"github.com/libraryhq/library-backend/pkg/auth/session"
	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/db"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/metrics"
	"github.com/libraryhq/library-backend/pkg/migrate"
	"github.com/libraryhq/library-backend/pkg/outbox"
	"github.com/libraryhq/library-backend/pkg/redis"
	"github.com/libraryhq/library-backend/pkg/storage/gcs"
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	holdStore, err := holds.NewStore(redisClient, cfg.Reservations.HoldWindow)
	if err != nil {
		logg.Error(context.Background(), "failed to create hold store", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reservationMetrics := metrics.NewReservationMetrics(registry)

	var (
		gcsPinger   gcs.Pinger
		coversSvc   covers.Service
		catalogRepo = catalog.NewRepository(dbClient.DB())
	)

	if cfg.GCS.Enabled() {
		gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap gcs", err)
			os.Exit(1)
		}
		gcsPinger = gcsClient
		coversSvc, err = covers.NewService(covers.Params{
			Books:       catalogRepo,
			GCS:         gcsClient,
			Bucket:      cfg.GCS.BucketName,
			UploadTTL:   cfg.GCS.UploadURLExpiry,
			DownloadTTL: cfg.GCS.DownloadURLExpiry,
			Clock:       clock.NewSystem(),
			Logger:      logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create covers service", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "gcs bucket not configured, cover uploads disabled")
	}

	reservationsService, err := reservations.NewService(reservations.ServiceParams{
		TxRunner:      dbClient,
		Repo:          reservations.NewRepository(dbClient.DB()),
		Holds:         holdStore,
		Clock:         clock.NewSystem(),
		Events:        outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Covers:        coversSvc,
		Metrics:       reservationMetrics,
		Logger:        logg,
		MaxLoanDays:   cfg.Reservations.MaxLoanDays,
		LateFeePerDay: cfg.Reservations.LateFee(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:         catalogRepo,
		TxRunner:     dbClient,
		Availability: reservationsService,
		Covers:       coversSvc,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	userRepo := users.NewRepository(dbClient.DB())
	usersService, err := users.NewService(userRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create users service", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Clock:          clock.NewSystem(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	favoritesService, err := favorites.NewService(favorites.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create favorites service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsPinger,
			registry,
			sessionManager,
			authService,
			usersService,
			catalogService,
			reservationsService,
			favoritesService,
			coversSvc,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
