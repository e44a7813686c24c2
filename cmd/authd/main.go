package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nimbus-iam/nimbus-iam/internal/app"
	"github.com/nimbus-iam/nimbus-iam/internal/assignments"
	"github.com/nimbus-iam/nimbus-iam/internal/audit"
	"github.com/nimbus-iam/nimbus-iam/internal/authz"
	authzhttp "github.com/nimbus-iam/nimbus-iam/internal/authz/http"
	"github.com/nimbus-iam/nimbus-iam/internal/identity"
	"github.com/nimbus-iam/nimbus-iam/internal/observability"
	"github.com/nimbus-iam/nimbus-iam/internal/platform/cache"
	"github.com/nimbus-iam/nimbus-iam/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := authz.NewPGRepository(pool)
	store, err := authz.LoadStore(ctx, repo)
	if err != nil {
		logger.Error("load authorization state", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("authorization snapshot loaded",
		slog.Uint64("version", store.Current().Version()),
		slog.Int("permissions", len(store.Current().Permissions())),
		slog.Int("roles", len(store.Current().Roles())))

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	publisher := audit.NewPublisher(asynqClient, logger, cfg.AuditQueue)

	metrics := observability.NewMetrics()
	counter := assignments.NewCounter(redisClient)

	engine := authz.NewEngine(store, publisher, metrics, logger)
	service := authz.NewService(store, repo, publisher, counter, metrics, logger)

	router := app.NewRouter(app.RouterConfig{
		Middleware: app.MiddlewareConfig{Logger: logger, Config: cfg, Metrics: metrics},
		Identity:   identity.NewMiddleware(logger, cfg.AdminTokenHash),
		AuthzAPI:   authzhttp.NewHandler(logger, service, engine),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
