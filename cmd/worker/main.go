package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/nimbus-iam/nimbus-iam/internal/app"
	"github.com/nimbus-iam/nimbus-iam/internal/audit"
	"github.com/nimbus-iam/nimbus-iam/internal/authz"
	"github.com/nimbus-iam/nimbus-iam/internal/graphexport"
	"github.com/nimbus-iam/nimbus-iam/internal/platform/db"
	"github.com/nimbus-iam/nimbus-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	handlers := []jobs.TaskHandler{
		{Type: audit.TaskTypeEvent, Handler: jobs.NewAuditWriteHandler(audit.NewPGSink(pool), logger)},
	}
	var cron []jobs.CronRegistration

	if cfg.GraphExportEnabled() {
		repo := authz.NewPGRepository(pool)
		store, err := authz.LoadStore(ctx, repo)
		if err != nil {
			logger.Error("load authorization state", slog.Any("error", err))
			os.Exit(1)
		}
		exporter, err := graphexport.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, logger)
		if err != nil {
			logger.Error("init graph exporter", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := exporter.Close(context.Background()); err != nil {
				logger.Warn("graph exporter close", slog.Any("error", err))
			}
		}()
		handlers = append(handlers, jobs.TaskHandler{
			Type:    jobs.TaskGraphExport,
			Handler: jobs.NewGraphExportHandler(store, exporter, logger),
		})
		cron = append(cron, jobs.CronRegistration{
			Spec: cfg.GraphExportCron,
			Task: jobs.NewGraphExportTask(),
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}
