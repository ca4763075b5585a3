package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-dre/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-dre/internal/jobs"
	"github.com/odyssey-erp/odyssey-dre/jobs"
)

// Nightly at 02:00 UTC, after the usual CSV imports.
const snapshotCron = "0 2 * * *"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, redisClient, err := app.Connect(ctx, cfg)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		os.Exit(1)
	}
	services := app.NewServices(cfg, pool, redisClient, logger, app.ServicesOptions{
		Registerer: prometheus.DefaultRegisterer,
	})
	defer services.Close()

	refreshJob := jobs.NewSnapshotRefreshJob(services.Engine, logger, jobmetrics.NewMetrics(nil))
	cronTask, err := jobs.NewCurrentQuarterRefreshTask()
	if err != nil {
		logger.Error("build snapshot task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: app.AsynqRedisOpt(cfg),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSnapshotRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: snapshotCron, Task: cronTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: cfg.AppReadTimeout}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics listener", slog.Any("error", err))
			}
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
