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

	"github.com/odyssey-erp/odyssey-dre/internal/app"
	drehttp "github.com/odyssey-erp/odyssey-dre/internal/dre/http"
	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	fiscalhttp "github.com/odyssey-erp/odyssey-dre/internal/fiscal/http"
	"github.com/odyssey-erp/odyssey-dre/internal/observability"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dre/internal/shared"
	"github.com/odyssey-erp/odyssey-dre/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	pool, redisClient, err := app.Connect(ctx, cfg)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	var notifier fiscal.ChangeNotifier
	if cfg.DRESnapshotAsync {
		jobClient, err := jobs.NewClient(app.AsynqRedisOpt(cfg))
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		notifier = jobs.NewSnapshotNotifier(jobClient, logger)
	}

	services := app.NewServices(cfg, pool, redisClient, logger, app.ServicesOptions{
		Registerer: metrics.Registerer(),
		Notifier:   notifier,
	})
	defer services.Close()

	inspector := asynq.NewInspector(app.AsynqRedisOpt(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Sessions:      shared.NewSessionStore(redisClient, cfg.SessionCookie, cfg.SessionTTL),
		FiscalHandler: fiscalhttp.NewHandler(logger, services.Fiscal),
		DREHandler: drehttp.NewHandler(logger, services.Engine, drehttp.Options{
			DefaultCurrentMonth: cfg.DefaultsToCurrentMonth(),
		}),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
