package app

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/ingest"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

// Services holds the connections and domain services shared by the server, the worker and the CLI.
type Services struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Cache  *dre.Cache
	Fiscal *fiscal.Service
	Engine *dre.Engine
	Ingest *ingest.Service
}

// ServicesOptions customises NewServices. A nil Registerer skips engine and fiscal metrics.
type ServicesOptions struct {
	Registerer prometheus.Registerer
	Notifier   fiscal.ChangeNotifier
}

// Connect opens the Postgres pool and the Redis client.
func Connect(ctx context.Context, cfg *Config) (*pgxpool.Pool, *redis.Client, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, err
	}
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, client, nil
}

// NewServices wires repositories, cache and services over open connections.
func NewServices(cfg *Config, pool *pgxpool.Pool, client *redis.Client, logger *slog.Logger, opts ServicesOptions) *Services {
	statementCache := dre.NewCache(client, cfg.DRECacheTTL)

	fiscalService := fiscal.NewService(fiscal.NewRepository(pool), statementCache, logger)
	if opts.Notifier != nil {
		fiscalService.WithNotifier(opts.Notifier)
	}

	repo := dre.NewRepository(pool)
	engine := dre.NewEngine(repo, fiscalService, repo, statementCache, logger)
	if opts.Registerer != nil {
		fiscalService.WithMetrics(fiscal.NewMetrics(opts.Registerer))
		engine.WithMetrics(dre.NewMetrics(opts.Registerer))
	}

	return &Services{
		Pool:   pool,
		Redis:  client,
		Cache:  statementCache,
		Fiscal: fiscalService,
		Engine: engine,
		Ingest: ingest.NewService(ingest.NewRepository(pool), statementCache, logger),
	}
}

// Close releases the connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// AsynqRedisOpt builds the Asynq connection options from the configuration.
func AsynqRedisOpt(cfg *Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
