package cli

import (
	"context"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-dre/internal/app"
	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/ingest"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

// Backend is what the commands operate on.
type Backend interface {
	Migrate(ctx context.Context) error
	Import(ctx context.Context, r io.Reader) (ingest.Result, error)
	Statement(ctx context.Context, p period.Period) (dre.Statement, error)
	Compare(ctx context.Context, p period.Period) (dre.Comparison, error)
	RefreshSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, error)
	EnqueueSnapshotRefresh(ctx context.Context, year, quarter int) (*asynq.TaskInfo, error)
	QueueStats(ctx context.Context) (QueueStats, error)
}

// BackendFactory opens a Backend and returns its release function.
type BackendFactory func(ctx context.Context) (Backend, func(), error)

type liveBackend struct {
	cfg      *app.Config
	services *app.Services
	jobs     *JobsCLI
}

// LiveBackend connects to Postgres and Redis using the environment configuration.
func LiveBackend(ctx context.Context) (Backend, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg)
	pool, client, err := app.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	services := app.NewServices(cfg, pool, client, logger, app.ServicesOptions{})
	jobsCLI, err := NewJobsCLI(app.AsynqRedisOpt(cfg))
	if err != nil {
		services.Close()
		return nil, nil, err
	}
	release := func() {
		_ = jobsCLI.Close()
		services.Close()
	}
	return &liveBackend{cfg: cfg, services: services, jobs: jobsCLI}, release, nil
}

func (b *liveBackend) Migrate(ctx context.Context) error {
	return db.Migrate(b.cfg.PGDSN)
}

func (b *liveBackend) Import(ctx context.Context, r io.Reader) (ingest.Result, error) {
	return b.services.Ingest.Import(ctx, r)
}

func (b *liveBackend) Statement(ctx context.Context, p period.Period) (dre.Statement, error) {
	return b.services.Engine.Statement(ctx, p)
}

func (b *liveBackend) Compare(ctx context.Context, p period.Period) (dre.Comparison, error) {
	return b.services.Engine.Compare(ctx, p)
}

func (b *liveBackend) RefreshSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, error) {
	return b.services.Engine.RefreshSnapshot(ctx, year, quarter)
}

func (b *liveBackend) EnqueueSnapshotRefresh(ctx context.Context, year, quarter int) (*asynq.TaskInfo, error) {
	return b.jobs.EnqueueSnapshotRefresh(ctx, year, quarter)
}

func (b *liveBackend) QueueStats(ctx context.Context) (QueueStats, error) {
	return b.jobs.InspectQueue(ctx)
}
