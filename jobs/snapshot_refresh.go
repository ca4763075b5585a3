package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	jobmetrics "github.com/odyssey-erp/odyssey-dre/internal/jobs"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// SnapshotRefresher recomputes and persists a quarter snapshot.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, error)
	RefreshSavedSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, bool, error)
}

// SnapshotRefreshJob handles TaskSnapshotRefresh.
type SnapshotRefreshJob struct {
	Refresher SnapshotRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewSnapshotRefreshJob constructs the job handler.
func NewSnapshotRefreshJob(refresher SnapshotRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotRefreshJob {
	return &SnapshotRefreshJob{
		Refresher: refresher,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock used to resolve the current quarter.
func (j *SnapshotRefreshJob) WithClock(clock func() time.Time) *SnapshotRefreshJob {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Handle executes the snapshot refresh.
func (j *SnapshotRefreshJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Refresher == nil {
		return errors.New("snapshot refresh: dependencies not configured")
	}
	var payload SnapshotRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("snapshot refresh: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Year == 0 {
		now := j.clock()
		payload.Year, payload.Quarter = now.Year(), period.QuarterOf(int(now.Month()))
	}
	if payload.Quarter < 1 || payload.Quarter > 4 {
		return fmt.Errorf("snapshot refresh: invalid quarter %d: %w", payload.Quarter, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(payload.Trigger)
	defer func() {
		err = tracker.End(err)
	}()

	var snap dre.Snapshot
	saved := true
	switch payload.Trigger {
	case TriggerCron, TriggerOverride:
		snap, saved, err = j.Refresher.RefreshSavedSnapshot(ctx, payload.Year, payload.Quarter)
	default:
		snap, err = j.Refresher.RefreshSnapshot(ctx, payload.Year, payload.Quarter)
	}
	if err != nil {
		j.log().Error("refresh snapshot",
			slog.Int("year", payload.Year), slog.Int("quarter", payload.Quarter), slog.Any("error", err))
		return err
	}
	if !saved {
		tracker.Skip()
		j.log().Info("snapshot refresh skipped, quarter never saved",
			slog.Int("year", payload.Year), slog.Int("quarter", payload.Quarter),
			slog.String("trigger", payload.Trigger))
		return nil
	}
	j.log().Info("refreshed snapshot",
		slog.String("job", TaskSnapshotRefresh),
		slog.String("period", snap.Statement.Period.Key),
		slog.String("trigger", payload.Trigger),
		slog.Time("updated_at", snap.UpdatedAt))
	return nil
}

func (j *SnapshotRefreshJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
