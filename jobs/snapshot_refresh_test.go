package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	jobmetrics "github.com/odyssey-erp/odyssey-dre/internal/jobs"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

type recordingRefresher struct {
	mu    sync.Mutex
	calls [][2]int
	saved map[[2]int]bool
	err   error
}

func (r *recordingRefresher) RefreshSavedSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, bool, error) {
	r.mu.Lock()
	saved := r.saved[[2]int{year, quarter}]
	r.mu.Unlock()
	if !saved {
		return dre.Snapshot{}, false, nil
	}
	snap, err := r.RefreshSnapshot(ctx, year, quarter)
	return snap, err == nil, err
}

func (r *recordingRefresher) RefreshSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]int{year, quarter})
	if r.err != nil {
		return dre.Snapshot{}, r.err
	}
	return dre.Snapshot{Statement: dre.Statement{Period: period.Quarter(year, quarter)}, UpdatedAt: time.Now()}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotRefreshExplicitQuarter(t *testing.T) {
	refresher := &recordingRefresher{}
	job := NewSnapshotRefreshJob(refresher, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewSnapshotRefreshTask(SnapshotRefreshPayload{Year: 2025, Quarter: 2})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, [][2]int{{2025, 2}}, refresher.calls)
}

func TestSnapshotRefreshCronTargetsCurrentQuarter(t *testing.T) {
	refresher := &recordingRefresher{saved: map[[2]int]bool{{2025, 3}: true}}
	job := NewSnapshotRefreshJob(refresher, quietLogger(), nil).
		WithClock(func() time.Time { return time.Date(2025, time.August, 14, 3, 0, 0, 0, time.UTC) })

	task, err := NewCurrentQuarterRefreshTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, [][2]int{{2025, 3}}, refresher.calls)
}

func TestSnapshotRefreshCronSkipsUnsavedQuarter(t *testing.T) {
	refresher := &recordingRefresher{}
	registry := prometheus.NewRegistry()
	job := NewSnapshotRefreshJob(refresher, quietLogger(), jobmetrics.NewMetrics(registry)).
		WithClock(func() time.Time { return time.Date(2025, time.February, 1, 2, 0, 0, 0, time.UTC) })

	task, err := NewCurrentQuarterRefreshTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	task, err = NewSnapshotRefreshTask(SnapshotRefreshPayload{Year: 2025, Quarter: 1, Trigger: TriggerOverride})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Empty(t, refresher.calls)

	task, err = NewSnapshotRefreshTask(SnapshotRefreshPayload{Year: 2025, Quarter: 1, Trigger: TriggerCLI})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, [][2]int{{2025, 1}}, refresher.calls)

	expected := `
# HELP odyssey_dre_snapshot_refresh_runs_total Snapshot refresh runs by trigger and outcome.
# TYPE odyssey_dre_snapshot_refresh_runs_total counter
odyssey_dre_snapshot_refresh_runs_total{outcome="refreshed",trigger="cli"} 1
odyssey_dre_snapshot_refresh_runs_total{outcome="skipped",trigger="cron"} 1
odyssey_dre_snapshot_refresh_runs_total{outcome="skipped",trigger="override"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "odyssey_dre_snapshot_refresh_runs_total"))
}

func TestSnapshotRefreshPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewSnapshotRefreshJob(&recordingRefresher{err: boom}, quietLogger(), nil)
	task, err := NewSnapshotRefreshTask(SnapshotRefreshPayload{Year: 2025, Quarter: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestSnapshotRefreshSkipsRetryOnBadPayload(t *testing.T) {
	refresher := &recordingRefresher{}
	job := NewSnapshotRefreshJob(refresher, quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskSnapshotRefresh, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskSnapshotRefresh, []byte(`{"year":2025,"quarter":7}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, refresher.calls)
}

func TestNewSnapshotRefreshTaskRejectsInvalidQuarter(t *testing.T) {
	_, err := NewSnapshotRefreshTask(SnapshotRefreshPayload{Year: 2025, Quarter: 0})
	assert.Error(t, err)
}

func TestSnapshotNotifierCollapsesDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	notifier := NewSnapshotNotifier(client, quietLogger())
	notifier.OverridesChanged(context.Background(), 2025, 1)
	notifier.OverridesChanged(context.Background(), 2025, 1)
	notifier.OverridesChanged(context.Background(), 2025, 0)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
