package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSnapshotRefresh recomputes and persists the snapshot of one quarter.
	TaskSnapshotRefresh = "dre:snapshot_refresh"
)

// Refresh triggers. Cron and override refreshes only replace quarters that were saved before.
const (
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
	TriggerCron     = "cron"
	TriggerOverride = "override"
)

// SnapshotRefreshPayload selects the quarter to refresh. A zero Year targets the current quarter at run time.
type SnapshotRefreshPayload struct {
	Year    int    `json:"year,omitempty"`
	Quarter int    `json:"quarter,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

// NewSnapshotRefreshTask constructs the refresh task for a quarter.
func NewSnapshotRefreshTask(payload SnapshotRefreshPayload) (*asynq.Task, error) {
	if payload.Year != 0 && (payload.Quarter < 1 || payload.Quarter > 4) {
		return nil, fmt.Errorf("jobs: snapshot refresh: invalid quarter %d", payload.Quarter)
	}
	if payload.Trigger == "" {
		payload.Trigger = TriggerManual
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotRefresh, data, asynq.Queue(QueueDefault)), nil
}

// NewCurrentQuarterRefreshTask builds the task the nightly cron enqueues.
func NewCurrentQuarterRefreshTask() (*asynq.Task, error) {
	return NewSnapshotRefreshTask(SnapshotRefreshPayload{Trigger: TriggerCron})
}
