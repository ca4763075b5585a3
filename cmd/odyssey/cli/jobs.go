package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-dre/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers over the given Redis connection.
func NewJobsCLI(redisOpt asynq.RedisConnOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(redisOpt)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(redisOpt)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueSnapshotRefresh queues the refresh of one quarter for the worker.
func (c *JobsCLI) EnqueueSnapshotRefresh(ctx context.Context, year, quarter int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueSnapshotRefresh(ctx, jobs.SnapshotRefreshPayload{Year: year, Quarter: quarter, Trigger: jobs.TriggerCLI})
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
