package dre

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// Snapshot is the persisted statement of one quarter.
type Snapshot struct {
	Statement Statement
	UpdatedAt time.Time
}

// SnapshotStore persists quarterly statements and reports when their inputs last changed.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, year, quarter int) (Snapshot, bool, error)
	// SaveSnapshot replaces every line of the quarter's row, stamped with s.ComputedAt.
	// Warnings are not stored; they are rebuilt from the overrides when the snapshot is served.
	SaveSnapshot(ctx context.Context, s Statement) (Snapshot, error)
	// LastChange is the latest updated_at among raw rows and overrides inside p, zero when there are none.
	LastChange(ctx context.Context, p period.Period) (time.Time, error)
	// InTx runs fn in one transaction that override writes made with fn's context join.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Fresh reports whether no input changed after the snapshot's inputs were read.
func (s Snapshot) Fresh(lastChange time.Time) bool {
	return !lastChange.After(s.UpdatedAt)
}
