package dre

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/validate"
)

// Overrides is the part of the fiscal service the engine reads and writes through.
type Overrides interface {
	ReconcileDeduction(ctx context.Context, p period.Period) (fiscal.Resolution, error)
	ManualTaxesByQuarter(ctx context.Context, year int) (map[int]fiscal.ManualQuarterlyTaxes, error)
	PropagateDeduction(ctx context.Context, p period.Period, submitted decimal.Decimal) (fiscal.Resolution, []string, error)
}

// Engine computes, caches and persists income statements.
type Engine struct {
	aggregator *Aggregator
	overrides  Overrides
	snapshots  SnapshotStore
	cache      *Cache
	validator  *validate.Validator
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	group      singleflight.Group
}

// NewEngine wires the engine. A nil cache computes every read.
func NewEngine(source RawSource, overrides Overrides, snapshots SnapshotStore, cache *Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		aggregator: NewAggregator(source),
		overrides:  overrides,
		snapshots:  snapshots,
		cache:      cache,
		validator:  validate.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches Prometheus collectors.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Statement returns the statement of p. Reads go through the Redis cache; concurrent misses for the same key
// share one computation. Quarterly misses use the persisted snapshot when it is still fresh.
func (e *Engine) Statement(ctx context.Context, p period.Period) (Statement, error) {
	key, err := e.cache.Key(ctx, p)
	if err != nil {
		e.logger.WarnContext(ctx, "dre: cache unavailable, computing directly",
			slog.String("period", p.Key), slog.Any("error", err))
		return e.load(ctx, p)
	}
	if s, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.WarnContext(ctx, "dre: cache read failed", slog.String("period", p.Key), slog.Any("error", err))
	} else if ok {
		e.metrics.hit(string(p.Type))
		return s, nil
	}
	e.metrics.miss(string(p.Type))

	ch := e.group.DoChan(key, func() (interface{}, error) {
		s, err := e.load(context.WithoutCancel(ctx), p)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(context.WithoutCancel(ctx), key, s); err != nil {
			e.logger.WarnContext(ctx, "dre: cache write failed", slog.String("period", p.Key), slog.Any("error", err))
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return Statement{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Statement{}, res.Err
		}
		return res.Val.(Statement), nil
	}
}

// Compare returns the statement of p, the one of the previous period and the growth between them.
func (e *Engine) Compare(ctx context.Context, p period.Period) (Comparison, error) {
	current, err := e.Statement(ctx, p)
	if err != nil {
		return Comparison{}, err
	}
	previous, err := e.Statement(ctx, p.Previous())
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{Current: current, Previous: previous, Growth: current.CompareTo(previous)}, nil
}

func (e *Engine) load(ctx context.Context, p period.Period) (Statement, error) {
	if p.Type != period.Quarterly || e.snapshots == nil {
		return e.Compute(ctx, p)
	}
	snap, _, err := e.quarterSnapshot(ctx, p.Year, p.Quarter)
	if err != nil {
		return Statement{}, err
	}
	return snap.Statement, nil
}

// Compute aggregates raw rows and overrides for p and assembles the statement, bypassing every cache.
func (e *Engine) Compute(ctx context.Context, p period.Period) (Statement, error) {
	start := time.Now()
	computedAt := e.now()
	agg, err := e.aggregator.Aggregate(ctx, p)
	if err != nil {
		return Statement{}, err
	}
	deduction, err := e.overrides.ReconcileDeduction(ctx, p)
	if err != nil {
		return Statement{}, fmt.Errorf("dre: reconcile deduction: %w", err)
	}
	var manual map[int]fiscal.ManualQuarterlyTaxes
	if p.Type != period.Monthly {
		manual, err = e.overrides.ManualTaxesByQuarter(ctx, p.Year)
		if err != nil {
			return Statement{}, fmt.Errorf("dre: load manual taxes: %w", err)
		}
	}
	s := Assemble(Input{Period: p, Aggregate: agg, Deduction: deduction, Manual: manual})
	s.ComputedAt = computedAt
	e.metrics.observeCompute(string(p.Type), time.Since(start))
	return s, nil
}

// Results returns the snapshot of a quarter, recomputing and refreshing it when its inputs changed.
// A quarter that was never saved is computed but not persisted; its UpdatedAt is zero.
func (e *Engine) Results(ctx context.Context, year, quarter int) (Snapshot, error) {
	snap, _, err := e.quarterSnapshot(ctx, year, quarter)
	return snap, err
}

func (e *Engine) quarterSnapshot(ctx context.Context, year, quarter int) (Snapshot, bool, error) {
	p := period.Quarter(year, quarter)
	snap, ok, err := e.snapshots.LoadSnapshot(ctx, year, quarter)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("dre: load snapshot: %w", err)
	}
	if ok {
		last, err := e.snapshots.LastChange(ctx, p)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("dre: snapshot freshness: %w", err)
		}
		if snap.Fresh(last) {
			e.metrics.snapshot("fresh")
			deduction, err := e.overrides.ReconcileDeduction(ctx, p)
			if err != nil {
				return Snapshot{}, false, fmt.Errorf("dre: reconcile deduction: %w", err)
			}
			snap.Statement.Warnings = deduction.Warnings()
			return snap, true, nil
		}
		e.metrics.snapshot("stale")
		e.logger.InfoContext(ctx, "dre: refreshing stale snapshot",
			slog.String("period", p.Key), slog.Time("snapshot", snap.UpdatedAt), slog.Time("last_change", last))
		refreshed, err := e.RefreshSnapshot(ctx, year, quarter)
		return refreshed, true, err
	}
	e.metrics.snapshot("missing")
	s, err := e.Compute(ctx, p)
	if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{Statement: s}, false, nil
}

// RefreshSnapshot recomputes a quarter and replaces its snapshot. Reads and the write share one transaction.
func (e *Engine) RefreshSnapshot(ctx context.Context, year, quarter int) (Snapshot, error) {
	var snap Snapshot
	err := e.snapshots.InTx(ctx, func(ctx context.Context) error {
		s, err := e.Compute(ctx, period.Quarter(year, quarter))
		if err != nil {
			return err
		}
		snap, err = e.snapshots.SaveSnapshot(ctx, s)
		if err != nil {
			return fmt.Errorf("dre: save snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// RefreshSavedSnapshot replaces the snapshot of a quarter only when one was saved before.
// ok is false, and nothing is written, for quarters that were never saved.
func (e *Engine) RefreshSavedSnapshot(ctx context.Context, year, quarter int) (Snapshot, bool, error) {
	_, ok, err := e.snapshots.LoadSnapshot(ctx, year, quarter)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("dre: load snapshot: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	snap, err := e.RefreshSnapshot(ctx, year, quarter)
	return snap, err == nil, err
}

// SaveResults stores a statement submitted by a client. The submitted deduction goes through the fiscal
// precedence rule, the statement is recomputed server-side and the quarter snapshot replaced, all in one
// transaction. Lines that differ from the submission are reported as warnings.
func (e *Engine) SaveResults(ctx context.Context, req SaveResultsRequest) (SaveResult, error) {
	if err := e.validator.Struct(req); err != nil {
		return SaveResult{}, err
	}
	p := req.Period()

	var (
		stmt     Statement
		snap     Snapshot
		warnings []string
	)
	err := e.snapshots.InTx(ctx, func(ctx context.Context) error {
		_, propagated, err := e.overrides.PropagateDeduction(ctx, p, *req.Statement.TaxDeduction)
		if err != nil {
			return err
		}
		warnings = propagated

		if stmt, err = e.Compute(ctx, p); err != nil {
			return err
		}
		if p.Type != period.Quarterly {
			snap, err = e.RefreshSnapshot(ctx, p.Year, p.Quarter)
			return err
		}
		if snap, err = e.snapshots.SaveSnapshot(ctx, stmt); err != nil {
			return fmt.Errorf("dre: save snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		if !httpx.IsClientError(err) {
			e.logger.ErrorContext(ctx, "dre: save results", slog.String("period", p.Key), slog.Any("error", err))
		}
		return SaveResult{}, err
	}
	for _, w := range warnings {
		e.logger.WarnContext(ctx, "dre: save results", slog.String("period", p.Key), slog.String("warning", w))
	}
	if err := e.cache.Invalidate(ctx, p.Year); err != nil {
		e.logger.ErrorContext(ctx, "dre: invalidate after save", slog.Int("year", p.Year), slog.Any("error", err))
	}

	warnings = append(warnings, diffSubmitted(*req.Statement, stmt)...)
	stmt.Warnings = warnings
	return SaveResult{Statement: stmt, Snapshot: snap, Warnings: warnings}, nil
}

func diffSubmitted(sub SubmittedStatement, computed Statement) []string {
	type line struct {
		name      string
		submitted *decimal.Decimal
		computed  decimal.Decimal
	}
	lines := []line{
		{"receitaLiquida", sub.NetRevenue, computed.NetRevenue},
		{"resultadoBruto", sub.GrossResult, computed.GrossResult},
		{"resultadoOperacional", sub.OperatingResult, computed.OperatingResult},
		{"resultadoLiquido", sub.NetResult, computed.NetResult},
	}
	if sub.Revenues != nil {
		lines = append(lines, line{"receitas.total", &sub.Revenues.Total, computed.Revenues.Total})
	}
	if sub.Taxes != nil {
		lines = append(lines, line{"impostos.total", &sub.Taxes.Total, computed.Taxes.Total})
	}
	var out []string
	for _, l := range lines {
		if l.submitted == nil {
			continue
		}
		if !l.submitted.Round(2).Equal(l.computed.Round(2)) {
			out = append(out, fmt.Sprintf("submitted %s %s differs from computed %s; computed value stored",
				l.name, l.submitted.StringFixed(2), l.computed.StringFixed(2)))
		}
	}
	return out
}
