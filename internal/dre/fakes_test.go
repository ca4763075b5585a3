package dre

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/fiscal/fiscaltest"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

type opRow struct {
	date time.Time
	ops  OperationTotals
}

type ledgerRow struct {
	date    time.Time
	value   decimal.Decimal
	taxable bool
}

type fakeSource struct {
	mu         sync.Mutex
	operations []opRow
	revenues   []ledgerRow
	expenses   []ledgerRow
	calls      atomic.Int32
}

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func (f *fakeSource) addOperation(date time.Time, ops OperationTotals) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, opRow{date: date, ops: ops})
}

func (f *fakeSource) addRevenue(date time.Time, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revenues = append(f.revenues, ledgerRow{date: date, value: decimal.RequireFromString(v)})
}

func (f *fakeSource) addExpense(date time.Time, v string, taxable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expenses = append(f.expenses, ledgerRow{date: date, value: decimal.RequireFromString(v), taxable: taxable})
}

func inRange(t, start, end time.Time) bool { return !t.Before(start) && !t.After(end) }

func quarterOf(t time.Time) int { return period.QuarterOf(int(t.Month())) }

func (f *fakeSource) OperationTotals(_ context.Context, start, end time.Time) (map[int]OperationTotals, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]OperationTotals{}
	for _, r := range f.operations {
		if !inRange(r.date, start, end) {
			continue
		}
		q := quarterOf(r.date)
		cur := out[q]
		out[q] = OperationTotals{
			Gross:     cur.Gross.Add(r.ops.Gross),
			Factor:    cur.Factor.Add(r.ops.Factor),
			AdValorem: cur.AdValorem.Add(r.ops.AdValorem),
			IOF:       cur.IOF.Add(r.ops.IOF),
			Fees:      cur.Fees.Add(r.ops.Fees),
			PIS:       cur.PIS.Add(r.ops.PIS),
			COFINS:    cur.COFINS.Add(r.ops.COFINS),
			ISSQN:     cur.ISSQN.Add(r.ops.ISSQN),
		}
	}
	return out, nil
}

func (f *fakeSource) RevenueTotals(_ context.Context, start, end time.Time) (map[int]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]decimal.Decimal{}
	for _, r := range f.revenues {
		if inRange(r.date, start, end) {
			q := quarterOf(r.date)
			out[q] = out[q].Add(r.value)
		}
	}
	return out, nil
}

func (f *fakeSource) ExpenseTotals(_ context.Context, start, end time.Time) (map[int]ExpenseTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]ExpenseTotals{}
	for _, r := range f.expenses {
		if !inRange(r.date, start, end) {
			continue
		}
		q := quarterOf(r.date)
		cur := out[q]
		if r.taxable {
			cur.Taxable = cur.Taxable.Add(r.value)
		} else {
			cur.Operating = cur.Operating.Add(r.value)
		}
		out[q] = cur
	}
	return out, nil
}

// hookedOverrides runs afterReconcile once, right after the next deduction reconciliation.
type hookedOverrides struct {
	Overrides
	afterReconcile func()
}

func (o *hookedOverrides) ReconcileDeduction(ctx context.Context, p period.Period) (fiscal.Resolution, error) {
	res, err := o.Overrides.ReconcileDeduction(ctx, p)
	if hook := o.afterReconcile; hook != nil {
		o.afterReconcile = nil
		hook()
	}
	return res, err
}

// memSnapshots keeps only what the Postgres table stores and rolls back together with the override fake.
type memSnapshots struct {
	mu        sync.Mutex
	overrides *fiscaltest.Repository
	rows      map[[2]int]Snapshot
	last      time.Time
	saves     int
	saveErr   error
}

func newMemSnapshots(overrides *fiscaltest.Repository) *memSnapshots {
	return &memSnapshots{overrides: overrides, rows: map[[2]int]Snapshot{}}
}

func (m *memSnapshots) LoadSnapshot(_ context.Context, year, quarter int) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[[2]int{year, quarter}]
	return s, ok, nil
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, s Statement) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return Snapshot{}, m.saveErr
	}
	m.saves++
	s.Warnings = nil
	snap := Snapshot{Statement: s, UpdatedAt: s.ComputedAt}
	m.rows[[2]int{s.Period.Year, s.Period.Quarter}] = snap
	return snap, nil
}

func (m *memSnapshots) LastChange(_ context.Context, p period.Period) (time.Time, error) {
	last := m.overrides.LastChange(p.Year, p.Quarters())
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.After(last) {
		last = m.last
	}
	return last, nil
}

func (m *memSnapshots) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.overrides.InTx(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		rows := make(map[[2]int]Snapshot, len(m.rows))
		for k, v := range m.rows {
			rows[k] = v
		}
		m.mu.Unlock()
		if err := fn(ctx); err != nil {
			m.mu.Lock()
			m.rows = rows
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

// touch records a raw row change at t.
func (m *memSnapshots) touch(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = t
}
