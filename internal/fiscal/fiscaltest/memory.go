// Package fiscaltest provides an in-memory fiscal.Repository for tests.
package fiscaltest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

type key struct{ year, sub int }

// Repository keeps override rows in maps. Upserts only persist when the commit hook succeeds, and InTx
// restores every map when its function fails.
type Repository struct {
	mu        sync.Mutex
	now       func() time.Time
	monthly   map[key]fiscal.MonthlyTaxDeduction
	quarterly map[key]fiscal.QuarterlyTaxDeduction
	manual    map[key]fiscal.ManualQuarterlyTaxes

	// Err, when set, is returned by every call.
	Err error
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		now:       func() time.Time { return time.Now().UTC() },
		monthly:   map[key]fiscal.MonthlyTaxDeduction{},
		quarterly: map[key]fiscal.QuarterlyTaxDeduction{},
		manual:    map[key]fiscal.ManualQuarterlyTaxes{},
	}
}

// WithNow overrides the clock stamped into updated rows.
func (r *Repository) WithNow(now func() time.Time) *Repository {
	r.now = now
	return r
}

// Len reports how many rows each table holds.
func (r *Repository) Len() (monthly, quarterly, manual int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monthly), len(r.quarterly), len(r.manual)
}

func (r *Repository) GetMonthly(_ context.Context, year, month int) (fiscal.MonthlyTaxDeduction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return fiscal.MonthlyTaxDeduction{}, false, r.Err
	}
	row, ok := r.monthly[key{year, month}]
	return row, ok, nil
}

func (r *Repository) ListMonthly(_ context.Context, year int) ([]fiscal.MonthlyTaxDeduction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []fiscal.MonthlyTaxDeduction
	for k, row := range r.monthly {
		if k.year == year {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (r *Repository) UpsertMonthly(ctx context.Context, in fiscal.MonthlyTaxDeduction, hook fiscal.CommitHook) (fiscal.MonthlyTaxDeduction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.precommit(ctx, hook); err != nil {
		return fiscal.MonthlyTaxDeduction{}, err
	}
	ts := r.now()
	in.UpdatedAt = &ts
	r.monthly[key{in.Year, in.Month}] = in
	return in, nil
}

func (r *Repository) GetQuarterly(_ context.Context, year, quarter int) (fiscal.QuarterlyTaxDeduction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return fiscal.QuarterlyTaxDeduction{}, false, r.Err
	}
	row, ok := r.quarterly[key{year, quarter}]
	return row, ok, nil
}

func (r *Repository) ListQuarterly(_ context.Context, year int) ([]fiscal.QuarterlyTaxDeduction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []fiscal.QuarterlyTaxDeduction
	for k, row := range r.quarterly {
		if k.year == year {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter < out[j].Quarter })
	return out, nil
}

func (r *Repository) UpsertQuarterly(ctx context.Context, in fiscal.QuarterlyTaxDeduction, hook fiscal.CommitHook) (fiscal.QuarterlyTaxDeduction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.precommit(ctx, hook); err != nil {
		return fiscal.QuarterlyTaxDeduction{}, err
	}
	ts := r.now()
	in.UpdatedAt = &ts
	r.quarterly[key{in.Year, in.Quarter}] = in
	return in, nil
}

func (r *Repository) GetManualTaxes(_ context.Context, year, quarter int) (fiscal.ManualQuarterlyTaxes, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return fiscal.ManualQuarterlyTaxes{}, false, r.Err
	}
	row, ok := r.manual[key{year, quarter}]
	return row, ok, nil
}

func (r *Repository) ListManualTaxes(_ context.Context, year int) ([]fiscal.ManualQuarterlyTaxes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []fiscal.ManualQuarterlyTaxes
	for k, row := range r.manual {
		if k.year == year {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter < out[j].Quarter })
	return out, nil
}

func (r *Repository) UpsertManualTaxes(ctx context.Context, in fiscal.ManualQuarterlyTaxes, hook fiscal.CommitHook) (fiscal.ManualQuarterlyTaxes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.precommit(ctx, hook); err != nil {
		return fiscal.ManualQuarterlyTaxes{}, err
	}
	ts := r.now()
	in.UpdatedAt = &ts
	r.manual[key{in.Year, in.Quarter}] = in
	return in, nil
}

// InTx restores the rows held before fn when fn fails. Concurrent writers are not isolated.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, nil, func(ctx context.Context) error {
		restore := r.checkpoint()
		if err := fn(ctx); err != nil {
			restore()
			return err
		}
		return nil
	})
}

// LastChange is the latest updated_at among the rows feeding the given quarters of year.
func (r *Repository) LastChange(year int, quarters []int) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last time.Time
	later := func(ts *time.Time) {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	for _, q := range quarters {
		for m := 3*q - 2; m <= 3*q; m++ {
			if row, ok := r.monthly[key{year, m}]; ok {
				later(row.UpdatedAt)
			}
		}
		if row, ok := r.quarterly[key{year, q}]; ok {
			later(row.UpdatedAt)
		}
		if row, ok := r.manual[key{year, q}]; ok {
			later(row.UpdatedAt)
		}
	}
	return last
}

func (r *Repository) checkpoint() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	monthly := make(map[key]fiscal.MonthlyTaxDeduction, len(r.monthly))
	for k, v := range r.monthly {
		monthly[k] = v
	}
	quarterly := make(map[key]fiscal.QuarterlyTaxDeduction, len(r.quarterly))
	for k, v := range r.quarterly {
		quarterly[k] = v
	}
	manual := make(map[key]fiscal.ManualQuarterlyTaxes, len(r.manual))
	for k, v := range r.manual {
		manual[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.monthly, r.quarterly, r.manual = monthly, quarterly, manual
	}
}

func (r *Repository) precommit(ctx context.Context, hook fiscal.CommitHook) error {
	if r.Err != nil {
		return r.Err
	}
	if hook == nil {
		return nil
	}
	return hook(ctx)
}
