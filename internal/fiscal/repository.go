package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

// CommitHook runs inside the write transaction after the upsert and before commit.
// Returning an error rolls the write back.
type CommitHook func(ctx context.Context) error

// Repository persists fiscal overrides. Every upsert is keyed and last-write-wins.
type Repository interface {
	GetMonthly(ctx context.Context, year, month int) (MonthlyTaxDeduction, bool, error)
	ListMonthly(ctx context.Context, year int) ([]MonthlyTaxDeduction, error)
	UpsertMonthly(ctx context.Context, row MonthlyTaxDeduction, hook CommitHook) (MonthlyTaxDeduction, error)

	GetQuarterly(ctx context.Context, year, quarter int) (QuarterlyTaxDeduction, bool, error)
	ListQuarterly(ctx context.Context, year int) ([]QuarterlyTaxDeduction, error)
	UpsertQuarterly(ctx context.Context, row QuarterlyTaxDeduction, hook CommitHook) (QuarterlyTaxDeduction, error)

	GetManualTaxes(ctx context.Context, year, quarter int) (ManualQuarterlyTaxes, bool, error)
	ListManualTaxes(ctx context.Context, year int) ([]ManualQuarterlyTaxes, error)
	UpsertManualTaxes(ctx context.Context, row ManualQuarterlyTaxes, hook CommitHook) (ManualQuarterlyTaxes, error)

	// InTx runs fn in one transaction; every call made with fn's context commits or rolls back together.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const (
	upsertMonthlySQL = `INSERT INTO deducoes_fiscais_mensais (ano, mes, valor)
VALUES ($1, $2, $3)
ON CONFLICT (ano, mes) DO UPDATE SET valor = EXCLUDED.valor, updated_at = now()
RETURNING ano, mes, valor, updated_at`

	upsertQuarterlySQL = `INSERT INTO deducoes_fiscais_trimestrais (ano, trimestre, valor)
VALUES ($1, $2, $3)
ON CONFLICT (ano, trimestre) DO UPDATE SET valor = EXCLUDED.valor, updated_at = now()
RETURNING ano, trimestre, valor, updated_at`

	upsertManualTaxesSQL = `INSERT INTO impostos_manuais_trimestrais (ano, trimestre, csll, irpj)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ano, trimestre) DO UPDATE SET csll = EXCLUDED.csll, irpj = EXCLUDED.irpj, updated_at = now()
RETURNING ano, trimestre, csll, irpj, updated_at`
)

func (r *repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.pool, fn)
}

func (r *repository) GetMonthly(ctx context.Context, year, month int) (MonthlyTaxDeduction, bool, error) {
	row, err := scanMonthly(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT ano, mes, valor, updated_at FROM deducoes_fiscais_mensais WHERE ano = $1 AND mes = $2`, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonthlyTaxDeduction{}, false, nil
	}
	if err != nil {
		return MonthlyTaxDeduction{}, false, fmt.Errorf("fiscal: get monthly deduction: %w", err)
	}
	return row, true, nil
}

func (r *repository) ListMonthly(ctx context.Context, year int) ([]MonthlyTaxDeduction, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT ano, mes, valor, updated_at FROM deducoes_fiscais_mensais WHERE ano = $1 ORDER BY mes`, year)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list monthly deductions: %w", err)
	}
	defer rows.Close()

	var out []MonthlyTaxDeduction
	for rows.Next() {
		row, err := scanMonthly(rows)
		if err != nil {
			return nil, fmt.Errorf("fiscal: scan monthly deduction: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) UpsertMonthly(ctx context.Context, in MonthlyTaxDeduction, hook CommitHook) (MonthlyTaxDeduction, error) {
	var out MonthlyTaxDeduction
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row, err := scanMonthly(tx.QueryRow(ctx, upsertMonthlySQL, in.Year, in.Month, in.Value))
		if err != nil {
			return fmt.Errorf("fiscal: upsert monthly deduction: %w", err)
		}
		out = row
		return runHook(ctx, hook)
	})
	return out, err
}

func (r *repository) GetQuarterly(ctx context.Context, year, quarter int) (QuarterlyTaxDeduction, bool, error) {
	row, err := scanQuarterly(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT ano, trimestre, valor, updated_at FROM deducoes_fiscais_trimestrais WHERE ano = $1 AND trimestre = $2`, year, quarter))
	if errors.Is(err, pgx.ErrNoRows) {
		return QuarterlyTaxDeduction{}, false, nil
	}
	if err != nil {
		return QuarterlyTaxDeduction{}, false, fmt.Errorf("fiscal: get quarterly deduction: %w", err)
	}
	return row, true, nil
}

func (r *repository) ListQuarterly(ctx context.Context, year int) ([]QuarterlyTaxDeduction, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT ano, trimestre, valor, updated_at FROM deducoes_fiscais_trimestrais WHERE ano = $1 ORDER BY trimestre`, year)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list quarterly deductions: %w", err)
	}
	defer rows.Close()

	var out []QuarterlyTaxDeduction
	for rows.Next() {
		row, err := scanQuarterly(rows)
		if err != nil {
			return nil, fmt.Errorf("fiscal: scan quarterly deduction: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) UpsertQuarterly(ctx context.Context, in QuarterlyTaxDeduction, hook CommitHook) (QuarterlyTaxDeduction, error) {
	var out QuarterlyTaxDeduction
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row, err := scanQuarterly(tx.QueryRow(ctx, upsertQuarterlySQL, in.Year, in.Quarter, in.Value))
		if err != nil {
			return fmt.Errorf("fiscal: upsert quarterly deduction: %w", err)
		}
		out = row
		return runHook(ctx, hook)
	})
	return out, err
}

func (r *repository) GetManualTaxes(ctx context.Context, year, quarter int) (ManualQuarterlyTaxes, bool, error) {
	row, err := scanManual(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT ano, trimestre, csll, irpj, updated_at FROM impostos_manuais_trimestrais WHERE ano = $1 AND trimestre = $2`, year, quarter))
	if errors.Is(err, pgx.ErrNoRows) {
		return ManualQuarterlyTaxes{}, false, nil
	}
	if err != nil {
		return ManualQuarterlyTaxes{}, false, fmt.Errorf("fiscal: get manual taxes: %w", err)
	}
	return row, true, nil
}

func (r *repository) ListManualTaxes(ctx context.Context, year int) ([]ManualQuarterlyTaxes, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT ano, trimestre, csll, irpj, updated_at FROM impostos_manuais_trimestrais WHERE ano = $1 ORDER BY trimestre`, year)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list manual taxes: %w", err)
	}
	defer rows.Close()

	var out []ManualQuarterlyTaxes
	for rows.Next() {
		row, err := scanManual(rows)
		if err != nil {
			return nil, fmt.Errorf("fiscal: scan manual taxes: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) UpsertManualTaxes(ctx context.Context, in ManualQuarterlyTaxes, hook CommitHook) (ManualQuarterlyTaxes, error) {
	var out ManualQuarterlyTaxes
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row, err := scanManual(tx.QueryRow(ctx, upsertManualTaxesSQL, in.Year, in.Quarter, in.CSLL, in.IRPJ))
		if err != nil {
			return fmt.Errorf("fiscal: upsert manual taxes: %w", err)
		}
		out = row
		return runHook(ctx, hook)
	})
	return out, err
}

func runHook(ctx context.Context, hook CommitHook) error {
	if hook == nil {
		return nil
	}
	return hook(ctx)
}

func scanMonthly(row pgx.Row) (MonthlyTaxDeduction, error) {
	var out MonthlyTaxDeduction
	var updated time.Time
	if err := row.Scan(&out.Year, &out.Month, &out.Value, &updated); err != nil {
		return MonthlyTaxDeduction{}, err
	}
	out.UpdatedAt = &updated
	return out, nil
}

func scanQuarterly(row pgx.Row) (QuarterlyTaxDeduction, error) {
	var out QuarterlyTaxDeduction
	var updated time.Time
	if err := row.Scan(&out.Year, &out.Quarter, &out.Value, &updated); err != nil {
		return QuarterlyTaxDeduction{}, err
	}
	out.UpdatedAt = &updated
	return out, nil
}

func scanManual(row pgx.Row) (ManualQuarterlyTaxes, error) {
	var out ManualQuarterlyTaxes
	var updated time.Time
	if err := row.Scan(&out.Year, &out.Quarter, &out.CSLL, &out.IRPJ, &updated); err != nil {
		return ManualQuarterlyTaxes{}, err
	}
	out.UpdatedAt = &updated
	return out, nil
}
