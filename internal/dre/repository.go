package dre

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

// Repository reads raw rows and persists quarterly snapshots in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository over pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const operationTotalsSQL = `SELECT EXTRACT(QUARTER FROM data_operacao)::int AS trimestre,
       COALESCE(SUM(valor_bruto), 0),
       COALESCE(SUM(valor_fator), 0),
       COALESCE(SUM(valor_ad_valorem), 0),
       COALESCE(SUM(valor_iof), 0),
       COALESCE(SUM(valor_tarifas), 0),
       COALESCE(SUM(pis), 0),
       COALESCE(SUM(cofins), 0),
       COALESCE(SUM(issqn), 0)
FROM operacoes
WHERE data_operacao BETWEEN $1 AND $2
GROUP BY 1`

// OperationTotals sums imported operations by quarter.
func (r *Repository) OperationTotals(ctx context.Context, start, end time.Time) (map[int]OperationTotals, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, operationTotalsSQL, start, end)
	if err != nil {
		return nil, fmt.Errorf("dre: query operation totals: %w", err)
	}
	defer rows.Close()

	out := make(map[int]OperationTotals, 4)
	for rows.Next() {
		var q int
		var t OperationTotals
		if err := rows.Scan(&q, &t.Gross, &t.Factor, &t.AdValorem, &t.IOF, &t.Fees, &t.PIS, &t.COFINS, &t.ISSQN); err != nil {
			return nil, fmt.Errorf("dre: scan operation totals: %w", err)
		}
		out[q] = t
	}
	return out, rows.Err()
}

// RevenueTotals sums ledger revenue by quarter.
func (r *Repository) RevenueTotals(ctx context.Context, start, end time.Time) (map[int]decimal.Decimal, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT EXTRACT(QUARTER FROM data)::int, COALESCE(SUM(valor), 0)
FROM receitas
WHERE data BETWEEN $1 AND $2
GROUP BY 1`, start, end)
	if err != nil {
		return nil, fmt.Errorf("dre: query revenue totals: %w", err)
	}
	defer rows.Close()

	out := make(map[int]decimal.Decimal, 4)
	for rows.Next() {
		var q int
		var v decimal.Decimal
		if err := rows.Scan(&q, &v); err != nil {
			return nil, fmt.Errorf("dre: scan revenue totals: %w", err)
		}
		out[q] = v
	}
	return out, rows.Err()
}

// ExpenseTotals sums ledger expenses by quarter, split by the taxable flag.
func (r *Repository) ExpenseTotals(ctx context.Context, start, end time.Time) (map[int]ExpenseTotals, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT EXTRACT(QUARTER FROM data)::int,
       COALESCE(SUM(valor) FILTER (WHERE NOT tributavel), 0),
       COALESCE(SUM(valor) FILTER (WHERE tributavel), 0)
FROM despesas
WHERE data BETWEEN $1 AND $2
GROUP BY 1`, start, end)
	if err != nil {
		return nil, fmt.Errorf("dre: query expense totals: %w", err)
	}
	defer rows.Close()

	out := make(map[int]ExpenseTotals, 4)
	for rows.Next() {
		var q int
		var t ExpenseTotals
		if err := rows.Scan(&q, &t.Operating, &t.Taxable); err != nil {
			return nil, fmt.Errorf("dre: scan expense totals: %w", err)
		}
		out[q] = t
	}
	return out, rows.Err()
}

const lastChangeSQL = `SELECT GREATEST(
    (SELECT MAX(updated_at) FROM operacoes WHERE data_operacao BETWEEN $1 AND $2),
    (SELECT MAX(updated_at) FROM receitas WHERE data BETWEEN $1 AND $2),
    (SELECT MAX(updated_at) FROM despesas WHERE data BETWEEN $1 AND $2),
    (SELECT MAX(updated_at) FROM deducoes_fiscais_mensais WHERE ano = $3 AND mes BETWEEN $4 AND $5),
    (SELECT MAX(updated_at) FROM deducoes_fiscais_trimestrais WHERE ano = $3 AND trimestre = ANY($6)),
    (SELECT MAX(updated_at) FROM impostos_manuais_trimestrais WHERE ano = $3 AND trimestre = ANY($6))
)`

// LastChange returns the latest updated_at of every input to p's statement.
func (r *Repository) LastChange(ctx context.Context, p period.Period) (time.Time, error) {
	months := p.Months()
	var last *time.Time
	err := db.Conn(ctx, r.pool).QueryRow(ctx, lastChangeSQL,
		p.Start, p.End, p.Year, months[0], months[len(months)-1], p.Quarters(),
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("dre: last change: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

const snapshotColumns = `ano, trimestre,
    receitas_operacoes, receitas_outras, receitas_total,
    custos_fator, custos_ad_valorem, custos_iof, custos_tarifas, custos_total,
    deducao_fiscal, receita_liquida, resultado_bruto,
    despesas_operacionais, despesas_tributaveis, despesas_total, resultado_operacional,
    impostos_pis, impostos_cofins, impostos_issqn, impostos_ir, impostos_csll, impostos_total,
    resultado_liquido, fonte_deducao, fonte_impostos, updated_at`

const saveSnapshotSQL = `INSERT INTO resultados_financeiros_trimestrais (` + snapshotColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23,
        $24, $25, $26, $27)
ON CONFLICT (ano, trimestre) DO UPDATE SET
    receitas_operacoes = EXCLUDED.receitas_operacoes,
    receitas_outras = EXCLUDED.receitas_outras,
    receitas_total = EXCLUDED.receitas_total,
    custos_fator = EXCLUDED.custos_fator,
    custos_ad_valorem = EXCLUDED.custos_ad_valorem,
    custos_iof = EXCLUDED.custos_iof,
    custos_tarifas = EXCLUDED.custos_tarifas,
    custos_total = EXCLUDED.custos_total,
    deducao_fiscal = EXCLUDED.deducao_fiscal,
    receita_liquida = EXCLUDED.receita_liquida,
    resultado_bruto = EXCLUDED.resultado_bruto,
    despesas_operacionais = EXCLUDED.despesas_operacionais,
    despesas_tributaveis = EXCLUDED.despesas_tributaveis,
    despesas_total = EXCLUDED.despesas_total,
    resultado_operacional = EXCLUDED.resultado_operacional,
    impostos_pis = EXCLUDED.impostos_pis,
    impostos_cofins = EXCLUDED.impostos_cofins,
    impostos_issqn = EXCLUDED.impostos_issqn,
    impostos_ir = EXCLUDED.impostos_ir,
    impostos_csll = EXCLUDED.impostos_csll,
    impostos_total = EXCLUDED.impostos_total,
    resultado_liquido = EXCLUDED.resultado_liquido,
    fonte_deducao = EXCLUDED.fonte_deducao,
    fonte_impostos = EXCLUDED.fonte_impostos,
    updated_at = EXCLUDED.updated_at
RETURNING ` + snapshotColumns

// InTx runs fn in one transaction shared by raw reads, override writes and snapshot writes.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.pool, fn)
}

// SaveSnapshot replaces the quarter's snapshot with s. The row's updated_at is s.ComputedAt, the moment the
// inputs were read, so changes committed while s was being computed leave the snapshot stale.
func (r *Repository) SaveSnapshot(ctx context.Context, s Statement) (Snapshot, error) {
	if s.Period.Type != period.Quarterly {
		return Snapshot{}, fmt.Errorf("dre: snapshots are quarterly, got %s", s.Period.Type)
	}
	if s.ComputedAt.IsZero() {
		return Snapshot{}, fmt.Errorf("dre: snapshot of %s has no computation time", s.Period.Key)
	}
	var out Snapshot
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		snap, err := scanSnapshot(tx.QueryRow(ctx, saveSnapshotSQL,
			s.Period.Year, s.Period.Quarter,
			s.Revenues.Operations, s.Revenues.Other, s.Revenues.Total,
			s.Costs.Factor, s.Costs.AdValorem, s.Costs.IOF, s.Costs.Fees, s.Costs.Total,
			s.TaxDeduction, s.NetRevenue, s.GrossResult,
			s.Expenses.Operating, s.Expenses.Taxable, s.Expenses.Total, s.OperatingResult,
			s.Taxes.PIS, s.Taxes.COFINS, s.Taxes.ISSQN, s.Taxes.IR, s.Taxes.CSLL, s.Taxes.Total,
			s.NetResult, string(s.Sources.Deduction), string(s.Sources.Taxes), s.ComputedAt,
		))
		if err != nil {
			return err
		}
		out = snap
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("dre: upsert snapshot: %w", err)
	}
	return out, nil
}

// LoadSnapshot reads the snapshot of a quarter.
func (r *Repository) LoadSnapshot(ctx context.Context, year, quarter int) (Snapshot, bool, error) {
	snap, err := scanSnapshot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM resultados_financeiros_trimestrais WHERE ano = $1 AND trimestre = $2`,
		year, quarter))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("dre: load snapshot: %w", err)
	}
	return snap, true, nil
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		s                    Statement
		year, quarter        int
		deductionSrc, taxSrc string
		updated              time.Time
	)
	err := row.Scan(&year, &quarter,
		&s.Revenues.Operations, &s.Revenues.Other, &s.Revenues.Total,
		&s.Costs.Factor, &s.Costs.AdValorem, &s.Costs.IOF, &s.Costs.Fees, &s.Costs.Total,
		&s.TaxDeduction, &s.NetRevenue, &s.GrossResult,
		&s.Expenses.Operating, &s.Expenses.Taxable, &s.Expenses.Total, &s.OperatingResult,
		&s.Taxes.PIS, &s.Taxes.COFINS, &s.Taxes.ISSQN, &s.Taxes.IR, &s.Taxes.CSLL, &s.Taxes.Total,
		&s.NetResult, &deductionSrc, &taxSrc, &updated,
	)
	if err != nil {
		return Snapshot{}, err
	}
	s.Period = period.Quarter(year, quarter)
	s.Sources = Sources{Deduction: fiscal.DeductionSource(deductionSrc), Taxes: TaxSource(taxSrc)}
	s.ComputedAt = updated
	return Snapshot{Statement: s, UpdatedAt: updated}, nil
}
