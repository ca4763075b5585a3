package dre

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// OperationTotals are the sums of imported operations in one quarter.
type OperationTotals struct {
	Gross     decimal.Decimal
	Factor    decimal.Decimal
	AdValorem decimal.Decimal
	IOF       decimal.Decimal
	Fees      decimal.Decimal
	PIS       decimal.Decimal
	COFINS    decimal.Decimal
	ISSQN     decimal.Decimal
}

// ExpenseTotals are ledger expenses of one quarter split by the taxable flag.
type ExpenseTotals struct {
	Operating decimal.Decimal
	Taxable   decimal.Decimal
}

// RawSource reads raw rows grouped by calendar quarter over an inclusive date range.
type RawSource interface {
	OperationTotals(ctx context.Context, start, end time.Time) (map[int]OperationTotals, error)
	RevenueTotals(ctx context.Context, start, end time.Time) (map[int]decimal.Decimal, error)
	ExpenseTotals(ctx context.Context, start, end time.Time) (map[int]ExpenseTotals, error)
}

// Bucket holds every raw subtotal the assembler needs for one quarter.
type Bucket struct {
	Operations        decimal.Decimal
	Other             decimal.Decimal
	Factor            decimal.Decimal
	AdValorem         decimal.Decimal
	IOF               decimal.Decimal
	Fees              decimal.Decimal
	OperatingExpenses decimal.Decimal
	TaxableExpenses   decimal.Decimal
	PIS               decimal.Decimal
	COFINS            decimal.Decimal
	ISSQN             decimal.Decimal
}

// Add returns the field-wise sum of b and o.
func (b Bucket) Add(o Bucket) Bucket {
	return Bucket{
		Operations:        b.Operations.Add(o.Operations),
		Other:             b.Other.Add(o.Other),
		Factor:            b.Factor.Add(o.Factor),
		AdValorem:         b.AdValorem.Add(o.AdValorem),
		IOF:               b.IOF.Add(o.IOF),
		Fees:              b.Fees.Add(o.Fees),
		OperatingExpenses: b.OperatingExpenses.Add(o.OperatingExpenses),
		TaxableExpenses:   b.TaxableExpenses.Add(o.TaxableExpenses),
		PIS:               b.PIS.Add(o.PIS),
		COFINS:            b.COFINS.Add(o.COFINS),
		ISSQN:             b.ISSQN.Add(o.ISSQN),
	}
}

// Revenue is operations plus other revenue.
func (b Bucket) Revenue() decimal.Decimal {
	return b.Operations.Add(b.Other)
}

// Cost is the sum of financial costs.
func (b Bucket) Cost() decimal.Decimal {
	return b.Factor.Add(b.AdValorem).Add(b.IOF).Add(b.Fees)
}

// Aggregate is the raw input of one statement. Total is the sum of the disjoint quarter buckets.
type Aggregate struct {
	Buckets map[int]Bucket
	Total   Bucket
}

// Bucket returns the quarter's bucket, zero when the quarter had no rows.
func (a Aggregate) Bucket(quarter int) Bucket {
	if b, ok := a.Buckets[quarter]; ok {
		return b
	}
	return Bucket{}
}

// Aggregator sums raw rows for a period.
type Aggregator struct {
	source RawSource
}

// NewAggregator constructs an Aggregator over source.
func NewAggregator(source RawSource) *Aggregator {
	return &Aggregator{source: source}
}

// Aggregate runs one grouped pass per source over p's range. Rows are summed once, directly, for the full range.
func (a *Aggregator) Aggregate(ctx context.Context, p period.Period) (Aggregate, error) {
	ops, err := a.source.OperationTotals(ctx, p.Start, p.End)
	if err != nil {
		return Aggregate{}, fmt.Errorf("dre: aggregate operations: %w", err)
	}
	revenues, err := a.source.RevenueTotals(ctx, p.Start, p.End)
	if err != nil {
		return Aggregate{}, fmt.Errorf("dre: aggregate revenues: %w", err)
	}
	expenses, err := a.source.ExpenseTotals(ctx, p.Start, p.End)
	if err != nil {
		return Aggregate{}, fmt.Errorf("dre: aggregate expenses: %w", err)
	}

	out := Aggregate{Buckets: make(map[int]Bucket, 4)}
	for _, q := range p.Quarters() {
		op := ops[q]
		exp := expenses[q]
		b := Bucket{
			Operations:        op.Gross,
			Other:             revenues[q],
			Factor:            op.Factor,
			AdValorem:         op.AdValorem,
			IOF:               op.IOF,
			Fees:              op.Fees,
			OperatingExpenses: exp.Operating,
			TaxableExpenses:   exp.Taxable,
			PIS:               op.PIS,
			COFINS:            op.COFINS,
			ISSQN:             op.ISSQN,
		}
		out.Buckets[q] = b
		out.Total = out.Total.Add(b)
	}
	return out, nil
}
