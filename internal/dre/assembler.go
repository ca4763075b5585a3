package dre

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

var (
	// CSLLRate applies to the gross result when no manual CSLL is stored.
	CSLLRate = decimal.RequireFromString("0.09")
	// IRPJRate applies to the gross result when no manual IRPJ is stored.
	IRPJRate = decimal.RequireFromString("0.15")
)

// Input is everything the assembler combines into a statement.
type Input struct {
	Period    period.Period
	Aggregate Aggregate
	Deduction fiscal.Resolution
	// Manual holds manual taxes keyed by quarter. Ignored for monthly periods.
	Manual map[int]fiscal.ManualQuarterlyTaxes
}

// Assemble builds the statement in fixed order; each line uses only lines computed before it.
func Assemble(in Input) Statement {
	t := in.Aggregate.Total
	s := Statement{Period: in.Period}

	s.Revenues = Revenues{Operations: t.Operations, Other: t.Other, Total: t.Revenue()}
	s.Costs = Costs{Factor: t.Factor, AdValorem: t.AdValorem, IOF: t.IOF, Fees: t.Fees, Total: t.Cost()}
	s.GrossResult = s.Revenues.Total.Sub(s.Costs.Total)

	s.TaxDeduction = in.Deduction.Amount
	s.NetRevenue = s.Revenues.Total.Sub(s.TaxDeduction)

	s.Expenses = Expenses{
		Operating: t.OperatingExpenses,
		Taxable:   t.TaxableExpenses,
		Total:     t.OperatingExpenses.Add(t.TaxableExpenses),
	}
	s.OperatingResult = s.GrossResult.Sub(s.Expenses.Total)

	csll, irpj, source := profitTaxes(in, s.GrossResult)
	s.Taxes = Taxes{PIS: t.PIS, COFINS: t.COFINS, ISSQN: t.ISSQN, IR: irpj, CSLL: csll}
	s.Taxes.Total = s.Taxes.PIS.Add(s.Taxes.COFINS).Add(s.Taxes.ISSQN).Add(s.Taxes.IR).Add(s.Taxes.CSLL)

	s.NetResult = s.OperatingResult.Sub(s.Taxes.Total)
	s.Sources = Sources{Deduction: in.Deduction.Source, Taxes: source}
	s.Warnings = in.Deduction.Warnings()
	return s
}

// profitTaxes returns CSLL and IRPJ. Quarterly periods prefer the manual row; annual periods sum the quarterly
// rule over each quarter's own bucket; monthly periods always compute from gross.
func profitTaxes(in Input, gross decimal.Decimal) (csll, irpj decimal.Decimal, source TaxSource) {
	switch in.Period.Type {
	case period.Quarterly:
		return quarterTaxes(in.Manual, in.Period.Quarter, gross)
	case period.Annual:
		csll, irpj = decimal.Zero, decimal.Zero
		manual := 0
		for q := 1; q <= 4; q++ {
			b := in.Aggregate.Bucket(q)
			c, i, src := quarterTaxes(in.Manual, q, b.Revenue().Sub(b.Cost()))
			csll = csll.Add(c)
			irpj = irpj.Add(i)
			if src == TaxesManual {
				manual++
			}
		}
		switch manual {
		case 0:
			return csll, irpj, TaxesComputed
		case 4:
			return csll, irpj, TaxesManual
		default:
			return csll, irpj, TaxesMixed
		}
	default:
		return computedTax(gross, CSLLRate), computedTax(gross, IRPJRate), TaxesComputed
	}
}

func quarterTaxes(manual map[int]fiscal.ManualQuarterlyTaxes, quarter int, gross decimal.Decimal) (decimal.Decimal, decimal.Decimal, TaxSource) {
	if m, ok := manual[quarter]; ok {
		return m.CSLL, m.IRPJ, TaxesManual
	}
	return computedTax(gross, CSLLRate), computedTax(gross, IRPJRate), TaxesComputed
}

func computedTax(gross, rate decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, gross.Mul(rate))
}
