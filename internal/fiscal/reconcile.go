package fiscal

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// ResolveDeduction applies the deduction precedence for p over the rows of p's year.
//
// Monthly rows inside p win whenever at least one exists; otherwise the quarterly row for p applies.
// A month without its own row resolves to zero. Annual periods are the sum of the four quarters resolved
// independently. Amounts are added as-is, never scaled.
func ResolveDeduction(p period.Period, monthly []MonthlyTaxDeduction, quarterly []QuarterlyTaxDeduction) Resolution {
	months := make(map[int]decimal.Decimal, len(monthly))
	for _, row := range monthly {
		if row.Year != p.Year {
			continue
		}
		months[row.Month] = row.Value
	}
	quarters := make(map[int]decimal.Decimal, len(quarterly))
	for _, row := range quarterly {
		if row.Year != p.Year {
			continue
		}
		quarters[row.Quarter] = row.Value
	}

	switch p.Type {
	case period.Monthly:
		if v, ok := months[p.Month]; ok {
			return Resolution{Amount: v, Source: SourceMonthly}
		}
		return Resolution{Amount: decimal.Zero, Source: SourceNone}
	case period.Quarterly:
		return resolveQuarter(p.Year, p.Quarter, months, quarters)
	default:
		total := Resolution{Amount: decimal.Zero, Source: SourceNone}
		for q := 1; q <= 4; q++ {
			r := resolveQuarter(p.Year, q, months, quarters)
			total.Amount = total.Amount.Add(r.Amount)
			total.Conflicts = append(total.Conflicts, r.Conflicts...)
			switch {
			case r.Source == SourceNone:
			case total.Source == SourceNone:
				total.Source = r.Source
			case total.Source != r.Source:
				total.Source = SourceMixed
			}
		}
		return total
	}
}

func resolveQuarter(year, quarter int, months map[int]decimal.Decimal, quarters map[int]decimal.Decimal) Resolution {
	first := 3*(quarter-1) + 1
	sum := decimal.Zero
	found := false
	for m := first; m < first+3; m++ {
		if v, ok := months[m]; ok {
			sum = sum.Add(v)
			found = true
		}
	}
	qv, hasQuarter := quarters[quarter]
	if !found {
		if hasQuarter {
			return Resolution{Amount: qv, Source: SourceQuarterly}
		}
		return Resolution{Amount: decimal.Zero, Source: SourceNone}
	}
	res := Resolution{Amount: sum, Source: SourceMonthly}
	if hasQuarter && !qv.Equal(sum) {
		res.Conflicts = []Conflict{{
			PeriodKey: period.Quarter(year, quarter).Key,
			Monthly:   sum,
			Quarterly: qv,
			Chosen:    sum,
		}}
	}
	return res
}
