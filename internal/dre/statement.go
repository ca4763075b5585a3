package dre

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// TaxSource names where CSLL and IRPJ came from.
type TaxSource string

const (
	TaxesComputed TaxSource = "calculado"
	TaxesManual   TaxSource = "manual"
	TaxesMixed    TaxSource = "misto"
)

// Revenues groups operation revenue and other ledger revenue.
type Revenues struct {
	Operations decimal.Decimal `json:"operacoes"`
	Other      decimal.Decimal `json:"outras"`
	Total      decimal.Decimal `json:"total"`
}

// Costs groups the financial costs withheld on operations.
type Costs struct {
	Factor    decimal.Decimal `json:"fator"`
	AdValorem decimal.Decimal `json:"adValorem"`
	IOF       decimal.Decimal `json:"iof"`
	Fees      decimal.Decimal `json:"tarifas"`
	Total     decimal.Decimal `json:"total"`
}

// Expenses splits ledger expenses by the taxable flag.
type Expenses struct {
	Operating decimal.Decimal `json:"operacionais"`
	Taxable   decimal.Decimal `json:"tributaveis"`
	Total     decimal.Decimal `json:"total"`
}

// Taxes lists retained and profit-based taxes.
type Taxes struct {
	PIS    decimal.Decimal `json:"pis"`
	COFINS decimal.Decimal `json:"cofins"`
	ISSQN  decimal.Decimal `json:"issqn"`
	IR     decimal.Decimal `json:"ir"`
	CSLL   decimal.Decimal `json:"csll"`
	Total  decimal.Decimal `json:"total"`
}

// Sources records the provenance of the override-driven lines.
type Sources struct {
	Deduction fiscal.DeductionSource `json:"deducao"`
	Taxes     TaxSource              `json:"impostos"`
}

// Statement is the full-precision income statement of one period.
type Statement struct {
	Period          period.Period   `json:"periodo"`
	Revenues        Revenues        `json:"receitas"`
	Costs           Costs           `json:"custos"`
	TaxDeduction    decimal.Decimal `json:"deducaoFiscal"`
	NetRevenue      decimal.Decimal `json:"receitaLiquida"`
	GrossResult     decimal.Decimal `json:"resultadoBruto"`
	Expenses        Expenses        `json:"despesas"`
	OperatingResult decimal.Decimal `json:"resultadoOperacional"`
	Taxes           Taxes           `json:"impostos"`
	NetResult       decimal.Decimal `json:"resultadoLiquido"`
	Sources         Sources         `json:"fontes"`
	ComputedAt      time.Time       `json:"calculadoEm"`
	Warnings        []string        `json:"avisos,omitempty"`
}

// RevenuesView is the rounded Revenues.
type RevenuesView struct {
	Operations float64 `json:"operacoes"`
	Other      float64 `json:"outras"`
	Total      float64 `json:"total"`
}

// CostsView is the rounded Costs.
type CostsView struct {
	Factor    float64 `json:"fator"`
	AdValorem float64 `json:"adValorem"`
	IOF       float64 `json:"iof"`
	Fees      float64 `json:"tarifas"`
	Total     float64 `json:"total"`
}

// ExpensesView is the rounded Expenses.
type ExpensesView struct {
	Operating float64 `json:"operacionais"`
	Taxable   float64 `json:"tributaveis"`
	Total     float64 `json:"total"`
}

// TaxesView is the rounded Taxes.
type TaxesView struct {
	PIS    float64 `json:"pis"`
	COFINS float64 `json:"cofins"`
	ISSQN  float64 `json:"issqn"`
	IR     float64 `json:"ir"`
	CSLL   float64 `json:"csll"`
	Total  float64 `json:"total"`
}

// View is the serialized statement, every amount rounded to two places.
type View struct {
	Period          period.Period `json:"periodo"`
	Revenues        RevenuesView  `json:"receitas"`
	Costs           CostsView     `json:"custos"`
	TaxDeduction    float64       `json:"deducaoFiscal"`
	NetRevenue      float64       `json:"receitaLiquida"`
	GrossResult     float64       `json:"resultadoBruto"`
	Expenses        ExpensesView  `json:"despesas"`
	OperatingResult float64       `json:"resultadoOperacional"`
	Taxes           TaxesView     `json:"impostos"`
	NetResult       float64       `json:"resultadoLiquido"`
	Sources         Sources       `json:"fontes"`
	ComputedAt      time.Time     `json:"calculadoEm"`
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// View rounds the statement for output. This is the only place amounts leave decimal arithmetic.
func (s Statement) View() View {
	return View{
		Period: s.Period,
		Revenues: RevenuesView{
			Operations: round2(s.Revenues.Operations),
			Other:      round2(s.Revenues.Other),
			Total:      round2(s.Revenues.Total),
		},
		Costs: CostsView{
			Factor:    round2(s.Costs.Factor),
			AdValorem: round2(s.Costs.AdValorem),
			IOF:       round2(s.Costs.IOF),
			Fees:      round2(s.Costs.Fees),
			Total:     round2(s.Costs.Total),
		},
		TaxDeduction: round2(s.TaxDeduction),
		NetRevenue:   round2(s.NetRevenue),
		GrossResult:  round2(s.GrossResult),
		Expenses: ExpensesView{
			Operating: round2(s.Expenses.Operating),
			Taxable:   round2(s.Expenses.Taxable),
			Total:     round2(s.Expenses.Total),
		},
		OperatingResult: round2(s.OperatingResult),
		Taxes: TaxesView{
			PIS:    round2(s.Taxes.PIS),
			COFINS: round2(s.Taxes.COFINS),
			ISSQN:  round2(s.Taxes.ISSQN),
			IR:     round2(s.Taxes.IR),
			CSLL:   round2(s.Taxes.CSLL),
			Total:  round2(s.Taxes.Total),
		},
		NetResult:  round2(s.NetResult),
		Sources:    s.Sources,
		ComputedAt: s.ComputedAt,
	}
}

// Growth holds period-over-period percentage changes. A nil entry means the previous value was zero.
type Growth struct {
	Revenues        *float64 `json:"receitas"`
	GrossResult     *float64 `json:"resultadoBruto"`
	OperatingResult *float64 `json:"resultadoOperacional"`
	NetResult       *float64 `json:"resultadoLiquido"`
}

var hundred = decimal.NewFromInt(100)

func growth(current, previous decimal.Decimal) *float64 {
	if previous.IsZero() {
		return nil
	}
	v := current.Sub(previous).Div(previous.Abs()).Mul(hundred).Round(2).InexactFloat64()
	return &v
}

// CompareTo computes growth of s relative to prev.
func (s Statement) CompareTo(prev Statement) Growth {
	return Growth{
		Revenues:        growth(s.Revenues.Total, prev.Revenues.Total),
		GrossResult:     growth(s.GrossResult, prev.GrossResult),
		OperatingResult: growth(s.OperatingResult, prev.OperatingResult),
		NetResult:       growth(s.NetResult, prev.NetResult),
	}
}
