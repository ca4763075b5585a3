package dre

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// SubmittedStatement is a statement as a client last displayed it. Only deducaoFiscal is stored as given;
// every other line is recomputed and compared.
type SubmittedStatement struct {
	Period          json.RawMessage  `json:"periodo,omitempty"`
	Revenues        *Revenues        `json:"receitas,omitempty"`
	Costs           *Costs           `json:"custos,omitempty"`
	TaxDeduction    *decimal.Decimal `json:"deducaoFiscal" validate:"required,gte=0,cents"`
	NetRevenue      *decimal.Decimal `json:"receitaLiquida,omitempty"`
	GrossResult     *decimal.Decimal `json:"resultadoBruto,omitempty"`
	Expenses        *Expenses        `json:"despesas,omitempty"`
	OperatingResult *decimal.Decimal `json:"resultadoOperacional,omitempty"`
	Taxes           *Taxes           `json:"impostos,omitempty"`
	NetResult       *decimal.Decimal `json:"resultadoLiquido,omitempty"`
	Sources         *Sources         `json:"fontes,omitempty"`
	ComputedAt      *time.Time       `json:"calculadoEm,omitempty"`
}

// SaveResultsRequest persists the statement of one quarter or month.
type SaveResultsRequest struct {
	Year      int                 `json:"year" validate:"required,gte=1900,lte=9999"`
	Quarter   *int                `json:"quarter" validate:"required_without=Month,excluded_with=Month,omitempty,gte=1,lte=4"`
	Month     *int                `json:"month" validate:"required_without=Quarter,omitempty,gte=1,lte=12"`
	Statement *SubmittedStatement `json:"statement" validate:"required"`
}

// Period resolves the request. The request must have passed validation.
func (r SaveResultsRequest) Period() period.Period {
	if r.Quarter != nil {
		return period.Quarter(r.Year, *r.Quarter)
	}
	return period.Month(r.Year, *r.Month)
}

// SaveResult is the outcome of a save: the recomputed statement, the refreshed quarter snapshot and warnings.
type SaveResult struct {
	Statement Statement
	Snapshot  Snapshot
	Warnings  []string
}

// Comparison pairs a statement with the one of the previous period.
type Comparison struct {
	Current  Statement
	Previous Statement
	Growth   Growth
}
