package fiscal

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyTaxDeduction is the fiscal deduction entered for a single month.
type MonthlyTaxDeduction struct {
	Year      int             `json:"year"`
	Month     int             `json:"month"`
	Value     decimal.Decimal `json:"value"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// QuarterlyTaxDeduction is the fiscal deduction entered for a whole quarter.
type QuarterlyTaxDeduction struct {
	Year      int             `json:"year"`
	Quarter   int             `json:"quarter"`
	Value     decimal.Decimal `json:"value"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// ManualQuarterlyTaxes replaces the computed CSLL and IRPJ of a quarter when present.
type ManualQuarterlyTaxes struct {
	Year      int             `json:"year"`
	Quarter   int             `json:"quarter"`
	CSLL      decimal.Decimal `json:"csll"`
	IRPJ      decimal.Decimal `json:"irpj"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// DeductionSource names where a resolved deduction came from.
type DeductionSource string

const (
	SourceMonthly   DeductionSource = "mensal"
	SourceQuarterly DeductionSource = "trimestral"
	SourceNone      DeductionSource = "nenhuma"
	SourceMixed     DeductionSource = "misto"
)

// Conflict records a quarter where both monthly rows and a quarterly row exist with different totals.
type Conflict struct {
	PeriodKey string          `json:"period"`
	Monthly   decimal.Decimal `json:"monthly"`
	Quarterly decimal.Decimal `json:"quarterly"`
	Chosen    decimal.Decimal `json:"chosen"`
}

// Resolution is the single deduction figure applied to a period.
type Resolution struct {
	Amount    decimal.Decimal
	Source    DeductionSource
	Conflicts []Conflict
}

// Warnings renders conflicts as caller-facing messages.
func (r Resolution) Warnings() []string {
	out := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		out = append(out, c.String())
	}
	return out
}

func (c Conflict) String() string {
	return "monthly deductions for " + c.PeriodKey + " total " + c.Monthly.StringFixed(2) +
		" and take precedence over the quarterly value " + c.Quarterly.StringFixed(2) +
		"; applied " + c.Chosen.StringFixed(2)
}
