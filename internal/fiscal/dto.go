package fiscal

import "github.com/shopspring/decimal"

// MonthlyDeductionRequest upserts the deduction of one month.
type MonthlyDeductionRequest struct {
	Year  int              `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int              `json:"month" validate:"required,gte=1,lte=12"`
	Value *decimal.Decimal `json:"value" validate:"required,gte=0,cents"`
}

// QuarterlyDeductionRequest upserts the deduction of one quarter.
type QuarterlyDeductionRequest struct {
	Year    int              `json:"year" validate:"required,gte=1900,lte=9999"`
	Quarter int              `json:"quarter" validate:"required,gte=1,lte=4"`
	Value   *decimal.Decimal `json:"value" validate:"required,gte=0,cents"`
}

// ManualTaxesRequest upserts the manual CSLL and IRPJ of one quarter.
type ManualTaxesRequest struct {
	Year    int              `json:"year" validate:"required,gte=1900,lte=9999"`
	Quarter int              `json:"quarter" validate:"required,gte=1,lte=4"`
	CSLL    *decimal.Decimal `json:"csll" validate:"required,gte=0,cents"`
	IRPJ    *decimal.Decimal `json:"irpj" validate:"required,gte=0,cents"`
}

// MonthKey addresses a monthly row.
type MonthKey struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

// QuarterKey addresses a quarterly row.
type QuarterKey struct {
	Year    int `json:"year" validate:"required,gte=1900,lte=9999"`
	Quarter int `json:"quarter" validate:"required,gte=1,lte=4"`
}

// QuarterlyDeductionResult is the stored quarterly row plus the deduction that actually applies.
type QuarterlyDeductionResult struct {
	Row       QuarterlyTaxDeduction
	Effective Resolution
}
