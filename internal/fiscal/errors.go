package fiscal

import "github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"

var (
	errNegativeDeduction = httpx.NewValidationError("deducaoFiscal", "must be greater than or equal to 0")
	errAnnualPropagation = httpx.NewValidationError("period", "deductions are stored per month or quarter, not per year")
)
