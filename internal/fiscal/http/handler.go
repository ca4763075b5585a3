package fiscalhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dre/internal/shared"
)

type fiscalService interface {
	GetMonthly(ctx context.Context, key fiscal.MonthKey) (fiscal.MonthlyTaxDeduction, error)
	SaveMonthly(ctx context.Context, req fiscal.MonthlyDeductionRequest) (fiscal.MonthlyTaxDeduction, error)
	GetQuarterly(ctx context.Context, key fiscal.QuarterKey) (fiscal.QuarterlyTaxDeduction, error)
	SaveQuarterly(ctx context.Context, req fiscal.QuarterlyDeductionRequest) (fiscal.QuarterlyDeductionResult, error)
	GetManualTaxes(ctx context.Context, key fiscal.QuarterKey) (fiscal.ManualQuarterlyTaxes, error)
	SaveManualTaxes(ctx context.Context, req fiscal.ManualTaxesRequest) (fiscal.ManualQuarterlyTaxes, error)
}

// Handler serves the fiscal override endpoints.
type Handler struct {
	logger  *slog.Logger
	service fiscalService
}

// NewHandler constructs the fiscal override handler.
func NewHandler(logger *slog.Logger, service fiscalService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers override routes relative to the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/deductions/monthly", h.handleGetMonthly)
	r.Post("/deductions/monthly", h.handleSaveMonthly)
	r.Get("/deductions/quarterly", h.handleGetQuarterly)
	r.Post("/deductions/quarterly", h.handleSaveQuarterly)
	r.Get("/manual-taxes", h.handleGetManualTaxes)
	r.Post("/manual-taxes", h.handleSaveManualTaxes)
}

type quarterlyResponse struct {
	Year           int                    `json:"year"`
	Quarter        int                    `json:"quarter"`
	Value          decimal.Decimal        `json:"value"`
	UpdatedAt      *time.Time             `json:"updatedAt,omitempty"`
	EffectiveValue decimal.Decimal        `json:"effectiveValue"`
	Source         fiscal.DeductionSource `json:"source"`
}

func (h *Handler) handleGetMonthly(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	key := fiscal.MonthKey{Year: q.Int("year"), Month: q.Int("month")}
	if err := q.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.GetMonthly(r.Context(), key)
	if err != nil {
		h.fail(w, r, "get monthly deduction", err)
		return
	}
	httpx.OK(w, row)
}

func (h *Handler) handleSaveMonthly(w http.ResponseWriter, r *http.Request) {
	var req fiscal.MonthlyDeductionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.SaveMonthly(r.Context(), req)
	if err != nil {
		h.fail(w, r, "save monthly deduction", err)
		return
	}
	httpx.OK(w, row)
}

func (h *Handler) handleGetQuarterly(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	key := fiscal.QuarterKey{Year: q.Int("year"), Quarter: q.Int("quarter")}
	if err := q.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.GetQuarterly(r.Context(), key)
	if err != nil {
		h.fail(w, r, "get quarterly deduction", err)
		return
	}
	httpx.OK(w, row)
}

func (h *Handler) handleSaveQuarterly(w http.ResponseWriter, r *http.Request) {
	var req fiscal.QuarterlyDeductionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.SaveQuarterly(r.Context(), req)
	if err != nil {
		h.fail(w, r, "save quarterly deduction", err)
		return
	}
	httpx.OK(w, quarterlyResponse{
		Year:           res.Row.Year,
		Quarter:        res.Row.Quarter,
		Value:          res.Row.Value,
		UpdatedAt:      res.Row.UpdatedAt,
		EffectiveValue: res.Effective.Amount,
		Source:         res.Effective.Source,
	}, res.Effective.Warnings()...)
}

func (h *Handler) handleGetManualTaxes(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	key := fiscal.QuarterKey{Year: q.Int("year"), Quarter: q.Int("quarter")}
	if err := q.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.GetManualTaxes(r.Context(), key)
	if err != nil {
		h.fail(w, r, "get manual taxes", err)
		return
	}
	httpx.OK(w, row)
}

func (h *Handler) handleSaveManualTaxes(w http.ResponseWriter, r *http.Request) {
	var req fiscal.ManualTaxesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.SaveManualTaxes(r.Context(), req)
	if err != nil {
		h.fail(w, r, "save manual taxes", err)
		return
	}
	httpx.OK(w, row)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.ErrorContext(r.Context(), "fiscal: "+op,
			slog.String("user", shared.UserFromContext(r.Context())), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
