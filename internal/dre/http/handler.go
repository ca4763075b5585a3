package drehttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dre/internal/shared"
)

type engine interface {
	Statement(ctx context.Context, p period.Period) (dre.Statement, error)
	Compare(ctx context.Context, p period.Period) (dre.Comparison, error)
	Results(ctx context.Context, year, quarter int) (dre.Snapshot, error)
	SaveResults(ctx context.Context, req dre.SaveResultsRequest) (dre.SaveResult, error)
}

// Options tune request defaults.
type Options struct {
	// DefaultCurrentMonth resolves a request without month, quarter or annual to the current month.
	DefaultCurrentMonth bool
	Now                 func() time.Time
}

// Handler serves the statement and saved-results endpoints.
type Handler struct {
	logger *slog.Logger
	engine engine
	opts   Options
}

// NewHandler constructs the statement handler.
func NewHandler(logger *slog.Logger, engine engine, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{logger: logger, engine: engine, opts: opts}
}

// MountRoutes registers statement routes relative to the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/statement", h.handleStatement)
	r.Get("/results", h.handleGetResults)
	r.Post("/results", h.handleSaveResults)
}

type statementResponse struct {
	Success  bool        `json:"success"`
	Data     dre.View    `json:"data"`
	Previous *dre.View   `json:"previous,omitempty"`
	Growth   *dre.Growth `json:"growth,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

type resultsData struct {
	Statement dre.View   `json:"statement"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	req := period.Request{
		Year:    q.Int("year"),
		Month:   q.OptionalInt("month"),
		Quarter: q.OptionalInt("quarter"),
		Annual:  q.Bool("annual"),
	}
	compare := q.Bool("compare")
	if err := q.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.resolve(req, q.Has("year"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if !compare {
		s, err := h.engine.Statement(r.Context(), p)
		if err != nil {
			h.fail(w, r, p, err)
			return
		}
		httpx.JSON(w, http.StatusOK, statementResponse{Success: true, Data: s.View(), Warnings: s.Warnings})
		return
	}
	cmp, err := h.engine.Compare(r.Context(), p)
	if err != nil {
		h.fail(w, r, p, err)
		return
	}
	prev := cmp.Previous.View()
	httpx.JSON(w, http.StatusOK, statementResponse{
		Success:  true,
		Data:     cmp.Current.View(),
		Previous: &prev,
		Growth:   &cmp.Growth,
		Warnings: cmp.Current.Warnings,
	})
}

// resolve applies the configured default before resolving; a year that is not the current one disables it.
func (h *Handler) resolve(req period.Request, hasYear bool) (period.Period, error) {
	if req.Month == nil && req.Quarter == nil && !req.Annual && h.opts.DefaultCurrentMonth {
		current := period.CurrentMonth(h.opts.Now())
		if !hasYear || req.Year == current.Year {
			return current, nil
		}
	}
	p, err := period.Resolve(req)
	if errors.Is(err, period.ErrPeriodRequired) {
		return period.Period{}, httpx.NewValidationError("period", "one of month, quarter or annual is required")
	}
	return p, err
}

func (h *Handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	year := q.Int("year")
	quarter := q.OptionalInt("quarter")
	if err := q.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if quarter == nil {
		httpx.RespondError(w, httpx.NewValidationError("quarter", "is required"))
		return
	}
	p, err := period.Resolve(period.Request{Year: year, Quarter: quarter})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.engine.Results(r.Context(), p.Year, p.Quarter)
	if err != nil {
		h.fail(w, r, p, err)
		return
	}
	httpx.OK(w, toResults(snap), snap.Statement.Warnings...)
}

func (h *Handler) handleSaveResults(w http.ResponseWriter, r *http.Request) {
	var req dre.SaveResultsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.engine.SaveResults(r.Context(), req)
	if err != nil {
		if httpx.IsClientError(err) {
			httpx.RespondError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "dre: save results", slog.Int("year", req.Year), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	data := toResults(res.Snapshot)
	data.Statement = res.Statement.View()
	httpx.OK(w, data, res.Warnings...)
}

func toResults(s dre.Snapshot) resultsData {
	out := resultsData{Statement: s.Statement.View()}
	if !s.UpdatedAt.IsZero() {
		ts := s.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, p period.Period, err error) {
	if !httpx.IsClientError(err) {
		h.logger.ErrorContext(r.Context(), "dre: statement", slog.String("period", p.Key),
			slog.String("user", shared.UserFromContext(r.Context())), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
