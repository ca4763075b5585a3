package drehttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
	_ "github.com/odyssey-erp/odyssey-dre/testing"
)

type stubEngine struct {
	statementFn func(ctx context.Context, p period.Period) (dre.Statement, error)
	resultsFn   func(ctx context.Context, year, quarter int) (dre.Snapshot, error)
	saveFn      func(ctx context.Context, req dre.SaveResultsRequest) (dre.SaveResult, error)
}

func (s *stubEngine) Statement(ctx context.Context, p period.Period) (dre.Statement, error) {
	if s.statementFn != nil {
		return s.statementFn(ctx, p)
	}
	return dre.Statement{Period: p}, nil
}

func (s *stubEngine) Compare(ctx context.Context, p period.Period) (dre.Comparison, error) {
	cur, err := s.Statement(ctx, p)
	if err != nil {
		return dre.Comparison{}, err
	}
	prev, err := s.Statement(ctx, p.Previous())
	if err != nil {
		return dre.Comparison{}, err
	}
	return dre.Comparison{Current: cur, Previous: prev, Growth: cur.CompareTo(prev)}, nil
}

func (s *stubEngine) Results(ctx context.Context, year, quarter int) (dre.Snapshot, error) {
	if s.resultsFn != nil {
		return s.resultsFn(ctx, year, quarter)
	}
	return dre.Snapshot{Statement: dre.Statement{Period: period.Quarter(year, quarter)}}, nil
}

func (s *stubEngine) SaveResults(ctx context.Context, req dre.SaveResultsRequest) (dre.SaveResult, error) {
	if s.saveFn != nil {
		return s.saveFn(ctx, req)
	}
	return dre.SaveResult{}, nil
}

func newRouter(eng engine, opts Options) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), eng, opts).MountRoutes(r)
	return r
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func fieldNames(body map[string]any) []string {
	var out []string
	fields, _ := body["fields"].([]any)
	for _, f := range fields {
		if m, ok := f.(map[string]any); ok {
			out = append(out, m["field"].(string))
		}
	}
	return out
}

func TestStatementRejectsInvalidPeriod(t *testing.T) {
	h := newRouter(&stubEngine{}, Options{})
	cases := map[string]string{
		"/statement?year=2025&month=13":          "month",
		"/statement?year=2025&quarter=5":         "quarter",
		"/statement?year=2025&month=1&quarter=1": "period",
		"/statement?year=2025":                   "period",
		"/statement?year=20x5&month=1":           "year",
		"/statement?year=2025&annual=maybe":      "annual",
	}
	for target, field := range cases {
		rr, body := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Equal(t, false, body["success"], target)
		assert.Contains(t, fieldNames(body), field, target)
	}
}

func TestStatementDefaultsToCurrentMonthWhenConfigured(t *testing.T) {
	var seen period.Period
	eng := &stubEngine{statementFn: func(_ context.Context, p period.Period) (dre.Statement, error) {
		seen = p
		return dre.Statement{Period: p}, nil
	}}
	now := func() time.Time { return time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC) }
	h := newRouter(eng, Options{DefaultCurrentMonth: true, Now: now})

	rr, _ := get(t, h, "/statement")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2025-05", seen.Key)
}

func TestStatementReturnsRoundedView(t *testing.T) {
	eng := &stubEngine{statementFn: func(_ context.Context, p period.Period) (dre.Statement, error) {
		return dre.Statement{
			Period:       p,
			TaxDeduction: decimal.RequireFromString("10000"),
			Revenues:     dre.Revenues{Total: decimal.RequireFromString("1234.5678")},
			Warnings:     []string{"conflict"},
		}, nil
	}}
	h := newRouter(eng, Options{})

	rr, body := get(t, h, "/statement?year=2025&quarter=1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, 10000.0, data["deducaoFiscal"])
	assert.Equal(t, 1234.57, data["receitas"].(map[string]any)["total"])
	assert.Equal(t, "trimestral", data["periodo"].(map[string]any)["tipo"])
	assert.Equal(t, []any{"conflict"}, body["warnings"])
	assert.NotContains(t, body, "previous")
}

func TestStatementCompareIncludesPreviousAndGrowth(t *testing.T) {
	eng := &stubEngine{statementFn: func(_ context.Context, p period.Period) (dre.Statement, error) {
		total := "100"
		if p.Key == "2025-Q1" {
			total = "125"
		}
		return dre.Statement{Period: p, Revenues: dre.Revenues{Total: decimal.RequireFromString(total)}}, nil
	}}
	h := newRouter(eng, Options{})

	rr, body := get(t, h, "/statement?year=2025&quarter=1&compare=true")
	require.Equal(t, http.StatusOK, rr.Code)
	prev := body["previous"].(map[string]any)
	assert.Equal(t, "2024-Q4", prev["periodo"].(map[string]any)["chave"])
	assert.Equal(t, 25.0, body["growth"].(map[string]any)["receitas"])
	assert.Nil(t, body["growth"].(map[string]any)["resultadoBruto"])
}

func TestStatementEngineFailureIs500(t *testing.T) {
	eng := &stubEngine{statementFn: func(context.Context, period.Period) (dre.Statement, error) {
		return dre.Statement{}, errors.New("db down")
	}}
	rr, body := get(t, newRouter(eng, Options{}), "/statement?year=2025&annual=true")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, rr.Body.String(), "db down")
}

func TestGetResultsRequiresQuarter(t *testing.T) {
	rr, body := get(t, newRouter(&stubEngine{}, Options{}), "/results?year=2025")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []string{"quarter"}, fieldNames(body))
}

func TestGetResultsReturnsSnapshot(t *testing.T) {
	updated := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	eng := &stubEngine{resultsFn: func(_ context.Context, year, quarter int) (dre.Snapshot, error) {
		return dre.Snapshot{Statement: dre.Statement{Period: period.Quarter(year, quarter)}, UpdatedAt: updated}, nil
	}}
	rr, body := get(t, newRouter(eng, Options{}), "/results?year=2025&quarter=1")
	require.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "2025-04-02T08:00:00Z", data["updatedAt"])
	assert.Equal(t, "2025-Q1", data["statement"].(map[string]any)["periodo"].(map[string]any)["chave"])
}

func TestSaveResultsPassesValidationErrorsThrough(t *testing.T) {
	eng := &stubEngine{saveFn: func(context.Context, dre.SaveResultsRequest) (dre.SaveResult, error) {
		return dre.SaveResult{}, httpx.NewValidationError("quarter", "is required when month is absent")
	}}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(`{"year":2025,"statement":{"deducaoFiscal":1}}`))
	newRouter(eng, Options{}).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"field":"quarter"`)
}

func TestSaveResultsReturnsWarnings(t *testing.T) {
	var got dre.SaveResultsRequest
	eng := &stubEngine{saveFn: func(_ context.Context, req dre.SaveResultsRequest) (dre.SaveResult, error) {
		got = req
		s := dre.Statement{Period: req.Period(), TaxDeduction: decimal.RequireFromString("10000")}
		return dre.SaveResult{Statement: s, Snapshot: dre.Snapshot{Statement: s}, Warnings: []string{"kept monthly"}}, nil
	}}
	body := `{"year":2025,"quarter":1,"statement":{"deducaoFiscal":23333333,"receitas":{"operacoes":1,"outras":0,"total":1}}}`
	rr := httptest.NewRecorder()
	newRouter(eng, Options{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "23333333", got.Statement.TaxDeduction.String())

	var env struct {
		Data struct {
			Statement struct {
				TaxDeduction float64 `json:"deducaoFiscal"`
			} `json:"statement"`
		} `json:"data"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, 10000.0, env.Data.Statement.TaxDeduction)
	assert.Equal(t, []string{"kept monthly"}, env.Warnings)
}
