package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/fiscal/fiscaltest"
	fiscalhttp "github.com/odyssey-erp/odyssey-dre/internal/fiscal/http"
	"github.com/odyssey-erp/odyssey-dre/internal/observability"
	"github.com/odyssey-erp/odyssey-dre/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := fiscal.NewService(fiscaltest.NewRepository(), nil, logger)
	router := NewRouter(RouterParams{
		Logger:        logger,
		Config:        &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 100},
		Sessions:      shared.NewSessionStore(client, "odyssey_session", time.Hour),
		FiscalHandler: fiscalhttp.NewHandler(logger, service),
		Metrics:       observability.NewMetrics(),
	})
	return router, mr
}

func TestHealthzIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresSession(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/dre/deductions/monthly?year=2025&month=1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIServesAuthenticatedRequests(t *testing.T) {
	router, mr := newTestRouter(t)
	require.NoError(t, mr.Set("session:tok", `{"user_id":"7","values":{}}`))

	req := httptest.NewRequest(http.MethodGet, "/api/dre/deductions/monthly?year=2025&month=1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"value":0`)
}

func TestMetricsEndpointRecordsRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `odyssey_dre_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}
