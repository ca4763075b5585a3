package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-dre/testing"
)

func newStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "odyssey_session", time.Hour), mr
}

func protected(store *SessionStore) http.Handler {
	return RequireSession(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserFromContext(r.Context())))
	}))
}

func TestRequireSessionRejectsMissingSession(t *testing.T) {
	store, _ := newStore(t)
	rr := httptest.NewRecorder()
	protected(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/dre/statement", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)
}

func TestRequireSessionRejectsUnknownCookie(t *testing.T) {
	store, _ := newStore(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "odyssey_session", Value: "nope"})
	rr := httptest.NewRecorder()
	protected(store).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireSessionAcceptsCookieAndBearer(t *testing.T) {
	store, mr := newStore(t)
	require.NoError(t, mr.Set("session:abc", `{"user_id":"42","values":{}}`))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "odyssey_session", Value: "abc"})
	rr := httptest.NewRecorder()
	protected(store).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", rr.Body.String())
	assert.Equal(t, time.Hour, mr.TTL("session:abc"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rr = httptest.NewRecorder()
	protected(store).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionWithoutUserIsRejected(t *testing.T) {
	store, mr := newStore(t)
	require.NoError(t, mr.Set("session:anon", `{"values":{"flash":"x"}}`))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anon")
	rr := httptest.NewRecorder()
	protected(store).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUserFromContextWithoutSession(t *testing.T) {
	assert.Empty(t, UserFromContext(context.Background()))
	ctx := ContextWithSession(context.Background(), &Session{})
	assert.Empty(t, UserFromContext(ctx))
}
