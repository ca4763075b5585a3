package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
)

// RequireSession rejects requests without a valid session with 401 and stores the session in context.
func RequireSession(store *SessionStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Lookup(r.Context(), r)
			if errors.Is(err, ErrNoSession) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if err != nil {
				if logger != nil {
					logger.ErrorContext(r.Context(), "session lookup failed", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Session Store Unavailable", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}
