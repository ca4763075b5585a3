package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when the request carries no session id or the id is unknown.
var ErrNoSession = errors.New("session: not found")

// Session is the authenticated caller resolved from Redis.
type Session struct {
	ID     string
	UserID string
	Values map[string]string
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// SessionStore looks up sessions written by the login service. Ids come from the session cookie or a
// bearer token and map to Redis keys "session:<id>".
type SessionStore struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
}

// NewSessionStore constructs a SessionStore. A positive ttl slides the session expiry on every lookup.
func NewSessionStore(client *redis.Client, cookieName string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, cookieName: cookieName, ttl: ttl}
}

// CookieName returns the cookie identifier used for sessions.
func (s *SessionStore) CookieName() string {
	return s.cookieName
}

// Lookup resolves the session of r.
func (s *SessionStore) Lookup(ctx context.Context, r *http.Request) (*Session, error) {
	id := s.sessionID(r)
	if id == "" {
		return nil, ErrNoSession
	}
	payload, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if stored.UserID == "" {
		return nil, ErrNoSession
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, redisKey(id), s.ttl).Err()
	}
	return &Session{ID: id, UserID: stored.UserID, Values: stored.Values}, nil
}

func (s *SessionStore) sessionID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// User returns the session's user id.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.UserID
}

func redisKey(id string) string {
	return "session:" + id
}
