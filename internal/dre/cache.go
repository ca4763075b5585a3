package dre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

const (
	// DefaultCacheTTL applies when no TTL is configured.
	DefaultCacheTTL = 2 * time.Minute
	// MaxCacheTTL caps how long a statement may be served from cache.
	MaxCacheTTL = 5 * time.Minute

	generationKeyPrefix = "dre:gen:"
	statementKeyPrefix  = "dre:statement:"
)

// Cache stores computed statements in Redis under per-year generation counters.
// Bumping a year's generation orphans every key of that year; the orphans expire with their TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache. The TTL is clamped to (0, MaxCacheTTL].
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// TTL reports the effective time to live.
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Generation returns the current generation of year, 0 when never bumped.
func (c *Cache) Generation(ctx context.Context, year int) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, generationKey(year)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dre: cache generation: %w", err)
	}
	return gen, nil
}

// Key composes the statement key for p under the current generation of p's year.
func (c *Cache) Key(ctx context.Context, p period.Period) (string, error) {
	gen, err := c.Generation(ctx, p.Year)
	if err != nil {
		return "", err
	}
	return statementKeyPrefix + p.Key + ":" + strconv.FormatInt(gen, 10), nil
}

// Get loads a cached statement. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (Statement, bool, error) {
	if c == nil || c.client == nil {
		return Statement{}, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Statement{}, false, nil
	}
	if err != nil {
		return Statement{}, false, fmt.Errorf("dre: cache get: %w", err)
	}
	var s Statement
	if err := json.Unmarshal(payload, &s); err != nil {
		return Statement{}, false, fmt.Errorf("dre: cache decode: %w", err)
	}
	return s, true, nil
}

// Set stores s under key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, s Statement) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("dre: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("dre: cache set: %w", err)
	}
	return nil
}

// Invalidate bumps the generation of year so the next read recomputes every period of that year.
func (c *Cache) Invalidate(ctx context.Context, year int) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, generationKey(year)).Err(); err != nil {
		return fmt.Errorf("dre: cache invalidate %d: %w", year, err)
	}
	return nil
}

func generationKey(year int) string {
	return generationKeyPrefix + strconv.Itoa(year)
}
