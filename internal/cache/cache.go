// Package cache defines the shared cache contract used across the
// orchestration core: quote snapshots, rate-limit rollover counters, and
// pub/sub notifications, backed by either an in-memory store or Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

// Cache is the contract every component depends on. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// quoteKey builds the cache key for a symbol's latest quote.
func quoteKey(symbol string) string { return "quote:" + symbol }

// rolloverKey builds the per-provider daily rate-limit rollover counter key,
// scoped by UTC calendar date so it naturally expires at day boundaries.
func rolloverKey(provider string, day time.Time) string {
	return "provider:" + provider + ":" + day.UTC().Format("2006-01-02")
}

const rolloverTTL = 25 * time.Hour

// GetQuote is a typed convenience wrapper over Get for the Quote view.
func GetQuote(ctx context.Context, c Cache, symbol string) (*domain.Quote, bool, error) {
	raw, ok, err := c.Get(ctx, quoteKey(symbol))
	if err != nil || !ok {
		return nil, ok, err
	}
	var q domain.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, false, err
	}
	return &q, true, nil
}

// SetQuote writes a quote snapshot with a fixed write-through TTL.
func SetQuote(ctx context.Context, c Cache, q domain.Quote, ttl time.Duration) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.Set(ctx, quoteKey(q.Symbol), raw, ttl)
}

// GetQuotes batches GetQuote across symbols using GetMulti, returning only
// the symbols found.
func GetQuotes(ctx context.Context, c Cache, symbols []string) (map[string]domain.Quote, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = quoteKey(s)
	}
	raw, err := c.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Quote, len(raw))
	for i, s := range symbols {
		b, ok := raw[keys[i]]
		if !ok {
			continue
		}
		var q domain.Quote
		if err := json.Unmarshal(b, &q); err == nil {
			out[s] = q
		}
	}
	return out, nil
}

// IncrRolloverCounter increments today's per-provider request counter and
// resets its 25-hour TTL on every increment, so a slow day boundary never
// drops the counter before the rate limiter rolls over.
func IncrRolloverCounter(ctx context.Context, c Cache, provider string, at time.Time) (int64, error) {
	return c.Incr(ctx, rolloverKey(provider, at), rolloverTTL)
}
