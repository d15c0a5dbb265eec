package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-host rate limiting via a token bucket, for adapters
// that want host-level (rather than provider-level) shaping — e.g. a
// provider that fans out requests across several CDN edges or regional
// endpoints sharing one provider-level budget.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a host-scoped rate limiter with the given requests per
// second and burst capacity, applied uniformly to every host on first use.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request for host is allowed right now, without blocking.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request for host is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Stats reports the current token-bucket state for every host seen so far.
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	now := time.Now()
	for host, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		stats[host] = LimiterStats{
			Host:            host,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}
	return stats
}

// LimiterStats is a point-in-time view of one host's token bucket.
type LimiterStats struct {
	Host            string        `json:"host"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled reports whether the host is currently being throttled.
func (s *LimiterStats) IsThrottled() bool {
	return s.Delay > 0
}

// Manager owns one host-scoped Limiter per provider.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty per-provider host-limiter registry.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a host limiter for a provider.
func (m *Manager) AddProvider(name string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(rps, burst)
}

// Wait blocks until a request for provider/host is allowed. A provider with no
// registered host limiter is treated as unthrottled at the host level.
func (m *Manager) Wait(ctx context.Context, provider, host string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx, host)
}

// Stats returns host-limiter statistics for every registered provider.
func (m *Manager) Stats() map[string]map[string]LimiterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]map[string]LimiterStats, len(m.limiters))
	for provider, limiter := range m.limiters {
		stats[provider] = limiter.Stats()
	}
	return stats
}
