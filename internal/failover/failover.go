// Package failover selects among healthy providers for a (market, data type)
// group and retries across them with backoff when a call fails.
package failover

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/health"
	"github.com/sawpanic/marketfeed/internal/net/budget"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
)

// Provider is the minimal identity a registered candidate exposes to the
// selection and scoring algorithm.
type Provider struct {
	Name           string
	MarketKind     domain.MarketKind
	DataType       domain.DataType
	Priority       int     // lower is preferred
	LatencyPref    float64 // weight applied to avg-latency-seconds penalty, 0..1
}

// Config tunes the retry/backoff loop.
type Config struct {
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultConfig matches the reference orchestration core's defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Manager scores and selects providers for a (market, data type) group and
// executes calls against them with automatic failover. Between them, the
// health monitor, rate limiter, and budget tracker are the three gates every
// candidate must clear before it is handed a call; the Manager itself never
// talks to a provider directly, only through the fn closure it is given.
type Manager struct {
	mu            sync.RWMutex
	providers     []Provider
	health        *health.Monitor
	rateLimiter   *ratelimit.ProviderLimiter
	budgetTracker *budget.ProviderBudgetTracker
	cfg           Config
	rng           *rand.Rand
}

// NewManager builds a failover manager backed by the health monitor, rate
// limiter, and budget tracker that gate provider selection and execution.
func NewManager(h *health.Monitor, rl *ratelimit.ProviderLimiter, bt *budget.ProviderBudgetTracker, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		health:        h,
		rateLimiter:   rl,
		budgetTracker: bt,
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(1)),
	}
}

// Register adds a provider candidate to the pool.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

func (m *Manager) candidates(market domain.MarketKind, dt domain.DataType) []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.MarketKind == market && p.DataType == dt {
			out = append(out, p)
		}
	}
	return out
}

// score computes the selection score for a provider: lower is better.
// base = priority + min(10, avg_latency_ms/1000) * latency_pref, plus an
// error-rate penalty of error_rate * 50.
func (m *Manager) score(p Provider) float64 {
	snap := m.health.Snapshot(p.Name)
	latencyMs := float64(snap.AvgLatency.Milliseconds())
	latencyPenalty := latencyMs / 1000.0
	if latencyPenalty > 10 {
		latencyPenalty = 10
	}
	base := float64(p.Priority) + latencyPenalty*p.LatencyPref
	return base + snap.ErrorRate*50
}

// SelectProvider returns the lowest-scoring eligible candidate for a (market,
// data type) group: eligible means not in exclude, circuit not open, able to afford
// the call, and not currently rate-limited. Ties are broken by candidate
// registration order via sort.SliceStable.
func (m *Manager) SelectProvider(market domain.MarketKind, dt domain.DataType, exclude map[string]bool) (Provider, error) {
	cands := m.candidates(market, dt)
	if len(cands) == 0 {
		return Provider{}, domain.ErrNoProvider
	}

	eligible := make([]Provider, 0, len(cands))
	for _, p := range cands {
		if exclude[p.Name] {
			continue
		}
		if !m.health.CanRequest(p.Name) {
			continue
		}
		if !m.budgetTracker.CanAfford(p.Name, "", "") {
			continue
		}
		if !m.rateLimiter.CanProceed(p.Name, 1) {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return Provider{}, domain.ErrAllProvidersFailed
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return m.score(eligible[i]) < m.score(eligible[j])
	})
	return eligible[0], nil
}

// backoff returns an exponential delay with full jitter, capped at MaxBackoff.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.BaseBackoff << uint(attempt)
	if d > m.cfg.MaxBackoff || d <= 0 {
		d = m.cfg.MaxBackoff
	}
	jittered := time.Duration(m.rng.Int63n(int64(d) + 1))
	return jittered
}

// ExecuteWithFailover selects a provider, acquires its rate-limit token,
// charges its budget, and invokes fn, recording the outcome against the
// provider's health:
//
//   - success: recorded as a health success with the measured latency.
//   - RateLimitHit or BudgetExceeded: the provider is excluded from the rest
//     of this call and retried immediately against the next candidate; its
//     health record is untouched.
//   - a non-recoverable ProviderError: recorded as a health failure, then
//     raised immediately.
//   - anything else (a recoverable ProviderError, or an unexpected error):
//     recorded as a health failure, the provider excluded, and the call
//     retried after an exponential backoff with full jitter.
//
// It gives up once MaxRetries backed-off attempts are exhausted or no
// eligible provider remains, returning a non-recoverable ProviderError
// naming operationName with the last underlying error attached.
func (m *Manager) ExecuteWithFailover(ctx context.Context, market domain.MarketKind, dt domain.DataType, operationName string, fn func(ctx context.Context, p Provider) error) error {
	exclude := make(map[string]bool)
	attempt := 0
	var lastErr error

	for attempt < m.cfg.MaxRetries {
		p, err := m.SelectProvider(market, dt, exclude)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		if err := m.rateLimiter.Acquire(ctx, p.Name, 1); err != nil {
			return err
		}

		if err := m.budgetTracker.Charge(p.Name, operationName, ""); err != nil {
			lastErr = err
			exclude[p.Name] = true
			continue
		}

		start := time.Now()
		callErr := fn(ctx, p)
		elapsed := time.Since(start)

		if callErr == nil {
			m.health.Observe(p.Name, nil, elapsed)
			return nil
		}
		lastErr = callErr

		var rl *domain.RateLimitHit
		var be *domain.BudgetExceeded
		if errors.As(callErr, &rl) || errors.As(callErr, &be) {
			exclude[p.Name] = true
			continue
		}

		var pe *domain.ProviderError
		if errors.As(callErr, &pe) && !pe.Recoverable {
			m.health.Observe(p.Name, callErr, elapsed)
			return callErr
		}

		m.health.Observe(p.Name, callErr, elapsed)
		exclude[p.Name] = true

		select {
		case <-time.After(m.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}

	return domain.NewProviderError("", "all providers failed for "+operationName, false, lastErr)
}

// Broadcast concurrently invokes fn against every currently-healthy candidate
// for a (market, data type) group and returns the per-provider results.
type BroadcastResult struct {
	Provider string
	Err      error
}

func (m *Manager) Broadcast(ctx context.Context, market domain.MarketKind, dt domain.DataType, fn func(ctx context.Context, p Provider) error) []BroadcastResult {
	cands := m.candidates(market, dt)
	var wg sync.WaitGroup
	results := make([]BroadcastResult, 0, len(cands))
	var mu sync.Mutex

	for _, p := range cands {
		if !m.health.IsHealthy(p.Name) {
			continue
		}
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			err := fn(ctx, p)
			mu.Lock()
			results = append(results, BroadcastResult{Provider: p.Name, Err: err})
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}

// ProviderStatus bundles one provider's health, rate-limit, and budget
// snapshots into a single aggregate view.
type ProviderStatus struct {
	Health       health.Snapshot
	RateLimit    ratelimit.Remaining
	DailySpent   float64
	MonthlySpent float64
}

// Status is an aggregate view of the failover manager's registered pool,
// plus the provider ordering within every (market, data type) group — the
// order SelectProvider considers candidates before scoring breaks ties.
type Status struct {
	Total     int
	Healthy   int
	Unhealthy int
	Providers map[string]ProviderStatus
	Groups    map[string][]string
}

// GetStatus snapshots health, rate-limit, and budget state for every
// registered provider, plus each (market, data type) group's provider order.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	ps := make([]Provider, len(m.providers))
	copy(ps, m.providers)
	m.mu.RUnlock()

	st := Status{
		Providers: make(map[string]ProviderStatus, len(ps)),
		Groups:    make(map[string][]string),
	}
	seen := make(map[string]bool)
	for _, p := range ps {
		groupKey := string(p.MarketKind) + ":" + string(p.DataType)
		st.Groups[groupKey] = append(st.Groups[groupKey], p.Name)

		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true

		snap := m.health.Snapshot(p.Name)
		daily, monthly := m.budgetTracker.Spent(p.Name)
		st.Providers[p.Name] = ProviderStatus{
			Health:       snap,
			RateLimit:    m.rateLimiter.Remaining(p.Name),
			DailySpent:   daily,
			MonthlySpent: monthly,
		}
		st.Total++
		if snap.Flag == health.FlagUnhealthy {
			st.Unhealthy++
		} else {
			st.Healthy++
		}
	}
	return st
}
