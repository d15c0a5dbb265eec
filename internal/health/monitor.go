// Package health wraps the circuit breaker package with the latency and
// error-rate bookkeeping that drives a provider's overall health flag.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/marketfeed/internal/net/circuit"
)

const sampleWindow = 100

// Flag is the coarse health classification derived from error rate, latency
// and circuit state.
type Flag string

const (
	FlagHealthy   Flag = "healthy"
	FlagDegraded  Flag = "degraded"
	FlagUnhealthy Flag = "unhealthy"
)

// Thresholds configures the boundaries between health flags. Zero values fall
// back to DefaultThresholds.
type Thresholds struct {
	DegradedErrorRate  float64       // e.g. 0.1 (10%)
	UnhealthyErrorRate float64       // e.g. 0.3 (30%)
	DegradedLatency    time.Duration // e.g. 2000ms
	UnhealthyLatency   time.Duration // e.g. 5000ms
}

// DefaultThresholds matches the reference orchestration core's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedErrorRate:  0.10,
		UnhealthyErrorRate: 0.30,
		DegradedLatency:    2000 * time.Millisecond,
		UnhealthyLatency:   5000 * time.Millisecond,
	}
}

// Snapshot is a point-in-time view of a provider's health.
type Snapshot struct {
	Provider       string
	Flag           Flag
	CircuitState   circuit.State
	ErrorRate      float64
	AvgLatency     time.Duration
	P95Latency     time.Duration
	ConsecutiveErr int
	SampleCount    int
	LastCheck      time.Time
}

// StatusChangeFunc is invoked whenever a provider's Flag transitions. It is
// never called for a no-op recomputation that lands on the same flag.
type StatusChangeFunc func(provider string, from, to Flag)

type providerHealth struct {
	mu         sync.Mutex
	breaker    *circuit.Breaker
	latencies  []time.Duration // ring-like bounded deque, oldest at index 0
	successes  int64
	failures   int64
	consecErr  int
	lastFlag   Flag
	lastCheck  time.Time
}

func (p *providerHealth) recordLatency(d time.Duration) {
	p.latencies = append(p.latencies, d)
	if len(p.latencies) > sampleWindow {
		p.latencies = p.latencies[len(p.latencies)-sampleWindow:]
	}
}

func (p *providerHealth) avgLatency() time.Duration {
	if len(p.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.latencies {
		sum += d
	}
	return sum / time.Duration(len(p.latencies))
}

func (p *providerHealth) p95Latency() time.Duration {
	n := len(p.latencies)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, p.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func (p *providerHealth) errorRate() float64 {
	total := p.successes + p.failures
	if total == 0 {
		return 0
	}
	return float64(p.failures) / float64(total)
}

// Monitor tracks per-provider health derived from circuit-breaker state plus
// a bounded latency/error history. Each provider owns one circuit.Breaker,
// created on first Configure call.
type Monitor struct {
	mu         sync.RWMutex
	providers  map[string]*providerHealth
	thresholds Thresholds
	onChange   []StatusChangeFunc
	now        func() time.Time
}

// NewMonitor creates a health monitor using the given thresholds. A zero
// Thresholds is replaced with DefaultThresholds.
func NewMonitor(thresholds Thresholds) *Monitor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		providers:  make(map[string]*providerHealth),
		thresholds: thresholds,
		now:        time.Now,
	}
}

// OnStatusChange registers a callback fired whenever a provider's flag transitions.
func (m *Monitor) OnStatusChange(fn StatusChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Configure registers a provider with its own circuit breaker configuration.
func (m *Monitor) Configure(provider string, cfg circuit.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider] = &providerHealth{
		breaker:  circuit.NewBreaker(cfg),
		lastFlag: FlagHealthy,
	}
}

func (m *Monitor) state(provider string) *providerHealth {
	m.mu.RLock()
	p, ok := m.providers[provider]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return p
}

// Call executes fn through the provider's circuit breaker, recording latency
// and success/failure outcome for health derivation. A context cancellation
// (ctx.Err() != nil observed by fn) records neither success nor failure.
func (m *Monitor) Call(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	p := m.state(provider)
	if p == nil {
		return fn(ctx)
	}

	start := m.now()
	err := p.breaker.Call(ctx, fn)
	elapsed := m.now().Sub(start)

	if ctx.Err() != nil {
		return err
	}

	p.mu.Lock()
	p.recordLatency(elapsed)
	if err != nil {
		p.failures++
		p.consecErr++
	} else {
		p.successes++
		p.consecErr = 0
	}
	p.lastCheck = m.now()
	p.mu.Unlock()

	m.recompute(provider, p)
	return err
}

// Observe records the outcome and latency of a call the caller already ran
// directly (bypassing Call's fn-wrapper), for a caller that must classify an
// error before deciding whether it counts against the provider's circuit
// breaker and error-rate history at all. A nil err records a success; a
// rejection the caller has decided not to hold against the provider (a
// rate-limit or budget rejection, say) should simply never reach Observe.
func (m *Monitor) Observe(provider string, err error, elapsed time.Duration) {
	p := m.state(provider)
	if p == nil {
		return
	}
	p.breaker.Record(err)

	p.mu.Lock()
	p.recordLatency(elapsed)
	if err != nil {
		p.failures++
		p.consecErr++
	} else {
		p.successes++
		p.consecErr = 0
	}
	p.lastCheck = m.now()
	p.mu.Unlock()

	m.recompute(provider, p)
}

func (m *Monitor) recompute(provider string, p *providerHealth) {
	p.mu.Lock()
	errRate := p.errorRate()
	avg := p.avgLatency()
	circState := p.breaker.State()
	prev := p.lastFlag
	next := classify(errRate, avg, circState, m.thresholds)
	p.lastFlag = next
	p.mu.Unlock()

	if next != prev {
		m.mu.RLock()
		cbs := make([]StatusChangeFunc, len(m.onChange))
		copy(cbs, m.onChange)
		m.mu.RUnlock()
		for _, cb := range cbs {
			go cb(provider, prev, next)
		}
	}
}

func classify(errRate float64, avg time.Duration, state circuit.State, t Thresholds) Flag {
	if state == circuit.StateOpen {
		return FlagUnhealthy
	}
	if errRate >= t.UnhealthyErrorRate || avg > t.UnhealthyLatency {
		return FlagUnhealthy
	}
	if errRate >= t.DegradedErrorRate || avg > t.DegradedLatency || state == circuit.StateHalfOpen {
		return FlagDegraded
	}
	return FlagHealthy
}

// Snapshot returns the current health view for a provider. The zero Snapshot
// (with Flag FlagHealthy) is returned for an unconfigured provider.
func (m *Monitor) Snapshot(provider string) Snapshot {
	p := m.state(provider)
	if p == nil {
		return Snapshot{Provider: provider, Flag: FlagHealthy}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Provider:       provider,
		Flag:           p.lastFlag,
		CircuitState:   p.breaker.State(),
		ErrorRate:      p.errorRate(),
		AvgLatency:     p.avgLatency(),
		P95Latency:     p.p95Latency(),
		ConsecutiveErr: p.consecErr,
		SampleCount:    len(p.latencies),
		LastCheck:      p.lastCheck,
	}
}

// IsHealthy is a convenience check used by the failover manager to exclude
// unhealthy providers from selection.
func (m *Monitor) IsHealthy(provider string) bool {
	return m.Snapshot(provider).Flag != FlagUnhealthy
}

// CanRequest reports whether a provider is eligible to receive a new request
// right now: true unless its circuit breaker is OPEN. Unlike IsHealthy it
// ignores the error-rate and latency flag, so a provider with a few recent
// failures stays selectable until its breaker trips. Named for the selection
// gate's own vocabulary (alongside the rate limiter's CanProceed and the
// budget tracker's CanAfford).
func (m *Monitor) CanRequest(provider string) bool {
	p := m.state(provider)
	if p == nil {
		return true
	}
	return p.breaker.State() != circuit.StateOpen
}

// AllSnapshots returns a snapshot for every configured provider.
func (m *Monitor) AllSnapshots() map[string]Snapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]Snapshot, len(names))
	for _, name := range names {
		out[name] = m.Snapshot(name)
	}
	return out
}
