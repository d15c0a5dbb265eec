package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/health"
	"github.com/sawpanic/marketfeed/internal/net/budget"
	"github.com/sawpanic/marketfeed/internal/net/circuit"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
)

func newTestManager() (*Manager, *health.Monitor, *ratelimit.ProviderLimiter, *budget.ProviderBudgetTracker) {
	hm := health.NewMonitor(health.DefaultThresholds())
	rl := ratelimit.NewProviderLimiter()
	bt := budget.NewProviderBudgetTracker()
	cfg := Config{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	mgr := NewManager(hm, rl, bt, cfg)
	return mgr, hm, rl, bt
}

func registerABC(t *testing.T, mgr *Manager, hm *health.Monitor) {
	t.Helper()
	for _, name := range []string{"A", "B", "C"} {
		hm.Configure(name, circuit.DefaultConfig())
		mgr.Register(Provider{Name: name, MarketKind: domain.MarketUSStock, DataType: domain.DataQuote})
	}
}

func TestSelectProvider_NoCandidates(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	_, err := mgr.SelectProvider(domain.MarketUSStock, domain.DataQuote, nil)
	if !errors.Is(err, domain.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestSelectProvider_FiltersExcludedUnhealthyBudgetAndRateLimited(t *testing.T) {
	mgr, hm, rl, bt := newTestManager()
	registerABC(t, mgr, hm)

	// A is excluded explicitly.
	// B's circuit is tripped open via 5 consecutive failures.
	for i := 0; i < 5; i++ {
		hm.Observe("B", errors.New("down"), time.Millisecond)
	}
	// C is over budget.
	bt.Configure("C", budget.ProviderBudgetConfig{DailyLimit: 1.0, DefaultCost: 2.0})

	_, err := mgr.SelectProvider(domain.MarketUSStock, domain.DataQuote, map[string]bool{"A": true})
	if !errors.Is(err, domain.ErrAllProvidersFailed) {
		t.Fatalf("expected all providers excluded/unhealthy/unaffordable, got %v", err)
	}

	_ = rl // rate limiter left unconfigured (unthrottled) in this case
}

func TestSelectProvider_TieBrokenByRegistrationOrder(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	p, err := mgr.SelectProvider(domain.MarketUSStock, domain.DataQuote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "A" {
		t.Errorf("expected first-registered provider A to win the tie, got %s", p.Name)
	}
}

func TestExecuteWithFailover_SuccessRecordsHealth(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	err := mgr.ExecuteWithFailover(context.Background(), domain.MarketUSStock, domain.DataQuote, "GetQuotes",
		func(ctx context.Context, p Provider) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := hm.Snapshot("A")
	if snap.SampleCount != 1 || snap.ErrorRate != 0 {
		t.Errorf("expected one recorded success on A, got %+v", snap)
	}
}

// TestExecuteWithFailover_ABCScenario grounds the three-provider failover
// scenario: A hits its rate limit, B fails with a recoverable provider error,
// C succeeds. The final result is C's, A's health is never touched, B records
// one failure, and C records one success with the measured latency.
func TestExecuteWithFailover_ABCScenario(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	call := 0
	err := mgr.ExecuteWithFailover(context.Background(), domain.MarketUSStock, domain.DataQuote, "GetQuotes",
		func(ctx context.Context, p Provider) error {
			call++
			switch p.Name {
			case "A":
				return &domain.RateLimitHit{Provider: "A", RetryAfter: time.Second}
			case "B":
				return domain.NewProviderError("B", "upstream 503", true, nil)
			case "C":
				time.Sleep(120 * time.Millisecond)
				return nil
			default:
				t.Fatalf("unexpected provider %s", p.Name)
				return nil
			}
		})
	if err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}
	if call != 3 {
		t.Fatalf("expected all three providers to be tried once, got %d calls", call)
	}

	aSnap := hm.Snapshot("A")
	if aSnap.SampleCount != 0 {
		t.Errorf("A's health should be untouched by a rate-limit hit, got %+v", aSnap)
	}

	bSnap := hm.Snapshot("B")
	if bSnap.SampleCount != 1 || bSnap.ErrorRate != 1 {
		t.Errorf("B should record exactly one failure, got %+v", bSnap)
	}

	cSnap := hm.Snapshot("C")
	if cSnap.SampleCount != 1 || cSnap.ErrorRate != 0 {
		t.Errorf("C should record exactly one success, got %+v", cSnap)
	}
	if cSnap.AvgLatency < 100*time.Millisecond || cSnap.AvgLatency > 500*time.Millisecond {
		t.Errorf("C's latency = %v, want roughly 120ms", cSnap.AvgLatency)
	}
}

func TestExecuteWithFailover_NonRecoverableStopsImmediately(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	call := 0
	nonRecoverable := domain.NewProviderError("A", "bad contract", false, nil)
	err := mgr.ExecuteWithFailover(context.Background(), domain.MarketUSStock, domain.DataQuote, "GetQuotes",
		func(ctx context.Context, p Provider) error {
			call++
			return nonRecoverable
		})
	if !errors.Is(err, nonRecoverable) {
		t.Fatalf("expected the non-recoverable error to propagate unwrapped, got %v", err)
	}
	if call != 1 {
		t.Errorf("expected exactly one attempt, got %d", call)
	}
	if hm.Snapshot("A").SampleCount != 1 {
		t.Errorf("expected a health failure recorded for the non-recoverable error")
	}
}

func TestExecuteWithFailover_AllProvidersFail(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	recoverable := errors.New("transient")
	err := mgr.ExecuteWithFailover(context.Background(), domain.MarketUSStock, domain.DataQuote, "GetQuotes",
		func(ctx context.Context, p Provider) error { return recoverable })

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a terminal ProviderError, got %v", err)
	}
	if pe.Recoverable {
		t.Error("terminal all-providers-failed error should be non-recoverable")
	}
	if !errors.Is(err, recoverable) {
		t.Error("terminal error should wrap the last underlying error")
	}
}

func TestBroadcast_SkipsUnhealthyProviders(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	for i := 0; i < 5; i++ {
		hm.Observe("B", errors.New("down"), time.Millisecond)
	}

	results := mgr.Broadcast(context.Background(), domain.MarketUSStock, domain.DataQuote,
		func(ctx context.Context, p Provider) error { return nil })

	if len(results) != 2 {
		t.Fatalf("expected broadcast to skip the unhealthy provider, got %d results", len(results))
	}
	for _, r := range results {
		if r.Provider == "B" {
			t.Error("broadcast should not have called the unhealthy provider")
		}
	}
}

func TestGetStatus_ReportsGroupsAndAggregates(t *testing.T) {
	mgr, hm, _, _ := newTestManager()
	registerABC(t, mgr, hm)

	st := mgr.GetStatus()
	if st.Total != 3 || st.Healthy != 3 || st.Unhealthy != 0 {
		t.Fatalf("unexpected status aggregate: %+v", st)
	}
	group := st.Groups[string(domain.MarketUSStock)+":"+string(domain.DataQuote)]
	if len(group) != 3 || group[0] != "A" || group[1] != "B" || group[2] != "C" {
		t.Errorf("expected group order A,B,C, got %v", group)
	}
}
