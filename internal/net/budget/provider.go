package budget

import (
	"sync"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

// ProviderBudgetConfig configures the monetary spend caps for one provider.
// EndpointCosts and SymbolCosts override DefaultCost for specific call shapes;
// the most specific match wins (symbol, then endpoint, then default).
type ProviderBudgetConfig struct {
	DailyLimit     float64
	MonthlyLimit   float64
	DefaultCost    float64
	EndpointCosts  map[string]float64
	SymbolCosts    map[string]float64
	WarnThreshold  float64 // fraction of limit, e.g. 0.8
}

// AlertCallback is invoked asynchronously whenever a spend crosses WarnThreshold
// or a charge is rejected for insufficient budget. Callback errors are logged by
// the caller, never propagated back into the charging path.
type AlertCallback func(provider string, kind domain.BudgetKind, spent, limit float64)

type providerBudget struct {
	mu            sync.Mutex
	cfg           ProviderBudgetConfig
	dailySpent    float64
	monthlySpent  float64
	dailyWarned   bool
	monthlyWarned bool
	dailyReset    time.Time
	monthlyReset  time.Time
}

// ProviderBudgetTracker tracks daily and monthly spend per provider against
// configured monetary caps, with per-endpoint and per-symbol cost overrides
// and threshold-crossing alert callbacks.
type ProviderBudgetTracker struct {
	mu        sync.RWMutex
	providers map[string]*providerBudget
	callbacks []AlertCallback
	now       func() time.Time
}

// NewProviderBudgetTracker creates an empty provider-scoped spend tracker.
func NewProviderBudgetTracker() *ProviderBudgetTracker {
	return &ProviderBudgetTracker{
		providers: make(map[string]*providerBudget),
		now:       time.Now,
	}
}

// OnAlert registers a callback fired when a provider's spend crosses its warn
// threshold or a charge is rejected.
func (t *ProviderBudgetTracker) OnAlert(cb AlertCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Configure registers or replaces budget configuration for a provider.
func (t *ProviderBudgetTracker) Configure(provider string, cfg ProviderBudgetConfig) {
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 0.8
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[provider] = &providerBudget{
		cfg:          cfg,
		dailyReset:   nextMidnight(now),
		monthlyReset: nextMonthStart(now),
	}
}

func (t *ProviderBudgetTracker) state(provider string) *providerBudget {
	t.mu.RLock()
	pb, ok := t.providers[provider]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return pb
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

func nextMonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
}

func (pb *providerBudget) rollover(now time.Time) {
	if !now.Before(pb.dailyReset) {
		pb.dailySpent = 0
		pb.dailyWarned = false
		pb.dailyReset = nextMidnight(now)
	}
	if !now.Before(pb.monthlyReset) {
		pb.monthlySpent = 0
		pb.monthlyWarned = false
		pb.monthlyReset = nextMonthStart(now)
	}
}

// cost resolves the charge for a call, preferring symbol override over endpoint
// override over the provider's default cost.
func (pb *providerBudget) cost(endpoint, symbol string) float64 {
	if symbol != "" {
		if c, ok := pb.cfg.SymbolCosts[symbol]; ok {
			return c
		}
	}
	if endpoint != "" {
		if c, ok := pb.cfg.EndpointCosts[endpoint]; ok {
			return c
		}
	}
	return pb.cfg.DefaultCost
}

// CanAfford peeks whether a charge would fit within both caps without
// mutating any counter.
func (t *ProviderBudgetTracker) CanAfford(provider, endpoint, symbol string) bool {
	pb := t.state(provider)
	if pb == nil {
		return true
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	now := t.now()
	pb.rollover(now)
	c := pb.cost(endpoint, symbol)
	if pb.cfg.DailyLimit > 0 && pb.dailySpent+c > pb.cfg.DailyLimit {
		return false
	}
	if pb.cfg.MonthlyLimit > 0 && pb.monthlySpent+c > pb.cfg.MonthlyLimit {
		return false
	}
	return true
}

// Charge records the cost of a call against both caps. It returns
// *domain.BudgetExceeded if either cap would be breached; no charge is applied
// in that case. Alert callbacks fire asynchronously (in their own goroutine)
// both on rejection and on first crossing of WarnThreshold.
func (t *ProviderBudgetTracker) Charge(provider, endpoint, symbol string) error {
	pb := t.state(provider)
	if pb == nil {
		return nil
	}

	pb.mu.Lock()
	now := t.now()
	pb.rollover(now)
	c := pb.cost(endpoint, symbol)

	if pb.cfg.DailyLimit > 0 && pb.dailySpent+c > pb.cfg.DailyLimit {
		limit, spent := pb.cfg.DailyLimit, pb.dailySpent
		pb.mu.Unlock()
		t.fireAlert(provider, domain.BudgetDaily, spent, limit)
		return &domain.BudgetExceeded{Provider: provider, Kind: domain.BudgetDaily, Limit: limit, Spent: spent}
	}
	if pb.cfg.MonthlyLimit > 0 && pb.monthlySpent+c > pb.cfg.MonthlyLimit {
		limit, spent := pb.cfg.MonthlyLimit, pb.monthlySpent
		pb.mu.Unlock()
		t.fireAlert(provider, domain.BudgetMonthly, spent, limit)
		return &domain.BudgetExceeded{Provider: provider, Kind: domain.BudgetMonthly, Limit: limit, Spent: spent}
	}

	pb.dailySpent += c
	pb.monthlySpent += c

	crossedDaily := pb.cfg.DailyLimit > 0 && !pb.dailyWarned && pb.dailySpent >= pb.cfg.WarnThreshold*pb.cfg.DailyLimit
	if crossedDaily {
		pb.dailyWarned = true
	}
	crossedMonthly := pb.cfg.MonthlyLimit > 0 && !pb.monthlyWarned && pb.monthlySpent >= pb.cfg.WarnThreshold*pb.cfg.MonthlyLimit
	if crossedMonthly {
		pb.monthlyWarned = true
	}
	dailySpentSnap, monthlySpentSnap := pb.dailySpent, pb.monthlySpent
	dailyLimit, monthlyLimit := pb.cfg.DailyLimit, pb.cfg.MonthlyLimit
	pb.mu.Unlock()

	if crossedDaily {
		t.fireAlert(provider, domain.BudgetDaily, dailySpentSnap, dailyLimit)
	}
	if crossedMonthly {
		t.fireAlert(provider, domain.BudgetMonthly, monthlySpentSnap, monthlyLimit)
	}
	return nil
}

func (t *ProviderBudgetTracker) fireAlert(provider string, kind domain.BudgetKind, spent, limit float64) {
	t.mu.RLock()
	cbs := make([]AlertCallback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.RUnlock()
	for _, cb := range cbs {
		go cb(provider, kind, spent, limit)
	}
}

// Spent reports the current daily and monthly spend for a provider.
func (t *ProviderBudgetTracker) Spent(provider string) (daily, monthly float64) {
	pb := t.state(provider)
	if pb == nil {
		return 0, 0
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.rollover(t.now())
	return pb.dailySpent, pb.monthlySpent
}
