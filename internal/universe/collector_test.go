package universe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/failover"
	"github.com/sawpanic/marketfeed/internal/gaps"
	"github.com/sawpanic/marketfeed/internal/health"
	"github.com/sawpanic/marketfeed/internal/net/budget"
	"github.com/sawpanic/marketfeed/internal/net/circuit"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
	"github.com/sawpanic/marketfeed/internal/persistence"
	"github.com/sawpanic/marketfeed/internal/provideradapter"
)

type fakeUniverseRepo struct {
	mu      sync.Mutex
	entries []persistence.MarketUniverseEntry
	failed  map[string]string
	updated map[string]time.Time
}

func newFakeUniverseRepo(entries ...persistence.MarketUniverseEntry) *fakeUniverseRepo {
	return &fakeUniverseRepo{entries: entries, failed: map[string]string{}, updated: map[string]time.Time{}}
}

func (r *fakeUniverseRepo) Upsert(ctx context.Context, e persistence.MarketUniverseEntry) error { return nil }
func (r *fakeUniverseRepo) Get(ctx context.Context, symbol string) (*persistence.MarketUniverseEntry, error) {
	return nil, nil
}
func (r *fakeUniverseRepo) ListActive(ctx context.Context, marketKind string) ([]persistence.MarketUniverseEntry, error) {
	return r.entries, nil
}
func (r *fakeUniverseRepo) ListStaleQuotes(ctx context.Context, limit int) ([]persistence.MarketUniverseEntry, error) {
	return r.entries, nil
}
func (r *fakeUniverseRepo) MarkQuoteUpdated(ctx context.Context, symbol string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated[symbol] = at
	return nil
}
func (r *fakeUniverseRepo) MarkEODUpdated(ctx context.Context, symbol string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated[symbol] = at
	return nil
}
func (r *fakeUniverseRepo) RecordFailure(ctx context.Context, symbol, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[symbol] = errMsg
	return nil
}
func (r *fakeUniverseRepo) RecordSuccess(ctx context.Context, symbol string) error { return nil }
func (r *fakeUniverseRepo) ListStaleEOD(ctx context.Context, olderThan time.Duration) ([]persistence.MarketUniverseEntry, error) {
	return r.entries, nil
}

type fakeBarsRepo struct {
	mu      sync.Mutex
	batches [][]persistence.PriceBar
}

func (r *fakeBarsRepo) Insert(ctx context.Context, bar persistence.PriceBar) error { return nil }
func (r *fakeBarsRepo) InsertBatch(ctx context.Context, bars []persistence.PriceBar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, bars)
	return nil
}
func (r *fakeBarsRepo) ListBySymbol(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) ([]persistence.PriceBar, error) {
	return nil, nil
}
func (r *fakeBarsRepo) ListTimestamps(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) ([]time.Time, error) {
	return nil, nil
}
func (r *fakeBarsRepo) Latest(ctx context.Context, symbol, timeframe string) (*persistence.PriceBar, error) {
	return nil, nil
}
func (r *fakeBarsRepo) Count(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) (int64, error) {
	return 0, nil
}

// fakeAdapter serves canned quotes/bars without any network call, so the
// collector's failover wiring (not a real upstream) is what's under test.
type fakeAdapter struct {
	name   string
	quotes map[string]domain.Quote
	bars   []domain.Bar
}

func (a *fakeAdapter) Name() string                                       { return a.name }
func (a *fakeAdapter) Initialize(ctx context.Context) error               { return nil }
func (a *fakeAdapter) Close(ctx context.Context) error                    { return nil }
func (a *fakeAdapter) HealthCheck(ctx context.Context) error              { return nil }
func (a *fakeAdapter) SupportedMarkets() []domain.MarketKind {
	return []domain.MarketKind{domain.MarketUSStock}
}
func (a *fakeAdapter) SupportedDataTypes() []domain.DataType {
	return []domain.DataType{domain.DataQuote, domain.DataOHLCV}
}
func (a *fakeAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q, ok := a.quotes[symbol]
	if !ok {
		return nil, domain.NewProviderError(a.name, "no quote", false, nil)
	}
	return &q, nil
}
func (a *fakeAdapter) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := a.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}
func (a *fakeAdapter) GetHistorical(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	return a.bars, nil
}

func newTestCollector(t *testing.T, repo *fakeUniverseRepo, bars *fakeBarsRepo, adapter provideradapter.Adapter) *Collector {
	t.Helper()
	hm := health.NewMonitor(health.DefaultThresholds())
	rl := ratelimit.NewProviderLimiter()
	bt := budget.NewProviderBudgetTracker()
	hm.Configure("fake", circuit.DefaultConfig())

	fo := failover.NewManager(hm, rl, bt, failover.Config{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	fo.Register(failover.Provider{Name: "fake", MarketKind: domain.MarketUSStock, DataType: domain.DataQuote})
	fo.Register(failover.Provider{Name: "fake", MarketKind: domain.MarketUSStock, DataType: domain.DataOHLCV})

	registry := provideradapter.NewRegistry()
	registry.Register(adapter)

	det := gaps.NewDetector(gaps.NewUSEquityCalendar())
	c := NewCollector(repo, bars, registry, fo, cache.NewMemoryCache(), det, DefaultConfig())
	return c
}

func TestCollector_RefreshQuotes(t *testing.T) {
	repo := newFakeUniverseRepo(
		persistence.MarketUniverseEntry{Symbol: "AAPL", MarketKind: string(domain.MarketUSStock), Active: true},
		persistence.MarketUniverseEntry{Symbol: "MSFT", MarketKind: string(domain.MarketUSStock), Active: true},
	)
	adapter := &fakeAdapter{name: "fake", quotes: map[string]domain.Quote{
		"AAPL": {Symbol: "AAPL", Price: 150},
		// MSFT deliberately missing from the adapter's response.
	}}
	c := newTestCollector(t, repo, &fakeBarsRepo{}, adapter)

	stats, err := c.RefreshQuotes(context.Background())
	if err != nil {
		t.Fatalf("refresh quotes: %v", err)
	}
	if stats.Total != 2 || stats.Updated != 1 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	q, ok, err := cache.GetQuote(context.Background(), c.cache, "AAPL")
	if err != nil || !ok {
		t.Fatalf("expected AAPL cached, ok=%v err=%v", ok, err)
	}
	if q.Price != 150 {
		t.Errorf("cached quote price = %v, want 150", q.Price)
	}
}

func TestCollector_CollectEOD(t *testing.T) {
	repo := newFakeUniverseRepo(
		persistence.MarketUniverseEntry{Symbol: "AAPL", MarketKind: string(domain.MarketUSStock), Active: true},
	)
	bars := []domain.Bar{
		{Symbol: "AAPL", Timeframe: domain.TimeFrame1Day, Timestamp: time.Now().Add(-24 * time.Hour), Open: 1, High: 2, Low: 0.5, Close: 1.5, Provider: "fake"},
	}
	adapter := &fakeAdapter{name: "fake", bars: bars}
	barsRepo := &fakeBarsRepo{}
	c := newTestCollector(t, repo, barsRepo, adapter)

	stats, err := c.CollectEOD(context.Background())
	if err != nil {
		t.Fatalf("collect eod: %v", err)
	}
	if stats.Total != 1 || stats.Collected != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(barsRepo.batches) != 1 || len(barsRepo.batches[0]) != 1 {
		t.Fatalf("expected one batch of one bar persisted, got %+v", barsRepo.batches)
	}
}

func TestCollector_RefreshQuotesRecordsFailureOnAdapterError(t *testing.T) {
	repo := newFakeUniverseRepo(
		persistence.MarketUniverseEntry{Symbol: "AAPL", MarketKind: string(domain.MarketUSStock), Active: true},
	)
	adapter := &fakeAdapter{name: "fake"} // GetQuotes never errors itself, but GetQuote (unused here) would

	// Force the adapter registry to have no matching adapter name so the
	// collector's own "adapter not registered" guard fires.
	hm := health.NewMonitor(health.DefaultThresholds())
	rl := ratelimit.NewProviderLimiter()
	bt := budget.NewProviderBudgetTracker()
	hm.Configure("other", circuit.DefaultConfig())
	fo := failover.NewManager(hm, rl, bt, failover.Config{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	fo.Register(failover.Provider{Name: "other", MarketKind: domain.MarketUSStock, DataType: domain.DataQuote})

	registry := provideradapter.NewRegistry()
	registry.Register(adapter) // registered under name "fake", not "other"

	det := gaps.NewDetector(gaps.NewUSEquityCalendar())
	c := NewCollector(repo, &fakeBarsRepo{}, registry, fo, cache.NewMemoryCache(), det, DefaultConfig())

	stats, err := c.RefreshQuotes(context.Background())
	if err != nil {
		t.Fatalf("refresh quotes: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected the chunk to fail when no adapter matches, got %+v", stats)
	}
	if len(repo.failed) != 1 {
		t.Errorf("expected RecordFailure to be called for the unresolvable symbol")
	}
}
