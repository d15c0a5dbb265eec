package fx

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	rates map[string]float64
	at    time.Time
	err   error
	calls int
}

func (f *fakeSource) FetchEURRates(ctx context.Context, quotes []string) (map[string]float64, time.Time, error) {
	f.calls++
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	out := make(map[string]float64, len(f.rates))
	for k, v := range f.rates {
		out[k] = v
	}
	return out, f.at, nil
}

func TestMaintainer_RefreshAndCrossRate(t *testing.T) {
	src := &fakeSource{
		rates: map[string]float64{"USD": 1.10, "GBP": 0.88, "EUR": 1.0},
		at:    time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
	}
	m := NewMaintainer(src, time.Hour)

	if err := m.Refresh(context.Background(), DefaultCurrencies); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// GBP per 1 USD: Rate(base,quote) = eurPerQuote/eurPerBase.
	rate, err := m.Rate("USD", "GBP")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	want := quantize(0.88 / 1.10)
	if rate != want {
		t.Errorf("USD->GBP rate = %v, want %v", rate, want)
	}

	// Round trip: USD->GBP->USD should recover the original amount.
	amt, err := m.Convert(100, "USD", "GBP")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	back, err := m.Convert(amt, "GBP", "USD")
	if err != nil {
		t.Fatalf("convert back: %v", err)
	}
	if diff := back - 100; diff > 0.01 || diff < -0.01 {
		t.Errorf("round trip USD->GBP->USD = %v, want ~100", back)
	}
}

func TestMaintainer_SameCurrencyNeverTouchesCache(t *testing.T) {
	src := &fakeSource{}
	m := NewMaintainer(src, time.Hour)

	amt, err := m.Convert(42, "USD", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amt != 42 {
		t.Errorf("same-currency convert = %v, want 42", amt)
	}
	if src.calls != 0 {
		t.Errorf("same-currency convert should never call the source, calls=%d", src.calls)
	}
}

func TestMaintainer_RateMissingCurrency(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{"USD": 1.10, "EUR": 1.0}, at: time.Now().Add(-time.Minute)}
	m := NewMaintainer(src, time.Hour)
	if err := m.Refresh(context.Background(), DefaultCurrencies); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := m.Rate("USD", "JPY"); err == nil {
		t.Error("expected an error for an uncached quote currency")
	}
}

func TestMaintainer_StartupSyncOnlyWhenStale(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{"USD": 1.1, "EUR": 1.0}, at: time.Now()}
	m := NewMaintainer(src, time.Hour)

	if err := m.StartupSync(context.Background(), DefaultCurrencies); err != nil {
		t.Fatalf("startup sync: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected exactly one refresh on an empty cache, got %d", src.calls)
	}

	if err := m.StartupSync(context.Background(), DefaultCurrencies); err != nil {
		t.Fatalf("startup sync: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("a fresh cache should not trigger a second refresh, calls=%d", src.calls)
	}
}

func TestMaintainer_RefreshPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	m := NewMaintainer(src, time.Hour)
	if err := m.Refresh(context.Background(), DefaultCurrencies); err == nil {
		t.Error("expected refresh to propagate the source error")
	}
}
