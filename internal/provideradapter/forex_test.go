package provideradapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/fx"
)

type fakeFXSource struct {
	rates map[string]float64
}

func (f *fakeFXSource) FetchEURRates(ctx context.Context, quotes []string) (map[string]float64, time.Time, error) {
	return f.rates, time.Now(), nil
}

func TestForexFrankfurterAdapter_GetQuote(t *testing.T) {
	m := fx.NewMaintainer(&fakeFXSource{rates: map[string]float64{"USD": 1.1, "GBP": 0.88, "EUR": 1.0}}, time.Hour)
	if err := m.Refresh(context.Background(), fx.DefaultCurrencies); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	a := NewForexFrankfurterAdapter(m, nil)
	q, err := a.GetQuote(context.Background(), "USD/GBP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Symbol != "USD/GBP" || q.MarketKind != domain.MarketForex {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestForexFrankfurterAdapter_InvalidSymbol(t *testing.T) {
	m := fx.NewMaintainer(&fakeFXSource{}, time.Hour)
	a := NewForexFrankfurterAdapter(m, nil)
	if _, err := a.GetQuote(context.Background(), "NOTVALID"); err == nil {
		t.Error("expected an error for a malformed symbol")
	}
}

func TestForexFrankfurterAdapter_HistoricalUnsupported(t *testing.T) {
	m := fx.NewMaintainer(&fakeFXSource{}, time.Hour)
	a := NewForexFrankfurterAdapter(m, nil)
	_, err := a.GetHistorical(context.Background(), "USD/GBP", domain.TimeFrame1Day, time.Now(), time.Now())

	var dna *domain.DataNotAvailable
	if !errors.As(err, &dna) {
		t.Fatalf("expected *domain.DataNotAvailable, got %T: %v", err, err)
	}
}

func TestForexFrankfurterAdapter_HealthCheckBeforeSync(t *testing.T) {
	m := fx.NewMaintainer(&fakeFXSource{}, time.Hour)
	a := NewForexFrankfurterAdapter(m, nil)
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail before any sync populates the rate table")
	}
}
