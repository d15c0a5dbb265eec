package provideradapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

func TestCryptoHybridAdapter_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"price": 65000.5, "volume": 12.3})
	}))
	defer srv.Close()

	a := NewCryptoHybridAdapter("binance", srv.URL, "ws://example.invalid")
	q, err := a.GetQuote(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Symbol != "BTCUSDT" || q.Price != 65000.5 || q.MarketKind != domain.MarketCrypto {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Volume == nil || *q.Volume != 12.3 {
		t.Errorf("expected volume 12.3, got %v", q.Volume)
	}
}

func TestCryptoHybridAdapter_GetQuoteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewCryptoHybridAdapter("binance", srv.URL, "ws://example.invalid")
	_, err := a.GetQuote(context.Background(), "BTCUSDT")

	if err == nil {
		t.Fatal("expected an error")
	}
	rl, ok := err.(*domain.RateLimitHit)
	if !ok {
		t.Fatalf("expected *domain.RateLimitHit, got %T: %v", err, err)
	}
	if rl.Provider != "binance" {
		t.Errorf("unexpected provider on RateLimitHit: %+v", rl)
	}
}

func TestCryptoHybridAdapter_GetHistoricalParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := [][]interface{}{
			{float64(time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC).UnixMilli()), "10", "12", "9", "11", "500"},
			{float64(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC).UnixMilli()), "11", "1", "20", "10", "500"}, // invalid OHLC, dropped
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	a := NewCryptoHybridAdapter("binance", srv.URL, "ws://example.invalid")
	bars, err := a.GetHistorical(context.Background(), "BTCUSDT", domain.TimeFrame1Day,
		time.Now().AddDate(0, 0, -2), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected the invalid bar dropped, got %d bars", len(bars))
	}
	if bars[0].Open != 10 || bars[0].Close != 11 {
		t.Errorf("unexpected bar: %+v", bars[0])
	}
}

func TestCryptoHybridAdapter_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewCryptoHybridAdapter("binance", srv.URL, "ws://example.invalid")
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected health check error: %v", err)
	}
}

func TestCryptoHybridAdapter_SupportedCapabilities(t *testing.T) {
	a := NewCryptoHybridAdapter("binance", "http://example.invalid", "ws://example.invalid")
	if len(a.SupportedMarkets()) == 0 || len(a.SupportedDataTypes()) == 0 {
		t.Error("expected non-empty supported markets/data types")
	}
}
