package provideradapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

func TestUSEquityRESTAdapter_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": "AAPL", "price": 150.25, "bid": 150.20, "ask": 150.30, "volume": 1000,
			"timestamp": time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	a := NewUSEquityRESTAdapter("iex", srv.URL, "")
	q, err := a.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 150.25 {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Bid == nil || *q.Bid != 150.20 {
		t.Errorf("expected bid 150.20, got %v", q.Bid)
	}
}

func TestUSEquityRESTAdapter_RateLimitHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewUSEquityRESTAdapter("iex", srv.URL, "")
	_, err := a.GetQuote(context.Background(), "AAPL")

	var rl *domain.RateLimitHit
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.As(err, &rl) {
		t.Fatalf("expected *domain.RateLimitHit, got %T: %v", err, err)
	}
}

func TestUSEquityRESTAdapter_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewUSEquityRESTAdapter("iex", srv.URL, "badkey")
	_, err := a.GetQuote(context.Background(), "AAPL")

	var ae *domain.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *domain.AuthenticationError, got %T: %v", err, err)
	}
}

func TestUSEquityRESTAdapter_ServerErrorIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	a := NewUSEquityRESTAdapter("iex", srv.URL, "")
	_, err := a.GetQuote(context.Background(), "AAPL")

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *domain.ProviderError, got %T: %v", err, err)
	}
	if !pe.Recoverable {
		t.Error("a 5xx should be recoverable")
	}
}

func TestUSEquityRESTAdapter_GetHistorical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"bars": []map[string]interface{}{
				{"open": 10, "high": 12, "low": 9, "close": 11, "volume": 500, "timestamp": "2026-07-29T00:00:00Z"},
				{"open": 11, "high": 1, "low": 20, "close": 10, "volume": 500, "timestamp": "2026-07-30T00:00:00Z"}, // invalid OHLC, dropped
			},
		})
	}))
	defer srv.Close()

	a := NewUSEquityRESTAdapter("iex", srv.URL, "")
	bars, err := a.GetHistorical(context.Background(), "AAPL", domain.TimeFrame1Day,
		time.Now().AddDate(0, 0, -2), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected the invalid bar to be dropped, got %d bars", len(bars))
	}
}

func TestUSEquityRESTAdapter_SupportedCapabilities(t *testing.T) {
	a := NewUSEquityRESTAdapter("iex", "http://example.invalid", "")
	if len(a.SupportedMarkets()) == 0 || len(a.SupportedDataTypes()) == 0 {
		t.Error("expected non-empty supported markets/data types")
	}
}
