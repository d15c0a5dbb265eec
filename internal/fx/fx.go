// Package fx maintains cross-currency exchange rates from a single
// EUR-basis external call per refresh cycle, computing cross rates locally
// instead of issuing one call per currency pair.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultCurrencies is the basis-quote set refreshed every cycle.
var DefaultCurrencies = []string{"EUR", "USD", "GBP", "CHF", "HKD", "JPY"}

// RateSource fetches EUR-basis rates for a set of quote currencies from an
// upstream provider. The reference implementation targets the Frankfurter
// API (https://api.frankfurter.dev), which requires no API key.
type RateSource interface {
	FetchEURRates(ctx context.Context, quotes []string) (map[string]float64, time.Time, error)
}

const quantizeScale = 1e8 // 8 decimal places

func quantize(v float64) float64 {
	return math.Round(v*quantizeScale) / quantizeScale
}

// Maintainer holds the latest EUR-basis rates and derives cross rates on
// demand. A single external call per Refresh cycle populates the whole set.
type Maintainer struct {
	mu        sync.RWMutex
	source    RateSource
	breaker   *gobreaker.CircuitBreaker
	eurRates  map[string]float64 // EUR -> currency, i.e. units of currency per 1 EUR
	updatedAt time.Time
	staleTTL  time.Duration
}

// NewMaintainer wraps source with a transport-level circuit breaker. staleTTL
// governs when StartupSync considers the cached set stale enough to refresh.
func NewMaintainer(source RateSource, staleTTL time.Duration) *Maintainer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fx-rate-source",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	if staleTTL <= 0 {
		staleTTL = time.Hour
	}
	return &Maintainer{source: source, breaker: cb, staleTTL: staleTTL}
}

// Refresh performs one external call for the EUR-basis rate set and replaces
// the cached table atomically.
func (m *Maintainer) Refresh(ctx context.Context, quotes []string) error {
	result, err := m.breaker.Execute(func() (interface{}, error) {
		rates, at, err := m.source.FetchEURRates(ctx, quotes)
		if err != nil {
			return nil, err
		}
		return struct {
			rates map[string]float64
			at    time.Time
		}{rates, at}, nil
	})
	if err != nil {
		return fmt.Errorf("fx refresh: %w", err)
	}
	data := result.(struct {
		rates map[string]float64
		at    time.Time
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.eurRates = data.rates
	m.eurRates["EUR"] = 1.0
	m.updatedAt = data.at
	return nil
}

// StartupSync refreshes the rate table if it is empty or older than staleTTL.
func (m *Maintainer) StartupSync(ctx context.Context, quotes []string) error {
	m.mu.RLock()
	stale := len(m.eurRates) == 0 || time.Since(m.updatedAt) > m.staleTTL
	m.mu.RUnlock()
	if !stale {
		return nil
	}
	return m.Refresh(ctx, quotes)
}

// Convert computes amount of base currency expressed in quote currency using
// the latest cached EUR-basis rates: rate(base,quote) = EUR/quote ÷ EUR/base.
// Same-currency conversions always return amount unchanged without touching
// the cache, even if it is empty or stale.
func (m *Maintainer) Convert(amount float64, base, quote string) (float64, error) {
	if base == quote {
		return amount, nil
	}
	rate, err := m.Rate(base, quote)
	if err != nil {
		return 0, err
	}
	return quantize(amount * rate), nil
}

// Rate returns the quantized cross rate for converting 1 unit of base into quote.
func (m *Maintainer) Rate(base, quote string) (float64, error) {
	if base == quote {
		return 1, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	eurPerQuote, ok := m.eurRates[quote]
	if !ok {
		return 0, fmt.Errorf("fx: no cached rate for quote currency %s", quote)
	}
	eurPerBase, ok := m.eurRates[base]
	if !ok {
		return 0, fmt.Errorf("fx: no cached rate for base currency %s", base)
	}
	if eurPerBase == 0 {
		return 0, fmt.Errorf("fx: cached base rate for %s is zero", base)
	}
	return quantize(eurPerQuote / eurPerBase), nil
}

// LastUpdated reports when the cached table was last refreshed.
func (m *Maintainer) LastUpdated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}

// FrankfurterSource is the reference RateSource backed by the free,
// no-API-key Frankfurter exchange-rate API.
type FrankfurterSource struct {
	BaseURL string
	Client  *http.Client
}

// NewFrankfurterSource builds a source against the public Frankfurter API.
func NewFrankfurterSource() *FrankfurterSource {
	return &FrankfurterSource{
		BaseURL: "https://api.frankfurter.dev/v1/latest",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

func (f *FrankfurterSource) FetchEURRates(ctx context.Context, quotes []string) (map[string]float64, time.Time, error) {
	url := f.BaseURL + "?base=EUR"
	for _, q := range quotes {
		if q != "EUR" {
			url += "&symbols=" + q
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, time.Time{}, fmt.Errorf("frankfurter: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed frankfurterResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, time.Time{}, err
	}

	at, err := time.Parse("2006-01-02", parsed.Date)
	if err != nil {
		at = time.Now()
	}
	return parsed.Rates, at, nil
}
