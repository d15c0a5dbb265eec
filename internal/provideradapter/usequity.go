package provideradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

// USEquityRESTAdapter is the reference adapter for a REST-only US-equity
// quote/historical-bars provider. It demonstrates the field-mapping pattern
// every adapter follows: decode into a generic payload, then pull fields
// through an explicit FieldMap rather than reflection.
type USEquityRESTAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	quoteFM FieldMap
}

// NewUSEquityRESTAdapter builds an adapter against a REST API shaped like the
// common "quote" + "historical bars" endpoint pair (Alpha-Vantage/IEX-style).
func NewUSEquityRESTAdapter(name, baseURL, apiKey string) *USEquityRESTAdapter {
	return &USEquityRESTAdapter{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		quoteFM: FieldMap{
			Symbol: func(r map[string]interface{}) string { return str(r, "symbol") },
			Price:  func(r map[string]interface{}) float64 { return num(r, "price") },
			Bid: func(r map[string]interface{}) (float64, bool) {
				v, ok := r["bid"]
				return numOpt(v, ok)
			},
			Ask: func(r map[string]interface{}) (float64, bool) {
				v, ok := r["ask"]
				return numOpt(v, ok)
			},
			Volume: func(r map[string]interface{}) (float64, bool) {
				v, ok := r["volume"]
				return numOpt(v, ok)
			},
			Timestamp: func(r map[string]interface{}) time.Time {
				if s, ok := r["timestamp"].(string); ok {
					if t, err := time.Parse(time.RFC3339, s); err == nil {
						return t
					}
				}
				return time.Now()
			},
		},
	}
}

func (a *USEquityRESTAdapter) Name() string { return a.name }

func (a *USEquityRESTAdapter) Initialize(ctx context.Context) error { return nil }
func (a *USEquityRESTAdapter) Close(ctx context.Context) error     { return nil }

func (a *USEquityRESTAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.NewProviderError(a.name, "health check failed", true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return domain.NewProviderError(a.name, fmt.Sprintf("health check status %d", resp.StatusCode), true, nil)
	}
	return nil
}

func (a *USEquityRESTAdapter) fetch(ctx context.Context, path string) (map[string]interface{}, error) {
	url := a.baseURL + path
	if a.apiKey != "" {
		url += "&apikey=" + a.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewProviderError(a.name, "request failed", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.RateLimitHit{Provider: a.name, RetryAfter: time.Minute}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &domain.AuthenticationError{Provider: a.name, Message: "rejected credentials"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.NewProviderError(a.name, fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), resp.StatusCode >= 500, nil)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, domain.NewProviderError(a.name, "decode failed", false, err)
	}
	return payload, nil
}

func (a *USEquityRESTAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	raw, err := a.fetch(ctx, "/quote?symbol="+symbol)
	if err != nil {
		return nil, err
	}
	q := MapQuote(a.name, domain.MarketUSStock, raw, a.quoteFM)
	return &q, nil
}

func (a *USEquityRESTAdapter) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		q, err := a.GetQuote(ctx, s)
		if err != nil {
			return out, err
		}
		out[s] = *q
	}
	return out, nil
}

func (a *USEquityRESTAdapter) GetHistorical(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	path := fmt.Sprintf("/historical?symbol=%s&timeframe=%s&from=%s&to=%s",
		symbol, tf, from.Format(time.RFC3339), to.Format(time.RFC3339))
	raw, err := a.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	entries, _ := raw["bars"].([]interface{})
	bars := make([]domain.Bar, 0, len(entries))
	for _, e := range entries {
		row, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		bar := domain.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Provider:  a.name,
			Open:      num(row, "open"),
			High:      num(row, "high"),
			Low:       num(row, "low"),
			Close:     num(row, "close"),
			Volume:    num(row, "volume"),
		}
		if s, ok := row["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				bar.Timestamp = t
			}
		}
		if bar.Valid() {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

func (a *USEquityRESTAdapter) SupportedMarkets() []domain.MarketKind {
	return []domain.MarketKind{domain.MarketUSStock, domain.MarketETF, domain.MarketIndex}
}

func (a *USEquityRESTAdapter) SupportedDataTypes() []domain.DataType {
	return []domain.DataType{domain.DataQuote, domain.DataOHLCV}
}

func str(r map[string]interface{}, key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func num(r map[string]interface{}, key string) float64 {
	v, ok := numOpt(r[key], true)
	if !ok {
		return 0
	}
	return v
}

func numOpt(v interface{}, present bool) (float64, bool) {
	if !present || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
