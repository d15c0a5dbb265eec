package provideradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
)

// CryptoHybridAdapter serves historical bars over REST and live quotes over
// a WebSocket feed, demonstrating the optional StreamingAdapter capability:
// most providers in this build are REST-only, but a crypto venue typically
// exposes both a REST snapshot endpoint and a push feed. Its REST and
// WebSocket endpoints are independently host-rate-limited: the provider-level
// token bucket in the failover path governs overall call volume, while this
// per-host limiter additionally shapes traffic to each physical endpoint,
// which matters when restURL and wsURL resolve to different edges.
type CryptoHybridAdapter struct {
	name    string
	restURL string
	wsURL   string
	client  *http.Client
	hosts   *ratelimit.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewCryptoHybridAdapter builds an adapter against a REST base URL (for
// GetQuote/GetHistorical) and a WebSocket URL (for StreamQuotes).
func NewCryptoHybridAdapter(name, restURL, wsURL string) *CryptoHybridAdapter {
	return &CryptoHybridAdapter{
		name:    name,
		restURL: restURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		hosts:   ratelimit.NewLimiter(20, 20),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (a *CryptoHybridAdapter) Name() string { return a.name }

func (a *CryptoHybridAdapter) Initialize(ctx context.Context) error { return nil }

func (a *CryptoHybridAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}

func (a *CryptoHybridAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.restURL+"/time", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.NewProviderError(a.name, "health check failed", true, err)
	}
	defer resp.Body.Close()
	return nil
}

func (a *CryptoHybridAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := a.hosts.Wait(ctx, hostOf(a.restURL)); err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/ticker?symbol=%s", a.restURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewProviderError(a.name, "request failed", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.RateLimitHit{Provider: a.name, RetryAfter: 10 * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewProviderError(a.name, fmt.Sprintf("status %d", resp.StatusCode), resp.StatusCode >= 500, nil)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, domain.NewProviderError(a.name, "decode failed", false, err)
	}

	price, _ := numOpt(raw["price"], true)
	q := domain.Quote{
		Symbol:     symbol,
		MarketKind: domain.MarketCrypto,
		Price:      price,
		Provider:   a.name,
		Timestamp:  time.Now(),
	}
	if v, ok := numOpt(raw["volume"], true); ok {
		q.Volume = &v
	}
	return &q, nil
}

func (a *CryptoHybridAdapter) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
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

func (a *CryptoHybridAdapter) GetHistorical(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	if err := a.hosts.Wait(ctx, hostOf(a.restURL)); err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&from=%d&to=%d",
		a.restURL, symbol, tf, from.Unix(), to.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewProviderError(a.name, "request failed", true, err)
	}
	defer resp.Body.Close()

	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, domain.NewProviderError(a.name, "decode failed", false, err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		bar := domain.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Provider:  a.name,
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
			Timestamp: time.UnixMilli(int64(toFloat(row[0]))),
		}
		if bar.Valid() {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func (a *CryptoHybridAdapter) SupportedMarkets() []domain.MarketKind {
	return []domain.MarketKind{domain.MarketCrypto}
}

func (a *CryptoHybridAdapter) SupportedDataTypes() []domain.DataType {
	return []domain.DataType{domain.DataQuote, domain.DataOHLCV, domain.DataTrade}
}

// StreamQuotes dials the provider's WebSocket feed and emits a Quote per
// ticker message for each requested symbol until ctx is cancelled.
func (a *CryptoHybridAdapter) StreamQuotes(ctx context.Context, symbols []string) (<-chan domain.Quote, error) {
	if err := a.hosts.Wait(ctx, hostOf(a.wsURL)); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return nil, domain.NewProviderError(a.name, "websocket dial failed", true, err)
	}

	sub := map[string]interface{}{"op": "subscribe", "symbols": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, domain.NewProviderError(a.name, "subscribe failed", true, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	out := make(chan domain.Quote, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var msg struct {
				Symbol string  `json:"symbol"`
				Price  float64 `json:"price"`
				Volume float64 `json:"volume"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			q := domain.Quote{
				Symbol:     msg.Symbol,
				MarketKind: domain.MarketCrypto,
				Price:      msg.Price,
				Volume:     &msg.Volume,
				Provider:   a.name,
				Timestamp:  time.Now(),
			}
			select {
			case out <- q:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
