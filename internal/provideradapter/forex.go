package provideradapter

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/fx"
)

// ForexFrankfurterAdapter exposes the FX rate maintainer's cached cross rates
// through the Adapter contract so the failover manager can treat FX like any
// other provider, without importing internal/fx directly.
type ForexFrankfurterAdapter struct {
	maintainer *fx.Maintainer
	currencies []string
}

// NewForexFrankfurterAdapter wraps an already-constructed FX maintainer.
func NewForexFrankfurterAdapter(m *fx.Maintainer, currencies []string) *ForexFrankfurterAdapter {
	if len(currencies) == 0 {
		currencies = fx.DefaultCurrencies
	}
	return &ForexFrankfurterAdapter{maintainer: m, currencies: currencies}
}

func (a *ForexFrankfurterAdapter) Name() string { return "frankfurter" }

func (a *ForexFrankfurterAdapter) Initialize(ctx context.Context) error {
	return a.maintainer.StartupSync(ctx, a.currencies)
}

func (a *ForexFrankfurterAdapter) Close(ctx context.Context) error { return nil }

func (a *ForexFrankfurterAdapter) HealthCheck(ctx context.Context) error {
	if a.maintainer.LastUpdated().IsZero() {
		return domain.NewProviderError(a.Name(), "rate table never populated", true, nil)
	}
	return nil
}

// splitPair splits a "BASE/QUOTE" symbol, e.g. "EUR/USD".
func splitPair(symbol string) (base, quote string, err error) {
	if len(symbol) != 7 || symbol[3] != '/' {
		return "", "", fmt.Errorf("forex: symbol %q is not BASE/QUOTE", symbol)
	}
	return symbol[:3], symbol[4:], nil
}

func (a *ForexFrankfurterAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	base, quote, err := splitPair(symbol)
	if err != nil {
		return nil, err
	}
	rate, err := a.maintainer.Rate(base, quote)
	if err != nil {
		return nil, &domain.DataNotAvailable{Provider: a.Name(), Symbol: symbol, DataType: domain.DataQuote}
	}
	return &domain.Quote{
		Symbol:     symbol,
		MarketKind: domain.MarketForex,
		Price:      rate,
		Provider:   a.Name(),
		Timestamp:  a.maintainer.LastUpdated(),
		Currency:   quote,
	}, nil
}

func (a *ForexFrankfurterAdapter) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		q, err := a.GetQuote(ctx, s)
		if err != nil {
			continue
		}
		out[s] = *q
	}
	return out, nil
}

// GetHistorical is unsupported: Frankfurter's free tier in this build is
// wired only for the latest-rate endpoint used by the FX maintainer.
func (a *ForexFrankfurterAdapter) GetHistorical(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	return nil, &domain.DataNotAvailable{Provider: a.Name(), Symbol: symbol, DataType: domain.DataOHLCV}
}

func (a *ForexFrankfurterAdapter) SupportedMarkets() []domain.MarketKind {
	return []domain.MarketKind{domain.MarketForex}
}

func (a *ForexFrankfurterAdapter) SupportedDataTypes() []domain.DataType {
	return []domain.DataType{domain.DataQuote}
}
