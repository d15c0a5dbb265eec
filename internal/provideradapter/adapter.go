// Package provideradapter defines the contract every market-data provider
// adapter implements, plus the shared field-mapping helpers adapters use to
// normalize provider-specific payloads into the canonical domain types.
package provideradapter

import (
	"context"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

// Adapter is the contract an upstream market-data provider must satisfy.
// Initialize/Close bracket the adapter's connection lifecycle; HealthCheck is
// a cheap liveness probe distinct from the orchestrator's own health monitor
// (which derives health from the latency/error history of real calls).
type Adapter interface {
	Name() string
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	GetHistorical(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error)

	SupportedMarkets() []domain.MarketKind
	SupportedDataTypes() []domain.DataType
}

// StreamingAdapter is an optional capability: adapters that can push live
// quotes implement this in addition to Adapter. Not every provider supports
// streaming, so orchestration code must type-assert for it rather than
// requiring it on every Adapter.
type StreamingAdapter interface {
	Adapter
	StreamQuotes(ctx context.Context, symbols []string) (<-chan domain.Quote, error)
}

// FieldMap describes how to pull a canonical Quote field out of a provider's
// raw decoded payload (map[string]interface{} from JSON, or a provider SDK
// struct accessed via a small per-provider accessor function). Adapters
// build one FieldMap per endpoint shape rather than relying on reflection,
// so a provider's schema change fails loudly at the call site instead of
// silently producing zero-valued fields.
type FieldMap struct {
	Symbol        func(raw map[string]interface{}) string
	Price         func(raw map[string]interface{}) float64
	Bid           func(raw map[string]interface{}) (float64, bool)
	Ask           func(raw map[string]interface{}) (float64, bool)
	Volume        func(raw map[string]interface{}) (float64, bool)
	Timestamp     func(raw map[string]interface{}) time.Time
}

// MapQuote applies a FieldMap to a decoded payload, producing a canonical Quote.
func MapQuote(provider string, market domain.MarketKind, raw map[string]interface{}, fm FieldMap) domain.Quote {
	q := domain.Quote{
		Provider:   provider,
		MarketKind: market,
		Symbol:     fm.Symbol(raw),
		Price:      fm.Price(raw),
		Timestamp:  fm.Timestamp(raw),
	}
	if v, ok := fm.Bid(raw); ok {
		q.Bid = &v
	}
	if v, ok := fm.Ask(raw); ok {
		q.Ask = &v
	}
	if v, ok := fm.Volume(raw); ok {
		q.Volume = &v
	}
	return q
}

// Registry resolves the adapter responsible for a (market, data type) pair,
// used by the failover manager to discover candidates without importing any
// concrete adapter package.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds an adapter to the pool.
func (r *Registry) Register(a Adapter) { r.adapters = append(r.adapters, a) }

// For returns every registered adapter that declares support for the given
// market and data type.
func (r *Registry) For(market domain.MarketKind, dt domain.DataType) []Adapter {
	var out []Adapter
	for _, a := range r.adapters {
		if hasMarket(a.SupportedMarkets(), market) && hasDataType(a.SupportedDataTypes(), dt) {
			out = append(out, a)
		}
	}
	return out
}

// ByName returns a registered adapter by name, if present.
func (r *Registry) ByName(name string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

func hasMarket(markets []domain.MarketKind, m domain.MarketKind) bool {
	for _, x := range markets {
		if x == m {
			return true
		}
	}
	return false
}

func hasDataType(types []domain.DataType, dt domain.DataType) bool {
	for _, x := range types {
		if x == dt {
			return true
		}
	}
	return false
}
