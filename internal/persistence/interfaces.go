package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for data queries with PIT integrity.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// MarketUniverseEntry is one tracked symbol and its collection bookkeeping.
type MarketUniverseEntry struct {
	Symbol          string     `json:"symbol" db:"symbol"`
	MarketKind      string     `json:"market_kind" db:"market_kind"`
	Exchange        string     `json:"exchange" db:"exchange"`
	Currency        string     `json:"currency" db:"currency"`
	Active          bool       `json:"active" db:"active"`
	LastQuoteUpdate *time.Time `json:"last_quote_update,omitempty" db:"last_quote_update"`
	LastEODUpdate   *time.Time `json:"last_eod_update,omitempty" db:"last_eod_update"`
	ConsecutiveFailures int    `json:"consecutive_failures" db:"consecutive_failures"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// PriceBar is the persisted form of domain.Bar.
type PriceBar struct {
	Symbol        string    `json:"symbol" db:"symbol"`
	Timeframe     string    `json:"timeframe" db:"timeframe"`
	Timestamp     time.Time `json:"ts" db:"ts"`
	Open          float64   `json:"open" db:"open"`
	High          float64   `json:"high" db:"high"`
	Low           float64   `json:"low" db:"low"`
	Close         float64   `json:"close" db:"close"`
	Volume        float64   `json:"volume" db:"volume"`
	AdjustedClose *float64  `json:"adjusted_close,omitempty" db:"adjusted_close"`
	Provider      string    `json:"provider" db:"provider"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ExchangeRate is one persisted cross-currency rate observation.
type ExchangeRate struct {
	BaseCurrency  string    `json:"base_currency" db:"base_currency"`
	QuoteCurrency string    `json:"quote_currency" db:"quote_currency"`
	Rate          float64   `json:"rate" db:"rate"`
	AsOf          time.Time `json:"as_of" db:"as_of"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// UniverseRepo persists the tracked-symbol universe and its refresh bookkeeping.
type UniverseRepo interface {
	Upsert(ctx context.Context, entry MarketUniverseEntry) error
	Get(ctx context.Context, symbol string) (*MarketUniverseEntry, error)
	ListActive(ctx context.Context, marketKind string) ([]MarketUniverseEntry, error)

	// ListStaleQuotes returns active symbols ordered by last_quote_update
	// ascending with NULLs first, so never-refreshed symbols are served
	// before merely-old ones.
	ListStaleQuotes(ctx context.Context, limit int) ([]MarketUniverseEntry, error)

	MarkQuoteUpdated(ctx context.Context, symbol string, at time.Time) error
	MarkEODUpdated(ctx context.Context, symbol string, at time.Time) error

	// RecordFailure increments the consecutive-failure counter and stores the
	// error message; RecordSuccess resets the counter to zero.
	RecordFailure(ctx context.Context, symbol string, errMsg string) error
	RecordSuccess(ctx context.Context, symbol string) error

	// ListStaleEOD returns active symbols whose last EOD update is older
	// than the given threshold (or has never happened).
	ListStaleEOD(ctx context.Context, olderThan time.Duration) ([]MarketUniverseEntry, error)
}

// BarsRepo persists OHLCV bars with idempotent upserts keyed on
// (symbol, timeframe, timestamp).
type BarsRepo interface {
	Insert(ctx context.Context, bar PriceBar) error
	InsertBatch(ctx context.Context, bars []PriceBar) error
	ListBySymbol(ctx context.Context, symbol, timeframe string, tr TimeRange) ([]PriceBar, error)
	ListTimestamps(ctx context.Context, symbol, timeframe string, tr TimeRange) ([]time.Time, error)
	Latest(ctx context.Context, symbol, timeframe string) (*PriceBar, error)
	Count(ctx context.Context, symbol, timeframe string, tr TimeRange) (int64, error)
}

// FXRepo persists the latest cross-currency rate table with upsert-on-conflict
// semantics: one row per (base, quote) pair, always reflecting the newest
// observation.
type FXRepo interface {
	Upsert(ctx context.Context, rate ExchangeRate) error
	UpsertBatch(ctx context.Context, rates []ExchangeRate) error
	Get(ctx context.Context, base, quote string) (*ExchangeRate, error)
	ListAll(ctx context.Context) ([]ExchangeRate, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Universe UniverseRepo
	Bars     BarsRepo
	FX       FXRepo
}

// HealthCheck represents repository health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
