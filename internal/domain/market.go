package domain

import "time"

// MarketKind identifies the broad category of instrument a provider quotes.
type MarketKind string

const (
	MarketUSStock    MarketKind = "us_stock"
	MarketEUStock    MarketKind = "eu_stock"
	MarketAsiaStock  MarketKind = "asia_stock"
	MarketCrypto     MarketKind = "crypto"
	MarketForex      MarketKind = "forex"
	MarketCommodity  MarketKind = "commodity"
	MarketIndex      MarketKind = "index"
	MarketETF        MarketKind = "etf"
	MarketUSOption   MarketKind = "us_option"
)

// DataType identifies the kind of record a provider can supply.
type DataType string

const (
	DataQuote        DataType = "quote"
	DataOHLCV        DataType = "ohlcv"
	DataTrade        DataType = "trade"
	DataOrderBook    DataType = "order_book"
	DataNews         DataType = "news"
	DataFundamentals DataType = "fundamentals"
	DataOptions      DataType = "options"
)

// TimeFrame identifies a bar's aggregation period.
type TimeFrame string

const (
	TimeFrameTick    TimeFrame = "tick"
	TimeFrame1Min    TimeFrame = "1min"
	TimeFrame5Min    TimeFrame = "5min"
	TimeFrame15Min   TimeFrame = "15min"
	TimeFrame30Min   TimeFrame = "30min"
	TimeFrame1Hour   TimeFrame = "1hour"
	TimeFrame4Hour   TimeFrame = "4hour"
	TimeFrame1Day    TimeFrame = "1day"
	TimeFrame1Week   TimeFrame = "1week"
	TimeFrame1Month  TimeFrame = "1month"
)

// Duration returns the nominal duration of one bar of this timeframe.
// Monthly bars have no fixed duration; callers use calendar math instead.
func (t TimeFrame) Duration() time.Duration {
	switch t {
	case TimeFrameTick:
		return 0
	case TimeFrame1Min:
		return time.Minute
	case TimeFrame5Min:
		return 5 * time.Minute
	case TimeFrame15Min:
		return 15 * time.Minute
	case TimeFrame30Min:
		return 30 * time.Minute
	case TimeFrame1Hour:
		return time.Hour
	case TimeFrame4Hour:
		return 4 * time.Hour
	case TimeFrame1Day:
		return 24 * time.Hour
	case TimeFrame1Week:
		return 7 * 24 * time.Hour
	case TimeFrame1Month:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// IsIntraday reports whether bars of this timeframe occur within a single trading day.
func (t TimeFrame) IsIntraday() bool {
	switch t {
	case TimeFrame1Min, TimeFrame5Min, TimeFrame15Min, TimeFrame30Min, TimeFrame1Hour, TimeFrame4Hour:
		return true
	default:
		return false
	}
}

// Quote is the canonical snapshot-quote record every adapter normalizes into.
type Quote struct {
	Symbol        string
	MarketKind    MarketKind
	Price         float64
	Bid           *float64
	Ask           *float64
	BidSize       *float64
	AskSize       *float64
	Volume        *float64
	DayHigh       *float64
	DayLow        *float64
	DayOpen       *float64
	PrevClose     *float64
	Change        *float64
	ChangePercent *float64
	Provider      string
	Timestamp     time.Time
	Currency      string
	Exchange      string
}

// Bar is the canonical OHLCV record. Symbol, Timeframe and Timestamp form its key.
type Bar struct {
	Symbol         string
	Timeframe      TimeFrame
	Timestamp      time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	AdjustedClose  *float64
	VWAP           *float64
	TradeCount     *int64
	Provider       string
}

// Valid reports whether the bar satisfies the canonical OHLC invariants.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && b.High >= hi && b.High >= b.Low
}

// Key uniquely identifies a bar within a symbol's series.
type BarKey struct {
	Symbol    string
	Timeframe TimeFrame
	Timestamp time.Time
}

func (b Bar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Timeframe: b.Timeframe, Timestamp: b.Timestamp}
}
