// Package universe maintains the curated symbol universe and drives the two
// recurring collection jobs that keep it fresh: a frequent quote refresh and
// a once-daily EOD bar backfill, both routed through the failover manager so
// neither job cares which concrete provider answers a given request.
package universe

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/failover"
	"github.com/sawpanic/marketfeed/internal/gaps"
	"github.com/sawpanic/marketfeed/internal/persistence"
	"github.com/sawpanic/marketfeed/internal/provideradapter"
)

// Config tunes both collection jobs.
type Config struct {
	BatchSize      int           // symbols per failover call, quote refresh
	RateLimitDelay time.Duration // pause between chunks, quote refresh
	QuoteTTL       time.Duration // cache TTL for a refreshed quote
	SelectLimit    int           // how many stale symbols to pull per quote-refresh run
	EODStaleAfter  time.Duration // how old last_eod_update must be to re-collect
	DaysBack       int           // historical lookback window for EOD collection
}

// DefaultConfig matches the reference orchestration core's job defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		RateLimitDelay: 500 * time.Millisecond,
		QuoteTTL:       30 * time.Minute,
		SelectLimit:    500,
		EODStaleAfter:  20 * time.Hour,
		DaysBack:       1,
	}
}

// Collector owns the universe table and drives its two refresh jobs.
type Collector struct {
	repo     persistence.UniverseRepo
	bars     persistence.BarsRepo
	adapters *provideradapter.Registry
	failover *failover.Manager
	cache    cache.Cache
	detector *gaps.Detector
	cfg      Config
}

// NewCollector wires a universe collector from its dependencies.
func NewCollector(repo persistence.UniverseRepo, bars persistence.BarsRepo, adapters *provideradapter.Registry, fo *failover.Manager, c cache.Cache, detector *gaps.Detector, cfg Config) *Collector {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Collector{repo: repo, bars: bars, adapters: adapters, failover: fo, cache: c, detector: detector, cfg: cfg}
}

// QuoteRefreshStats summarizes one quote-refresh run.
type QuoteRefreshStats struct {
	Total   int
	Updated int
	Failed  int
	Skipped int
}

// RefreshQuotes selects the stalest active symbols, partitions them by
// market kind, and fetches fresh quotes in rate-limited batches.
func (c *Collector) RefreshQuotes(ctx context.Context) (QuoteRefreshStats, error) {
	entries, err := c.repo.ListStaleQuotes(ctx, c.cfg.SelectLimit)
	if err != nil {
		return QuoteRefreshStats{}, err
	}

	partitions := make(map[domain.MarketKind][]persistence.MarketUniverseEntry)
	for _, e := range entries {
		mk := domain.MarketKind(e.MarketKind)
		partitions[mk] = append(partitions[mk], e)
	}

	stats := QuoteRefreshStats{Total: len(entries)}
	for mk, group := range partitions {
		c.refreshPartition(ctx, mk, group, &stats)
	}
	return stats, nil
}

func (c *Collector) refreshPartition(ctx context.Context, mk domain.MarketKind, group []persistence.MarketUniverseEntry, stats *QuoteRefreshStats) {
	for start := 0; start < len(group); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(group) {
			end = len(group)
		}
		chunk := group[start:end]

		symbols := make([]string, len(chunk))
		for i, e := range chunk {
			symbols[i] = e.Symbol
		}

		quotes, err := c.fetchQuotes(ctx, mk, symbols)
		if err != nil {
			log.Warn().Err(err).Str("market_kind", string(mk)).Int("symbols", len(symbols)).Msg("quote chunk failed")
			for _, e := range chunk {
				stats.Failed++
				if rerr := c.repo.RecordFailure(ctx, e.Symbol, err.Error()); rerr != nil {
					log.Error().Err(rerr).Str("symbol", e.Symbol).Msg("failed to record quote failure")
				}
			}
		} else {
			now := time.Now()
			for _, e := range chunk {
				q, ok := quotes[e.Symbol]
				if !ok {
					stats.Skipped++
					if rerr := c.repo.RecordFailure(ctx, e.Symbol, "missing from provider response"); rerr != nil {
						log.Error().Err(rerr).Str("symbol", e.Symbol).Msg("failed to record missing quote")
					}
					continue
				}
				if err := cache.SetQuote(ctx, c.cache, q, c.cfg.QuoteTTL); err != nil {
					log.Warn().Err(err).Str("symbol", e.Symbol).Msg("failed to cache quote")
				}
				if err := c.repo.MarkQuoteUpdated(ctx, e.Symbol, now); err != nil {
					log.Error().Err(err).Str("symbol", e.Symbol).Msg("failed to mark quote updated")
				}
				if err := c.repo.RecordSuccess(ctx, e.Symbol); err != nil {
					log.Error().Err(err).Str("symbol", e.Symbol).Msg("failed to reset failure counter")
				}
				stats.Updated++
			}
		}

		if end < len(group) {
			select {
			case <-time.After(c.cfg.RateLimitDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Collector) fetchQuotes(ctx context.Context, mk domain.MarketKind, symbols []string) (map[string]domain.Quote, error) {
	var result map[string]domain.Quote
	err := c.failover.ExecuteWithFailover(ctx, mk, domain.DataQuote, "GetQuotes", func(ctx context.Context, p failover.Provider) error {
		adapter, ok := c.adapters.ByName(p.Name)
		if !ok {
			return domain.NewProviderError(p.Name, "adapter not registered", false, nil)
		}
		quotes, err := adapter.GetQuotes(ctx, symbols)
		if err != nil {
			return err
		}
		result = quotes
		return nil
	})
	return result, err
}

// EODStats summarizes one EOD collection run.
type EODStats struct {
	Total     int
	Collected int
	Failed    int
	GapsFound int
}

// CollectEOD selects symbols with a stale (or absent) last EOD update,
// pulls the daily bars of the last DaysBack days, upserts them, and runs the
// freshly-written range through the gap detector to surface any backfill
// candidates the provider's response silently skipped.
func (c *Collector) CollectEOD(ctx context.Context) (EODStats, error) {
	entries, err := c.repo.ListStaleEOD(ctx, c.cfg.EODStaleAfter)
	if err != nil {
		return EODStats{}, err
	}

	stats := EODStats{Total: len(entries)}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -c.cfg.DaysBack)

	for _, e := range entries {
		mk := domain.MarketKind(e.MarketKind)
		bars, err := c.fetchHistorical(ctx, mk, e.Symbol, from, to)
		if err != nil {
			stats.Failed++
			if rerr := c.repo.RecordFailure(ctx, e.Symbol, err.Error()); rerr != nil {
				log.Error().Err(rerr).Str("symbol", e.Symbol).Msg("failed to record EOD failure")
			}
			continue
		}

		persisted := make([]persistence.PriceBar, len(bars))
		timestamps := make([]time.Time, len(bars))
		for i, b := range bars {
			persisted[i] = persistence.PriceBar{
				Symbol: b.Symbol, Timeframe: string(b.Timeframe), Timestamp: b.Timestamp,
				Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
				AdjustedClose: b.AdjustedClose, Provider: b.Provider,
			}
			timestamps[i] = b.Timestamp
		}
		if err := c.bars.InsertBatch(ctx, persisted); err != nil {
			stats.Failed++
			log.Error().Err(err).Str("symbol", e.Symbol).Msg("failed to upsert EOD bars")
			continue
		}

		now := time.Now()
		if err := c.repo.MarkEODUpdated(ctx, e.Symbol, now); err != nil {
			log.Error().Err(err).Str("symbol", e.Symbol).Msg("failed to mark EOD updated")
		}
		if err := c.repo.RecordSuccess(ctx, e.Symbol); err != nil {
			log.Error().Err(err).Str("symbol", e.Symbol).Msg("failed to reset failure counter")
		}
		stats.Collected++

		found := c.detector.Detect(e.Symbol, domain.TimeFrame1Day, timestamps, from, to)
		if len(found) > 0 {
			stats.GapsFound += len(found)
			log.Info().Str("symbol", e.Symbol).Int("gaps", len(found)).Msg("backfill candidate gaps found after EOD collection")
		}
	}
	return stats, nil
}

func (c *Collector) fetchHistorical(ctx context.Context, mk domain.MarketKind, symbol string, from, to time.Time) ([]domain.Bar, error) {
	var result []domain.Bar
	err := c.failover.ExecuteWithFailover(ctx, mk, domain.DataOHLCV, "GetHistorical", func(ctx context.Context, p failover.Provider) error {
		adapter, ok := c.adapters.ByName(p.Name)
		if !ok {
			return domain.NewProviderError(p.Name, "adapter not registered", false, nil)
		}
		bars, err := adapter.GetHistorical(ctx, symbol, domain.TimeFrame1Day, from, to)
		if err != nil {
			return err
		}
		result = bars
		return nil
	})
	return result, err
}
