// Package orchestrator assembles one process-wide handle — rate limiter,
// budget tracker, health monitor, failover manager, adapter registry, cache,
// FX maintainer, gap detector, universe collector, persistence repository,
// and scheduler — and wires the scheduler's recognized job kinds and startup
// tasks against it. A single *Core is constructed once in cmd/ and threaded
// by reference everywhere, replacing the source's process-wide singletons.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/failover"
	"github.com/sawpanic/marketfeed/internal/fx"
	"github.com/sawpanic/marketfeed/internal/gaps"
	"github.com/sawpanic/marketfeed/internal/health"
	httpmetrics "github.com/sawpanic/marketfeed/internal/interfaces/http"
	"github.com/sawpanic/marketfeed/internal/net/budget"
	"github.com/sawpanic/marketfeed/internal/net/circuit"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
	"github.com/sawpanic/marketfeed/internal/persistence"
	"github.com/sawpanic/marketfeed/internal/provideradapter"
	"github.com/sawpanic/marketfeed/internal/scheduler"
	"github.com/sawpanic/marketfeed/internal/universe"
)

// Core holds every shared component. No field is ever replaced after
// construction; components guard their own internal mutable state.
type Core struct {
	RateLimiter *ratelimit.ProviderLimiter
	Budget      *budget.ProviderBudgetTracker
	Health      *health.Monitor
	Failover    *failover.Manager
	Adapters    *provideradapter.Registry
	Cache       cache.Cache
	FX          *fx.Maintainer
	Gaps        *gaps.Detector
	Universe    *universe.Collector
	Repo        *persistence.Repository
	Scheduler   *scheduler.Scheduler
}

// Config bundles the construction-time knobs every component needs.
type Config struct {
	Timezone      string
	FXCurrencies  []string
	FXStaleTTL    time.Duration
	UniverseCfg   universe.Config
	HealthThresh  health.Thresholds
	FailoverCfg   failover.Config
}

// DefaultConfig matches the reference build's defaults end to end.
func DefaultConfig() Config {
	return Config{
		Timezone:     "America/New_York",
		FXCurrencies: fx.DefaultCurrencies,
		FXStaleTTL:   time.Hour,
		UniverseCfg:  universe.DefaultConfig(),
		HealthThresh: health.DefaultThresholds(),
		FailoverCfg:  failover.DefaultConfig(),
	}
}

// NewCore wires every component from its dependencies. repo may be nil (the
// connection-disabled in-memory mode); fxSource is typically
// fx.NewFrankfurterSource(), and calendar selects the gap detector's trading
// calendar (e.g. gaps.NewUSEquityCalendar()).
func NewCore(ctx context.Context, cfg Config, repo *persistence.Repository, c cache.Cache, fxSource fx.RateSource, calendar gaps.Calendar) *Core {
	hm := health.NewMonitor(cfg.HealthThresh)
	rl := ratelimit.NewProviderLimiter()
	bt := budget.NewProviderBudgetTracker()
	core := &Core{
		RateLimiter: rl,
		Budget:      bt,
		Health:      hm,
		Failover:    failover.NewManager(hm, rl, bt, cfg.FailoverCfg),
		Adapters:    provideradapter.NewRegistry(),
		Cache:       c,
		FX:          fx.NewMaintainer(fxSource, cfg.FXStaleTTL),
		Gaps:        gaps.NewDetector(calendar),
		Repo:        repo,
		Scheduler:   scheduler.New(ctx, cfg.Timezone),
	}
	if repo != nil {
		core.Universe = universe.NewCollector(repo.Universe, repo.Bars, core.Adapters, core.Failover, c, core.Gaps, cfg.UniverseCfg)
	}
	return core
}

// fxCycle runs one FX refresh and persists the full cross-rate matrix.
// Persistence is intentionally layered here rather than inside fx.Maintainer:
// the maintainer's single responsibility is the EUR-basis fetch and in-memory
// cross-rate math, not storage.
func (c *Core) fxCycle(ctx context.Context, currencies []string) error {
	if err := c.FX.Refresh(ctx, currencies); err != nil {
		return err
	}
	if c.Repo == nil || c.Repo.FX == nil {
		return nil
	}

	now := c.FX.LastUpdated()
	rates := make([]persistence.ExchangeRate, 0, len(currencies)*len(currencies))
	for _, base := range currencies {
		for _, quote := range currencies {
			r, err := c.FX.Rate(base, quote)
			if err != nil {
				continue
			}
			rates = append(rates, persistence.ExchangeRate{
				BaseCurrency: base, QuoteCurrency: quote, Rate: r, AsOf: now,
			})
		}
	}
	return c.Repo.FX.UpsertBatch(ctx, rates)
}

// fxIsFresh reports whether the durable FX table's newest observation is
// less than 1h old, used by the startup task's skip-check.
func (c *Core) fxIsFresh(ctx context.Context) bool {
	if c.Repo == nil || c.Repo.FX == nil {
		return false
	}
	all, err := c.Repo.FX.ListAll(ctx)
	if err != nil || len(all) == 0 {
		return false
	}
	newest := all[0].AsOf
	for _, r := range all[1:] {
		if r.AsOf.After(newest) {
			newest = r.AsOf
		}
	}
	return time.Since(newest) < time.Hour
}

// universeLastEODFresh reports whether every active symbol's last EOD update
// is within the given staleness window, used by the startup task's skip-check.
func (c *Core) universeLastEODFresh(ctx context.Context, staleAfter time.Duration) bool {
	if c.Repo == nil || c.Repo.Universe == nil {
		return false
	}
	stale, err := c.Repo.Universe.ListStaleEOD(ctx, staleAfter)
	if err != nil {
		return false
	}
	return len(stale) == 0
}

// RegisterStartupTasks wires the three bootstrap tasks named by the build:
// initial FX update (CRITICAL), EOD bar backfill (HIGH), and universe
// warm-up quote refresh (NORMAL, always runs).
func (c *Core) RegisterStartupTasks(o *scheduler.StartupOrchestrator, currencies []string) {
	o.Register(scheduler.StartupTask{
		Name:     "fx_initial_update",
		Priority: scheduler.PriorityCritical,
		SkipIf:   c.fxIsFresh,
		Run:      func(ctx context.Context) error { return c.fxCycle(ctx, currencies) },
	})

	if c.Universe != nil {
		o.Register(scheduler.StartupTask{
			Name:     "universe_eod_backfill",
			Priority: scheduler.PriorityHigh,
			SkipIf:   func(ctx context.Context) bool { return c.universeLastEODFresh(ctx, 36*time.Hour) },
			Run: func(ctx context.Context) error {
				stats, err := c.Universe.CollectEOD(ctx)
				log.Info().Int("collected", stats.Collected).Int("failed", stats.Failed).Int("gaps_found", stats.GapsFound).Msg("startup EOD backfill")
				return err
			},
		})

		o.Register(scheduler.StartupTask{
			Name:     "universe_warmup_quotes",
			Priority: scheduler.PriorityNormal,
			Run: func(ctx context.Context) error {
				stats, err := c.Universe.RefreshQuotes(ctx)
				log.Info().Int("updated", stats.Updated).Int("failed", stats.Failed).Msg("startup quote warm-up")
				return err
			},
		})
	}
}

// RegisterJobs wires the build's steady-state job kinds onto the scheduler.
// pre_market_analysis is registered with the provider status digest handler
// rather than its original trading-bot semantics; position_monitor is not
// registered.
func (c *Core) RegisterJobs(currencies []string) error {
	jobs := []scheduler.JobDescriptor{
		{
			ID:      "fx_rate_update",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerInterval, Interval: time.Hour},
			Run:     func(ctx context.Context) error { return c.fxCycle(ctx, currencies) },
		},
		{
			ID:      "global_price_update",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerInterval, Interval: 5 * time.Minute},
			Run:     c.runQuoteRefresh,
		},
		{
			ID:      "universe_quote_update",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerInterval, Interval: 5 * time.Minute},
			Run:     c.runQuoteRefresh,
		},
		{
			ID:      "universe_eod_collection",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerCronInTZ, CronSpec: "0 23 * * *"},
			Run:     c.runEODCollection,
		},
		{
			ID:      "symbol_enrichment",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerCronInTZ, CronSpec: "0 1 * * *"},
			Run:     c.runEODCollection, // gap-detection sweep is already step 5 of CollectEOD
		},
		{
			ID:      "signal_cleanup",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerInterval, Interval: 60 * time.Minute},
			Run:     c.runCachePrune,
		},
		{
			ID:      "daily_summary",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerCronInTZ, CronSpec: "30 16 * * 1-5"},
			Run:     c.runStatusDigest,
		},
		{
			ID:      "weekly_report",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerMarketPhase, Phase: scheduler.PhaseWeekly, AtHour: 18, AtMinute: 0, Weekday: time.Friday},
			Run:     c.runStatusDigest,
		},
		{
			ID:      "pre_market_analysis",
			Trigger: scheduler.Trigger{Kind: scheduler.TriggerMarketPhase, Phase: scheduler.PhasePreMarket, AtHour: 6, AtMinute: 0},
			Run:     c.runStatusDigest,
		},
	}

	for _, j := range jobs {
		j.Coalesce = true
		j.MaxInstances = 1
		j.MisfireGrace = 300 * time.Second
		j.Run = instrumented(j.ID, j.Run)
		if err := c.Scheduler.AddJob(j); err != nil {
			return fmt.Errorf("orchestrator: register job %q: %w", j.ID, err)
		}
	}
	return nil
}

func (c *Core) runQuoteRefresh(ctx context.Context) error {
	if c.Universe == nil {
		return nil
	}
	stats, err := c.Universe.RefreshQuotes(ctx)
	log.Info().Int("total", stats.Total).Int("updated", stats.Updated).Int("failed", stats.Failed).Int("skipped", stats.Skipped).Msg("quote refresh")
	return err
}

func (c *Core) runEODCollection(ctx context.Context) error {
	if c.Universe == nil {
		return nil
	}
	stats, err := c.Universe.CollectEOD(ctx)
	log.Info().Int("total", stats.Total).Int("collected", stats.Collected).Int("failed", stats.Failed).Int("gaps_found", stats.GapsFound).Msg("EOD collection")
	return err
}

// runCachePrune is the orchestration-core analogue of the source's signal
// table cleanup: it has nothing symbol-scoped to prune against the shared
// cache contract beyond what TTL expiry already handles, so it logs a
// heartbeat the way a no-op maintenance job should rather than silently
// doing nothing unobserved.
func (c *Core) runCachePrune(ctx context.Context) error {
	log.Debug().Msg("cache prune tick (TTL-driven expiry, no explicit sweep needed)")
	return nil
}

func (c *Core) runStatusDigest(ctx context.Context) error {
	status := c.Failover.GetStatus()
	log.Info().
		Int("total_providers", status.Total).
		Int("healthy", status.Healthy).
		Int("unhealthy", status.Unhealthy).
		Msg("provider status digest")
	return nil
}

// RegisterProvider mirrors provider configuration into the rate limiter,
// budget tracker, health monitor (with circuit.DefaultConfig), failover
// manager's candidate pool, and the adapter registry. Called once per
// configured provider at boot.
func (c *Core) RegisterProvider(name string, market domain.MarketKind, dataTypes []domain.DataType, rateCfg ratelimit.ProviderConfig, budgetCfg budget.ProviderBudgetConfig, priority int, latencyPref float64, adapter provideradapter.Adapter) {
	c.RateLimiter.Configure(name, rateCfg)
	c.Budget.Configure(name, budgetCfg)
	c.Health.Configure(name, circuit.DefaultConfig())
	c.Adapters.Register(adapter)
	for _, dt := range dataTypes {
		c.Failover.Register(failover.Provider{
			Name: name, MarketKind: market, DataType: dt,
			Priority: priority, LatencyPref: latencyPref,
		})
	}
}

// instrumented wraps a job's Run func with duration/outcome metrics,
// recorded against the default metrics registry when it has been
// initialized (httpmetrics.InitializeMetrics, normally called once in cmd/).
func instrumented(jobID string, run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := run(ctx)
		if m := httpmetrics.DefaultMetrics; m != nil {
			m.JobRunDuration.WithLabelValues(jobID).Observe(time.Since(start).Seconds())
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.JobRuns.WithLabelValues(jobID, outcome).Inc()
		}
		return err
	}
}
