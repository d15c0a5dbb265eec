package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/config"
	"github.com/sawpanic/marketfeed/internal/domain"
	"github.com/sawpanic/marketfeed/internal/failover"
	"github.com/sawpanic/marketfeed/internal/fx"
	"github.com/sawpanic/marketfeed/internal/gaps"
	"github.com/sawpanic/marketfeed/internal/infrastructure/db"
	httpmetrics "github.com/sawpanic/marketfeed/internal/interfaces/http"
	"github.com/sawpanic/marketfeed/internal/net/budget"
	"github.com/sawpanic/marketfeed/internal/net/ratelimit"
	"github.com/sawpanic/marketfeed/internal/orchestrator"
	"github.com/sawpanic/marketfeed/internal/provideradapter"
	"github.com/sawpanic/marketfeed/internal/scheduler"
)

const version = "v1.0.0"

// Execute builds the root command tree and runs it under ctx.
func Execute(ctx context.Context) error {
	var configPath string
	var tz string

	root := &cobra.Command{
		Use:     "marketfeed",
		Short:   "Market data provider orchestration core",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/providers.yaml", "path to provider configuration YAML")
	root.PersistentFlags().StringVar(&tz, "tz", "America/New_York", "scheduler timezone")

	httpmetrics.InitializeMetrics()

	root.AddCommand(serveCmd(ctx, &configPath, &tz))
	root.AddCommand(runJobCmd(ctx, &configPath, &tz))
	root.AddCommand(statusCmd(ctx, &configPath, &tz))

	return root.ExecuteContext(ctx)
}

func serveCmd(ctx context.Context, configPath, tz *string) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run startup bootstrap, then start the scheduler and ops HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, so, err := buildCore(ctx, *configPath, *tz)
			if err != nil {
				return err
			}

			results, err := so.Run(ctx)
			if err != nil {
				return fmt.Errorf("startup orchestration: %w", err)
			}
			for _, r := range results {
				if r.Err != nil {
					log.Error().Err(r.Err).Str("task", r.Name).Msg("startup task reported failure, continuing")
				}
			}

			core.Scheduler.Start()
			defer core.Scheduler.Stop(30 * time.Second)

			srv := &http.Server{Addr: httpAddr, Handler: opsRouter(core)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("ops http server failed")
				}
			}()
			log.Info().Str("addr", httpAddr).Msg("ops http surface listening")

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8090", "loopback address for the ops HTTP surface")
	return cmd
}

func runJobCmd(ctx context.Context, configPath, tz *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run-job <name>",
		Short: "Run one registered job immediately, bypassing its trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := buildCore(ctx, *configPath, *tz)
			if err != nil {
				return err
			}
			return core.Scheduler.RunJob(ctx, args[0])
		},
	}
}

// statusReport is the JSON shape printed by `status --json` (and by default
// when stdout isn't a terminal); jobStatusReport mirrors scheduler.JobStatus.
type statusReport struct {
	Providers failover.Status   `json:"providers"`
	Jobs      []jobStatusReport `json:"jobs"`
}

type jobStatusReport struct {
	ID      string    `json:"id"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Running bool      `json:"running"`
}

func statusCmd(ctx context.Context, configPath, tz *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print provider health and job schedule status",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := buildCore(ctx, *configPath, *tz)
			if err != nil {
				return err
			}
			st := core.Failover.GetStatus()
			jobs := core.Scheduler.GetJobsStatus()

			// A non-terminal stdout (piped, redirected, or under script/cron)
			// defaults to JSON even without the flag; an interactive terminal
			// defaults to the human-readable table.
			useJSON := asJSON || !term.IsTerminal(int(os.Stdout.Fd()))
			if !useJSON {
				fmt.Printf("providers: %d total, %d healthy, %d unhealthy\n", st.Total, st.Healthy, st.Unhealthy)
				for _, j := range jobs {
					fmt.Printf("job %-28s next=%s prev=%s running=%v\n", j.ID, j.Next.Format(time.RFC3339), j.Prev.Format(time.RFC3339), j.Running)
				}
				return nil
			}

			report := statusReport{Providers: st, Jobs: make([]jobStatusReport, len(jobs))}
			for i, j := range jobs {
				report.Jobs[i] = jobStatusReport{ID: j.ID, Next: j.Next, Prev: j.Prev, Running: j.Running}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "force JSON output regardless of TTY detection")
	return cmd
}

// buildCore loads provider configuration and assembles one orchestrator.Core
// plus its startup orchestrator, registering every configured provider and
// the steady-state job set.
func buildCore(ctx context.Context, configPath, tz string) (*orchestrator.Core, *scheduler.StartupOrchestrator, error) {
	providersCfg, err := config.LoadProvidersConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load provider config: %w", err)
	}

	appCfg, err := db.LoadAppConfig(os.Getenv("MARKETFEED_APP_CONFIG"))
	if err != nil {
		return nil, nil, fmt.Errorf("load app config: %w", err)
	}
	appCfg.Database.Enabled = appCfg.Database.DSN != ""
	if err := appCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid app config: %w", err)
	}
	dbManager, err := db.NewManager(appCfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database manager: %w", err)
	}

	var c cache.Cache = cache.NewMemoryCache()

	cfg := orchestrator.DefaultConfig()
	cfg.Timezone = tz

	core := orchestrator.NewCore(ctx, cfg, dbManager.Repository(), c, fx.NewFrankfurterSource(), gaps.NewUSEquityCalendar())

	for name, pc := range providersCfg.Providers {
		if !pc.Enabled {
			continue
		}
		adapter := buildAdapter(name, pc, core.FX, providersCfg)
		if adapter == nil {
			log.Warn().Str("provider", name).Msg("no adapter constructible for provider, skipping registration")
			continue
		}

		markets := marketKinds(pc.SupportedMarkets)
		dataTypes := dataTypesOf(pc.SupportedData)
		for _, mk := range markets {
			core.RegisterProvider(name, mk, dataTypes,
				ratelimit.ProviderConfig{
					RequestsPerMinute: pc.RequestsPerMinute,
					RequestsPerHour:   pc.RequestsPerHour,
					RequestsPerDay:    pc.RequestsPerDay,
					BurstSize:         pc.Burst,
				},
				budget.ProviderBudgetConfig{
					DailyLimit:    float64(pc.DailyBudget),
					MonthlyLimit:  pc.MonthlyBudget,
					DefaultCost:   pc.DefaultCost,
					EndpointCosts: pc.EndpointCosts,
					SymbolCosts:   pc.SymbolCosts,
					WarnThreshold: providersCfg.Budget.WarnThreshold,
				},
				pc.Priority, pc.LatencyPreference, adapter)
		}
	}

	if err := core.RegisterJobs(fx.DefaultCurrencies); err != nil {
		return nil, nil, fmt.Errorf("register jobs: %w", err)
	}

	so := scheduler.NewStartupOrchestrator()
	core.RegisterStartupTasks(so, fx.DefaultCurrencies)

	return core, so, nil
}

func buildAdapter(name string, pc config.ProviderConfig, fxm *fx.Maintainer, all *config.ProvidersConfig) provideradapter.Adapter {
	switch {
	case pc.SupportsStreaming:
		return provideradapter.NewCryptoHybridAdapter(name, pc.BaseURL, pc.WSURL)
	case name == "frankfurter" || name == "fx":
		return provideradapter.NewForexFrankfurterAdapter(fxm, fx.DefaultCurrencies)
	default:
		return provideradapter.NewUSEquityRESTAdapter(name, pc.BaseURL, os.Getenv(name+"_API_KEY"))
	}
}

func marketKinds(names []string) []domain.MarketKind {
	if len(names) == 0 {
		return []domain.MarketKind{domain.MarketUSStock}
	}
	out := make([]domain.MarketKind, len(names))
	for i, n := range names {
		out[i] = domain.MarketKind(n)
	}
	return out
}

func dataTypesOf(names []string) []domain.DataType {
	if len(names) == 0 {
		return []domain.DataType{domain.DataQuote}
	}
	out := make([]domain.DataType, len(names))
	for i, n := range names {
		out[i] = domain.DataType(n)
	}
	return out
}

func opsRouter(core *orchestrator.Core) http.Handler {
	r := mux.NewRouter()
	if httpmetrics.DefaultMetrics != nil {
		r.Handle("/metrics", httpmetrics.DefaultMetrics.MetricsHandler())
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		st := core.Failover.GetStatus()
		w.Header().Set("Content-Type", "application/json")
		if st.Unhealthy == st.Total && st.Total > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"total":%d,"healthy":%d,"unhealthy":%d}`, st.Total, st.Healthy, st.Unhealthy)
	})
	r.HandleFunc("/jobs", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[")
		for i, j := range core.Scheduler.GetJobsStatus() {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":%q,"next":%q,"prev":%q,"running":%v}`, j.ID, j.Next.Format(time.RFC3339), j.Prev.Format(time.RFC3339), j.Running)
		}
		fmt.Fprint(w, "]")
	})
	r.Use(loggingMiddleware)
	return r
}

// loggingMiddleware logs every ops-surface request with structured fields and
// a short request id, set as a response header for correlation with logs.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
		log.Info().Str("request_id", reqID).Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("ops request")
	})
}
