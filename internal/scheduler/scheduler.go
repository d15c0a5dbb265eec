// Package scheduler drives every recurring job in the orchestration core
// (FX refresh, universe quote/EOD collection, cache pruning, provider-status
// digests) on top of robfig/cron/v3, plus a sequential startup orchestrator
// that runs a handful of bootstrap tasks before steady-state scheduling
// begins.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// TriggerKind names how a job's fire times are computed.
type TriggerKind string

const (
	TriggerCronInTZ    TriggerKind = "cron_in_tz"
	TriggerInterval    TriggerKind = "interval"
	TriggerMarketPhase TriggerKind = "market_phase"
)

// MarketPhase names the sub-kind of a market-phase trigger.
type MarketPhase string

const (
	PhasePreMarket   MarketPhase = "pre_market"   // fixed local time, Mon-Fri
	PhaseMarketHours MarketPhase = "market_hours"  // interval, gated by IsOpen
	PhasePostMarket  MarketPhase = "post_market"  // fixed local time, Mon-Fri
	PhaseWeekly      MarketPhase = "weekly"        // day-of-week + hh:mm
)

// Trigger describes when a job fires. Exactly one of the kind-specific
// fields is meaningful, selected by Kind.
type Trigger struct {
	Kind TriggerKind

	// TriggerCronInTZ: a standard 5-field cron spec evaluated in the
	// scheduler's timezone.
	CronSpec string

	// TriggerInterval: fixed period.
	Interval time.Duration

	// TriggerMarketPhase.
	Phase      MarketPhase
	AtHour     int // local hour for pre/post-market and weekly triggers
	AtMinute   int
	Weekday    time.Weekday // only meaningful for PhaseWeekly
	IsOpen     func(time.Time) bool // only meaningful for PhaseMarketHours
}

// spec renders the trigger into a cron.Parser-compatible spec string, or an
// @every directive for fixed-interval triggers. Market-hours triggers with a
// gating function degrade to a 1-minute interval; the gate itself decides
// whether the tick actually does anything.
func (t Trigger) spec() string {
	switch t.Kind {
	case TriggerCronInTZ:
		return t.CronSpec
	case TriggerInterval:
		return fmt.Sprintf("@every %s", t.Interval.String())
	case TriggerMarketPhase:
		switch t.Phase {
		case PhasePreMarket, PhasePostMarket:
			return fmt.Sprintf("%d %d * * 1-5", t.AtMinute, t.AtHour)
		case PhaseWeekly:
			return fmt.Sprintf("%d %d * * %d", t.AtMinute, t.AtHour, int(t.Weekday))
		case PhaseMarketHours:
			return "@every 1m"
		}
	}
	return "@every 1m"
}

// JobDescriptor is one registered recurring job.
type JobDescriptor struct {
	ID            string
	Trigger       Trigger
	Coalesce      bool          // robfig/cron never queues missed fires, so this is structural; kept for parity with the job data model
	MaxInstances  int           // always enforced as 1 via a per-job TryLock
	MisfireGrace  time.Duration // skip a fire instant older than this
	Run           func(ctx context.Context) error
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	ID       string
	Next     time.Time
	Prev     time.Time
	Running  bool
}

// job is the scheduler's internal bookkeeping for a registered descriptor.
type job struct {
	desc    JobDescriptor
	entryID cron.EntryID
	mu      sync.Mutex // TryLock enforces MaxInstances=1
	lastRun time.Time
}

// Scheduler runs every registered job on cron's own goroutine pool, pinned
// to a single named timezone.
type Scheduler struct {
	cr       *cron.Cron
	tz       *time.Location
	mu       sync.Mutex
	jobs     map[string]*job
	ctx      context.Context
}

// New builds a scheduler pinned to the given IANA timezone name (default
// America/New_York for US-market alignment if empty or unparseable).
func New(ctx context.Context, tzName string) *Scheduler {
	loc, err := time.LoadLocation(tzName)
	if err != nil || tzName == "" {
		loc, err = time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
	}
	return &Scheduler{
		cr:   cron.New(cron.WithLocation(loc)),
		tz:   loc,
		jobs: make(map[string]*job),
		ctx:  ctx,
	}
}

var errJobExists = errors.New("scheduler: job id already registered")

// AddJob registers a descriptor. Its Run func executes with panic recovery,
// a per-job lock enforcing at most one concurrent instance, and a misfire
// check that silently skips a fire instant older than MisfireGrace.
func (s *Scheduler) AddJob(desc JobDescriptor) error {
	if desc.MaxInstances <= 0 {
		desc.MaxInstances = 1
	}
	if desc.MisfireGrace <= 0 {
		desc.MisfireGrace = 300 * time.Second
	}

	s.mu.Lock()
	if _, exists := s.jobs[desc.ID]; exists {
		s.mu.Unlock()
		return errJobExists
	}
	j := &job{desc: desc}
	s.jobs[desc.ID] = j
	s.mu.Unlock()

	entryID, err := s.cr.AddFunc(desc.Trigger.spec(), func() { s.fire(j) })
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, desc.ID)
		s.mu.Unlock()
		return fmt.Errorf("scheduler: register job %q: %w", desc.ID, err)
	}
	j.entryID = entryID

	log.Info().Str("job", desc.ID).Str("spec", desc.Trigger.spec()).Msg("job registered")
	return nil
}

// fire is the cron callback: it enforces the single-instance guard, the
// misfire grace window, recovers panics, and logs the outcome.
func (s *Scheduler) fire(j *job) {
	scheduledAt := s.cr.Entry(j.entryID).Prev
	if !scheduledAt.IsZero() && time.Since(scheduledAt) > j.desc.MisfireGrace {
		log.Warn().Str("job", j.desc.ID).Dur("age", time.Since(scheduledAt)).Msg("misfire grace exceeded, skipping")
		return
	}

	t := j.desc.Trigger
	if t.Kind == TriggerMarketPhase && t.Phase == PhaseMarketHours && t.IsOpen != nil && !t.IsOpen(time.Now().In(s.tz)) {
		return
	}

	if !j.mu.TryLock() {
		log.Warn().Str("job", j.desc.ID).Msg("previous instance still running, dropping this fire")
		return
	}
	defer j.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", j.desc.ID).Interface("panic", r).Msg("job panicked")
		}
	}()

	j.lastRun = time.Now()
	if err := j.desc.Run(s.ctx); err != nil {
		log.Error().Err(err).Str("job", j.desc.ID).Msg("job failed")
	}
}

// RemoveJob deregisters a job by id.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		s.cr.Remove(j.entryID)
	}
}

// GetJobsStatus returns a snapshot of every registered job's next/previous
// fire time in the scheduler's timezone and whether it's currently running.
func (s *Scheduler) GetJobsStatus() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for id, j := range s.jobs {
		entry := s.cr.Entry(j.entryID)
		running := !j.mu.TryLock()
		if !running {
			j.mu.Unlock()
		}
		out = append(out, JobStatus{
			ID:      id,
			Next:    entry.Next,
			Prev:    j.lastRun,
			Running: running,
		})
	}
	return out
}

// RunJob executes a registered job's function immediately, bypassing its
// trigger but still honoring the single-instance guard.
func (s *Scheduler) RunJob(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %q not registered", id)
	}
	if !j.mu.TryLock() {
		return fmt.Errorf("scheduler: job %q already running", id)
	}
	defer j.mu.Unlock()
	return j.desc.Run(ctx)
}

// Start begins cron's goroutine pool. Non-blocking.
func (s *Scheduler) Start() {
	s.cr.Start()
	log.Info().Int("jobs", len(s.jobs)).Str("tz", s.tz.String()).Msg("scheduler started")
}

// Stop requests cron to stop dispatching new fires and waits for any
// in-flight job to complete, up to one drain interval.
func (s *Scheduler) Stop(drain time.Duration) {
	stopCtx := s.cr.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(drain):
	}
	log.Info().Msg("scheduler stopped")
}
