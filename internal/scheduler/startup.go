package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Priority orders startup tasks; lower runs first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// StartupTask is one bootstrap step run before steady-state scheduling.
type StartupTask struct {
	Name     string
	Priority Priority
	Timeout  time.Duration // default 300s
	// SkipIf reports whether this task should be skipped entirely (e.g. the
	// underlying data is already fresh enough); nil means never skip.
	SkipIf func(ctx context.Context) bool
	Run    func(ctx context.Context) error

	order int // registration order, used as the tiebreaker within a priority
}

// TaskResult records the outcome of one startup task.
type TaskResult struct {
	Name    string
	Skipped bool
	Err     error
	Elapsed time.Duration
}

// ErrAlreadyRunning is returned by Run when a prior orchestration pass has
// not yet finished.
var ErrAlreadyRunning = errors.New("scheduler: startup orchestrator already running")

// StartupOrchestrator runs registered tasks strictly sequentially in
// priority order (ties broken by registration order). A task's failure or
// timeout is recorded but never aborts the remaining tasks.
type StartupOrchestrator struct {
	tasks         []StartupTask
	running       int32 // atomic guard against re-entrant Run
	InterTaskDelay time.Duration
}

// NewStartupOrchestrator builds an orchestrator with the default 10s delay
// between tasks.
func NewStartupOrchestrator() *StartupOrchestrator {
	return &StartupOrchestrator{InterTaskDelay: 10 * time.Second}
}

// Register adds a bootstrap task, defaulting its timeout if unset.
func (o *StartupOrchestrator) Register(task StartupTask) {
	if task.Timeout <= 0 {
		task.Timeout = 300 * time.Second
	}
	task.order = len(o.tasks)
	o.tasks = append(o.tasks, task)
}

// Run executes every registered task in priority order, returning one
// result per task (in execution order). A second concurrent call returns
// ErrAlreadyRunning immediately without touching the task list.
func (o *StartupOrchestrator) Run(ctx context.Context) ([]TaskResult, error) {
	if !atomic.CompareAndSwapInt32(&o.running, 0, 1) {
		return nil, ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&o.running, 0)

	ordered := make([]StartupTask, len(o.tasks))
	copy(ordered, o.tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].order < ordered[j].order
	})

	results := make([]TaskResult, 0, len(ordered))
	for i, t := range ordered {
		if t.SkipIf != nil && t.SkipIf(ctx) {
			log.Info().Str("task", t.Name).Msg("startup task skipped, data already fresh")
			results = append(results, TaskResult{Name: t.Name, Skipped: true})
			continue
		}

		taskCtx, cancel := context.WithTimeout(ctx, t.Timeout)
		start := time.Now()
		err := t.Run(taskCtx)
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			log.Error().Err(err).Str("task", t.Name).Dur("elapsed", elapsed).Msg("startup task failed")
		} else {
			log.Info().Str("task", t.Name).Dur("elapsed", elapsed).Msg("startup task completed")
		}
		results = append(results, TaskResult{Name: t.Name, Err: err, Elapsed: elapsed})

		if i < len(ordered)-1 && o.InterTaskDelay > 0 {
			select {
			case <-time.After(o.InterTaskDelay):
			case <-ctx.Done():
				return results, nil
			}
		}
	}
	return results, nil
}
