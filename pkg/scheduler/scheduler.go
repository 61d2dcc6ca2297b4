// Package scheduler fires orchestrator runs on interval or cron schedules.
// Due tasks are handed to a queue lane rather than executed inline, so
// scheduled runs serialize with each other and drain cleanly on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/queue"
	"github.com/flexygent/flexygent/pkg/runstore"
)

// Lane is the queue lane scheduled runs are enqueued on.
const Lane = "scheduler"

// ScheduleKind selects how the next run time is derived.
type ScheduleKind string

const (
	KindEvery ScheduleKind = "every"
	KindCron  ScheduleKind = "cron"
)

// Schedule describes when a task should run.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "every" schedules
	Every time.Duration `json:"every,omitempty"`

	// For "cron" schedules
	Expr string `json:"expr,omitempty"` // standard 5-field expression
	TZ   string `json:"tz,omitempty"`   // optional IANA timezone
}

// NextRun returns the first time the schedule fires strictly after from.
func NextRun(s Schedule, from time.Time) (time.Time, error) {
	switch s.Kind {
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}, fmt.Errorf("every interval must be positive")
		}
		return from.Add(s.Every), nil

	case KindCron:
		if s.Expr == "" {
			return time.Time{}, fmt.Errorf("cron expression is required")
		}

		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}

		if s.TZ != "" {
			loc, err := time.LoadLocation(s.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
			}
			from = from.In(loc)
		}

		return sched.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

// Task is a named orchestrator run executed on a schedule.
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Task     string   `json:"task"`
	Tools    []string `json:"tools,omitempty"`
	Schedule Schedule `json:"schedule"`
}

// Runner executes one scheduled task and reports the run outcome.
type Runner func(ctx context.Context, task Task) (*orchestrator.RunResult, error)

// Enqueuer admits scheduled runs into a serialized queue lane.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane, name string, fn queue.Task) error
}

// Archiver persists finished runs.
type Archiver interface {
	SaveRun(ctx context.Context, rec runstore.RunRecord) error
}

// Options configures a Scheduler.
type Options struct {
	Queue  Enqueuer
	Runner Runner
	Store  Archiver // optional, finished runs are archived when set
}

// Job is a point-in-time view of a scheduled task and its run state.
type Job struct {
	Task       Task      `json:"task"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastStatus string    `json:"last_status,omitempty"` // "ok" or "error"
	LastError  string    `json:"last_error,omitempty"`
	Runs       int       `json:"runs"`
}

type jobEntry struct {
	task       Task
	nextRun    time.Time
	lastRun    time.Time
	lastStatus string
	lastError  string
	runs       int
}

// Scheduler arms one timer per registered task and funnels due runs through
// the queue.
type Scheduler struct {
	opts    Options
	jobs    map[string]*jobEntry
	timers  map[string]*time.Timer
	mu      sync.RWMutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. Tasks registered with Add begin firing once Start
// is called.
func New(opts Options) (*Scheduler, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	return &Scheduler{
		opts:   opts,
		jobs:   make(map[string]*jobEntry),
		timers: make(map[string]*time.Timer),
	}, nil
}

// Add registers a task. A missing ID is filled with a generated UUID.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Task == "" {
		return fmt.Errorf("task instruction is required")
	}

	next, err := NextRun(task.Schedule, time.Now())
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if _, exists := s.jobs[task.ID]; exists {
		return fmt.Errorf("task already registered: %s", task.ID)
	}

	entry := &jobEntry{task: task, nextRun: next}
	s.jobs[task.ID] = entry

	if s.started {
		s.scheduleLocked(entry)
	}

	log.Info().
		Str("task_id", task.ID).
		Str("name", task.Name).
		Str("kind", string(task.Schedule.Kind)).
		Time("next_run", next).
		Msg("Scheduled task registered")

	return nil
}

// Start arms timers for every registered task. Next run times are computed
// from the moment Start is called, not from when the task was added.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if s.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	now := time.Now()
	for _, entry := range s.jobs {
		next, err := NextRun(entry.task.Schedule, now)
		if err != nil {
			log.Warn().
				Str("task_id", entry.task.ID).
				Err(err).
				Msg("Skipping task with invalid schedule")
			continue
		}
		entry.nextRun = next
		s.scheduleLocked(entry)
	}

	log.Info().Int("tasks", len(s.jobs)).Msg("Scheduler started")

	return nil
}

// Stop cancels all timers and prevents further runs. Runs already handed to
// the queue are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	if s.cancel != nil {
		s.cancel()
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}

	log.Info().Msg("Scheduler stopped")
}

// Jobs returns a snapshot of registered tasks sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, Job{
			Task:       entry.task,
			NextRun:    entry.nextRun,
			LastRun:    entry.lastRun,
			LastStatus: entry.lastStatus,
			LastError:  entry.lastError,
			Runs:       entry.runs,
		})
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Task.Name != jobs[j].Task.Name {
			return jobs[i].Task.Name < jobs[j].Task.Name
		}
		return jobs[i].Task.ID < jobs[j].Task.ID
	})

	return jobs
}

// scheduleLocked arms the timer for entry (must hold lock).
func (s *Scheduler) scheduleLocked(entry *jobEntry) {
	delay := time.Until(entry.nextRun)
	if delay < 0 {
		delay = 0
	}

	id := entry.task.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.fire(id)
	})

	log.Debug().
		Str("task_id", id).
		Str("name", entry.task.Name).
		Time("next_run", entry.nextRun).
		Msg("Task timer armed")
}

// fire hands one run of the task to the queue lane.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	entry, exists := s.jobs[id]
	if !exists || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	task := entry.task
	ctx := s.ctx
	s.mu.Unlock()

	err := s.opts.Queue.Enqueue(ctx, Lane, "schedule:"+task.Name, func(runCtx context.Context) error {
		return s.runTask(runCtx, task)
	})
	if err != nil {
		log.Error().
			Str("task_id", id).
			Str("name", task.Name).
			Err(err).
			Msg("Failed to enqueue scheduled run")
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) error {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	logger.Info().
		Str("task_id", task.ID).
		Str("name", task.Name).
		Msg("Executing scheduled task")

	start := time.Now()
	result, err := s.opts.Runner(ctx, task)
	duration := time.Since(start)

	if err == nil && result == nil {
		err = fmt.Errorf("runner returned no result")
	}

	// Aborted and failed runs still carry a transcript worth keeping.
	if result != nil && s.opts.Store != nil {
		rec := runstore.NewRecord(task.Task, *result)
		if saveErr := s.opts.Store.SaveRun(ctx, rec); saveErr != nil {
			logger.Error().
				Str("task_id", task.ID).
				Err(saveErr).
				Msg("Failed to archive scheduled run")
		}
	}

	s.finish(task.ID, start, err)

	if err != nil {
		return fmt.Errorf("scheduled task %s: %w", task.Name, err)
	}

	logger.Info().
		Str("task_id", task.ID).
		Str("name", task.Name).
		Str("finish_reason", string(result.FinishReason)).
		Dur("duration", duration).
		Msg("Scheduled task completed")

	return nil
}

// finish records the run outcome and arms the next timer.
func (s *Scheduler) finish(id string, start time.Time, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return
	}

	entry.lastRun = start
	entry.runs++
	if runErr != nil {
		entry.lastStatus = "error"
		entry.lastError = runErr.Error()
	} else {
		entry.lastStatus = "ok"
		entry.lastError = ""
	}

	next, err := NextRun(entry.task.Schedule, time.Now())
	if err != nil {
		log.Error().Str("task_id", id).Err(err).Msg("Failed to calculate next run")
		return
	}
	entry.nextRun = next

	if s.started && !s.stopped {
		s.scheduleLocked(entry)
	}
}
