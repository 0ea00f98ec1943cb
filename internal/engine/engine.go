// Package engine arms schedules for main tasks and runs their chains.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
	"chainflow/internal/executor"
	"chainflow/internal/metrics"
	"chainflow/internal/schedule"
	"chainflow/internal/store"
	"chainflow/internal/worker"
)

// Trigger labels stored with executions.
const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

// Runner performs the HTTP call of one task.
type Runner interface {
	Run(ctx context.Context, t domain.Task) (executor.Response, error)
}

type Options struct {
	// PollInterval is the sleep between minute-boundary checks.
	PollInterval time.Duration
	// Workers bounds concurrent background (ExecuteNow) chains.
	Workers int
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine owns the registry of armed jobs. Only its methods mutate it.
type Engine struct {
	repo    store.Repository
	runner  Runner
	pool    *worker.Pool
	metrics *metrics.Metrics
	poll    time.Duration
	now     func() time.Time

	mu   sync.Mutex
	jobs []*job
	gen  uint64

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

type job struct {
	taskID   string
	schedule domain.Schedule
	next     time.Time
	// gen changes whenever the job is re-armed from the store.
	gen uint64
}

// Job is a read-only view of an armed job.
type Job struct {
	TaskID   string              `json:"task_id"`
	Kind     domain.ScheduleKind `json:"schedule_type"`
	Schedule string              `json:"schedule"`
	NextRun  time.Time           `json:"next_run"`
}

func New(repo store.Repository, runner Runner, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		repo:    repo,
		runner:  runner,
		pool:    worker.NewPool(opts.Workers),
		metrics: opts.Metrics,
		poll:    opts.PollInterval,
		now:     opts.Now,
		stop:    make(chan struct{}),
	}
}

// Run arms every enabled task and checks for due jobs each time the wall-clock
// minute changes, until ctx is done or Stop is called. Due jobs run one after
// another in registration order.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Reload(ctx); err != nil {
		return errors.Wrap(err, "initial reload")
	}
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	log.Info().Dur("poll", e.poll).Msg("scheduler started")
	last := e.now().Truncate(time.Minute)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return nil
		case <-e.stop:
			log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			now := e.now()
			minute := now.Truncate(time.Minute)
			if minute.Equal(last) {
				continue
			}
			last = minute
			e.RunDue(ctx, now)
		}
	}
}

// Stop ends Run after the current iteration. Calls in flight still complete
// and are recorded.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) Running() bool { return e.running.Load() }

// Wait blocks until background chains started by ExecuteNow have finished.
func (e *Engine) Wait() { e.pool.Wait() }

// RunDue runs every job whose next run is not after now.
func (e *Engine) RunDue(ctx context.Context, now time.Time) {
	for _, j := range e.dueJobs(now) {
		e.runJob(context.WithoutCancel(ctx), j)
	}
}

func (e *Engine) dueJobs(now time.Time) []job {
	e.mu.Lock()
	defer e.mu.Unlock()
	var due []job
	for _, j := range e.jobs {
		if !j.next.After(now) {
			due = append(due, *j)
		}
	}
	return due
}

func (e *Engine) runJob(ctx context.Context, j job) {
	once := j.schedule.Kind() == domain.ScheduleOnce
	if once {
		t, err := e.repo.GetMainTask(ctx, j.taskID)
		if err == nil && t.Status.LastRunTime.Valid {
			log.Info().Str("task_id", j.taskID).Msg("one-shot task already ran, dropping job")
			e.drop(j)
			return
		}
	}

	res, err := e.ExecuteChain(ctx, j.taskID, TriggerScheduler)
	if err != nil {
		log.Error().Err(err).Str("task_id", j.taskID).Msg("scheduled chain failed")
	} else {
		log.Info().
			Str("task_id", j.taskID).
			Str("status", res.Status).
			Int("executed", res.Executed).
			Int("failed", res.Failed).
			Msg("scheduled chain finished")
	}

	// A job reconciled while its chain ran keeps the schedule it was given.
	if once {
		if e.drop(j) {
			if err := e.repo.SetNextRun(ctx, j.taskID, null.Time{}); err != nil {
				log.Error().Err(err).Str("task_id", j.taskID).Msg("failed to clear next run")
			}
		}
		return
	}
	next, ok := schedule.Next(j.schedule, e.now())
	if !ok {
		e.drop(j)
		return
	}
	if e.rearm(j, next) {
		if err := e.repo.SetNextRun(ctx, j.taskID, null.TimeFrom(next)); err != nil {
			log.Error().Err(err).Str("task_id", j.taskID).Msg("failed to persist next run")
		}
	}
}

// Reload replaces the registry with jobs for every enabled main task in the
// store.
func (e *Engine) Reload(ctx context.Context) error {
	tasks, err := e.repo.GetAllMainTasks(ctx)
	if err != nil {
		return errors.Wrap(err, "load tasks")
	}
	now := e.now()
	jobs := make([]*job, 0, len(tasks))
	for _, t := range tasks {
		if j, ok := e.arm(ctx, t, now, true); ok {
			jobs = append(jobs, j)
		}
	}

	e.mu.Lock()
	for _, j := range jobs {
		e.gen++
		j.gen = e.gen
	}
	e.jobs = jobs
	e.mu.Unlock()

	e.metrics.SetJobs(len(jobs))
	log.Info().Int("tasks", len(tasks)).Int("jobs", len(jobs)).Msg("scheduler reloaded")
	return nil
}

// Reconcile re-arms a single task in place, leaving other jobs untouched.
func (e *Engine) Reconcile(ctx context.Context, taskID string) error {
	t, err := e.repo.GetMainTask(ctx, taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		e.unregister(taskID)
		return nil
	}
	if err != nil {
		return err
	}
	j, ok := e.arm(ctx, t, e.now(), false)

	e.mu.Lock()
	if ok {
		e.gen++
		j.gen = e.gen
	}
	idx := e.indexLocked(taskID)
	switch {
	case ok && idx >= 0:
		e.jobs[idx] = j
	case ok:
		e.jobs = append(e.jobs, j)
	case idx >= 0:
		e.jobs = append(e.jobs[:idx], e.jobs[idx+1:]...)
	}
	n := len(e.jobs)
	e.mu.Unlock()

	e.metrics.SetJobs(n)
	log.Info().Str("task_id", taskID).Bool("armed", ok).Msg("job reconciled")
	return nil
}

// arm computes the first run for t. With resume set, a one-shot task keeps
// its stored next run and an interval task keeps a stored next run that is
// still ahead; missed interval runs are not caught up.
func (e *Engine) arm(ctx context.Context, t domain.MainTask, now time.Time, resume bool) (*job, bool) {
	if !t.Enabled {
		return nil, false
	}
	if t.Schedule == nil {
		log.Warn().Str("task_id", t.ID).Msg("task has no schedule, skipped")
		return nil, false
	}
	if err := schedule.Validate(t.Schedule); err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Msg("task skipped")
		return nil, false
	}

	stored := t.Status.NextRunTime
	var next time.Time
	switch t.Schedule.Kind() {
	case domain.ScheduleOnce:
		if t.Status.LastRunTime.Valid {
			log.Debug().Str("task_id", t.ID).Msg("one-shot task already ran, not armed")
			return nil, false
		}
		if resume && stored.Valid {
			next = stored.Time
		}
	case domain.ScheduleInterval:
		if resume && stored.Valid && stored.Time.After(now) {
			next = stored.Time
		}
	}
	if next.IsZero() {
		n, ok := schedule.Next(t.Schedule, now)
		if !ok {
			return nil, false
		}
		next = n
	}

	if !stored.Valid || !stored.Time.Equal(next) {
		if err := e.repo.SetNextRun(ctx, t.ID, null.TimeFrom(next)); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to persist next run")
		}
	}
	return &job{taskID: t.ID, schedule: t.Schedule, next: next}, true
}

// rearm moves j to next unless j has been replaced or removed since it was
// picked up.
func (e *Engine) rearm(j job, next time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexLocked(j.taskID); idx >= 0 && e.jobs[idx].gen == j.gen {
		e.jobs[idx].next = next
		return true
	}
	return false
}

// drop unregisters j unless it has been replaced since it was picked up.
func (e *Engine) drop(j job) bool {
	e.mu.Lock()
	idx := e.indexLocked(j.taskID)
	dropped := idx >= 0 && e.jobs[idx].gen == j.gen
	if dropped {
		e.jobs = append(e.jobs[:idx], e.jobs[idx+1:]...)
	}
	n := len(e.jobs)
	e.mu.Unlock()
	e.metrics.SetJobs(n)
	return dropped
}

func (e *Engine) unregister(taskID string) {
	e.mu.Lock()
	if idx := e.indexLocked(taskID); idx >= 0 {
		e.jobs = append(e.jobs[:idx], e.jobs[idx+1:]...)
	}
	n := len(e.jobs)
	e.mu.Unlock()
	e.metrics.SetJobs(n)
}

func (e *Engine) indexLocked(taskID string) int {
	for i, j := range e.jobs {
		if j.taskID == taskID {
			return i
		}
	}
	return -1
}

// Jobs lists armed jobs in registration order.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, Job{
			TaskID:   j.taskID,
			Kind:     j.schedule.Kind(),
			Schedule: j.schedule.String(),
			NextRun:  j.next,
		})
	}
	return out
}
