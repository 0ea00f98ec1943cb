package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
	"chainflow/internal/graph"
)

// ChainResult summarizes one executeChain call. Started is false when the
// root was disabled and nothing ran.
type ChainResult struct {
	ChainID   string    `json:"chain_id"`
	RunID     string    `json:"run_id"`
	Started   bool      `json:"started"`
	Status    string    `json:"status,omitempty"`
	Executed  int       `json:"tasks_executed"`
	Succeeded int       `json:"tasks_succeeded"`
	Failed    int       `json:"tasks_failed"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Err       error     `json:"-"`
}

type chainRun struct {
	e       *Engine
	rootID  string
	trigger string
	logger  zerolog.Logger
	done    map[string]bool
	res     ChainResult
	aborted bool
}

// ExecuteChain runs rootID with its prerequisites first and its sub-tasks
// after it. A disabled root returns a result with Started unset and writes
// nothing. A failed main-level entry stops the chain; failed sub-tasks do not.
func (e *Engine) ExecuteChain(ctx context.Context, rootID, trigger string) (result ChainResult, err error) {
	runID := uuid.NewString()
	logger := log.With().Str("chain_id", rootID).Str("run_id", runID).Logger()
	res := ChainResult{ChainID: rootID, RunID: runID}

	root, err := e.repo.GetTaskByID(ctx, rootID)
	if err != nil {
		return res, err
	}
	if !root.Base().Enabled {
		logger.Info().Msg("task disabled, chain not started")
		return res, nil
	}

	edges, err := e.repo.ListDependencies(ctx)
	if err != nil {
		return res, errors.Wrap(err, "load dependencies")
	}
	order, err := graph.Build(edges).Chain(rootID)
	if err != nil {
		logger.Error().Err(err).Msg("cannot build chain")
		return res, err
	}

	run := &chainRun{
		e:       e,
		rootID:  rootID,
		trigger: trigger,
		logger:  logger,
		done:    make(map[string]bool),
		res:     res,
	}
	run.res.Started = true
	run.res.StartTime = e.now()
	rowID, err := e.repo.StartChain(ctx, rootID, run.res.StartTime)
	if err != nil {
		return run.res, errors.Wrap(err, "start chain")
	}
	logger.Info().Strs("order", order).Str("trigger", trigger).Msg("chain started")

	defer func() {
		if r := recover(); r != nil {
			run.aborted = true
			run.res.Error = fmt.Sprintf("panic: %v", r)
			logger.Error().Interface("panic", r).Msg("chain panicked")
		}
		run.finish(ctx, rowID)
		result = run.res
	}()

	for _, id := range order {
		if run.aborted {
			break
		}
		if err := run.entry(ctx, id); err != nil {
			run.aborted = true
			run.res.Error = err.Error()
		}
	}
	return run.res, nil
}

func (r *chainRun) finish(ctx context.Context, rowID int64) {
	r.res.EndTime = r.e.now()
	switch {
	case r.aborted:
		r.res.Status = domain.ChainFail
	case r.res.Failed > 0:
		r.res.Status = domain.ChainPartial
	default:
		r.res.Status = domain.ChainSuccess
	}
	err := r.e.repo.FinishChain(ctx, domain.ChainExecution{
		ID:             rowID,
		ChainID:        r.rootID,
		EndTime:        null.TimeFrom(r.res.EndTime),
		Status:         r.res.Status,
		TasksExecuted:  r.res.Executed,
		TasksSucceeded: r.res.Succeeded,
		TasksFailed:    r.res.Failed,
		Error:          null.NewString(r.res.Error, r.res.Error != ""),
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to finalize chain")
	}
	r.e.metrics.ObserveChain(r.res.Status)
	r.logger.Info().
		Str("status", r.res.Status).
		Int("executed", r.res.Executed).
		Int("succeeded", r.res.Succeeded).
		Int("failed", r.res.Failed).
		Msg("chain finished")
}

// entry runs one chain position. The returned error aborts the chain.
func (r *chainRun) entry(ctx context.Context, id string) error {
	if r.done[id] {
		return nil
	}
	view, err := r.e.repo.GetTaskByID(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "load task %s", id)
	}

	if view.Kind == domain.KindSub {
		if !view.Sub.Enabled {
			r.logger.Info().Str("task_id", id).Msg("sub-task disabled, skipped")
			r.done[id] = true
			return nil
		}
		r.execute(ctx, view.Sub.Task, domain.KindSub)
		return nil
	}

	mt := view.Main
	if !mt.Enabled {
		r.logger.Info().Str("task_id", id).Msg("task disabled, skipped")
		r.done[id] = true
		return nil
	}
	if !r.execute(ctx, mt.Task, domain.KindMain) {
		return errors.Errorf("task %s failed", id)
	}

	subs, err := r.e.repo.GetSubTasks(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "load sub-tasks of %s", id)
	}
	for _, s := range subs {
		if r.done[s.ID] {
			continue
		}
		if !s.Enabled {
			r.logger.Info().Str("task_id", s.ID).Msg("sub-task disabled, skipped")
			r.done[s.ID] = true
			continue
		}
		r.execute(ctx, s.Task, domain.KindSub)
	}
	return nil
}

// execute performs the HTTP call of t and records the outcome. It reports
// whether the call succeeded.
func (r *chainRun) execute(ctx context.Context, t domain.Task, kind domain.TaskKind) bool {
	r.done[t.ID] = true
	trigger := r.trigger
	if t.ID != r.rootID {
		trigger = "chain:" + r.rootID
	}

	start := r.e.now()
	resp, err := r.e.runner.Run(ctx, t)
	end := r.e.now()
	elapsed := end.Sub(start)

	exec := domain.Execution{
		TaskID:      t.ID,
		StartTime:   start,
		EndTime:     null.TimeFrom(end),
		Duration:    null.FloatFrom(elapsed.Seconds()),
		Status:      domain.StatusSuccess,
		TriggeredBy: null.StringFrom(trigger),
	}
	if len(resp.Body) > 0 {
		exec.Output = null.StringFrom(string(resp.Body))
	}
	if err != nil {
		exec.Status = domain.StatusFail
		exec.Error = null.StringFrom(err.Error())
	}

	var next null.Time
	if kind == domain.KindMain {
		next = r.e.nextRunOf(t.ID)
	}
	if _, recErr := r.e.repo.RecordExecution(ctx, exec, next); recErr != nil {
		r.logger.Error().Err(recErr).Str("task_id", t.ID).Msg("failed to record execution")
	}
	r.e.metrics.ObserveExecution(kind, exec.Status, elapsed)

	r.res.Executed++
	if err != nil {
		r.res.Failed++
		r.logger.Warn().Err(err).Str("task_id", t.ID).Dur("took", elapsed).Msg("task failed")
		return false
	}
	r.res.Succeeded++
	r.logger.Info().Str("task_id", t.ID).Dur("took", elapsed).Msg("task succeeded")
	return true
}

// ExecuteNow runs the chain of id in the background and reports the result
// on the returned channel, which receives exactly one value.
func (e *Engine) ExecuteNow(id string) <-chan ChainResult {
	out := make(chan ChainResult, 1)
	e.pool.Go("chain "+id, func() {
		res := ChainResult{ChainID: id}
		defer func() { out <- res }()
		var err error
		res, err = e.ExecuteChain(context.Background(), id, TriggerManual)
		if err != nil {
			log.Error().Err(err).Str("chain_id", id).Msg("manual chain failed")
			res.Err = err
			if res.Error == "" {
				res.Error = err.Error()
			}
		}
	})
	return out
}

func (e *Engine) nextRunOf(taskID string) null.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexLocked(taskID); idx >= 0 {
		return null.TimeFrom(e.jobs[idx].next)
	}
	return null.Time{}
}
