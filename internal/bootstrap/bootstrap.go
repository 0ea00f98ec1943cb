// Package bootstrap seeds an empty store from the task file.
package bootstrap

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/config"
	"chainflow/internal/domain"
	"chainflow/internal/store"
)

// Seed creates the tasks of tf when the store has no main task yet and
// reports how many tasks were created. Tasks without requires become main
// tasks. Every other task becomes a sub-task of the main task reached by
// following requires[0], numbered in file order, with one dependency edge per
// requires entry.
func Seed(ctx context.Context, repo store.Repository, tf config.TaskFile) (int, error) {
	n, err := repo.CountMainTasks(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug().Int("main_tasks", n).Msg("store already initialized, task file ignored")
		return 0, nil
	}
	if len(tf.Tasks) == 0 {
		return 0, nil
	}

	defs := make(map[string]config.TaskDef, len(tf.Tasks))
	for _, d := range tf.Tasks {
		defs[d.ID] = d
	}

	created := 0
	mains := make(map[string]bool)
	for _, d := range tf.Tasks {
		if len(d.Requires) > 0 {
			continue
		}
		sched, err := d.Schedule.Schedule()
		if err != nil {
			log.Warn().Err(err).Str("task_id", d.ID).Msg("task skipped")
			continue
		}
		t := domain.MainTask{Task: d.Task(), Schedule: sched}
		t.Status.Tags = d.Tags
		t.Status.Priority = d.Priority
		if _, err := repo.CreateMainTask(ctx, t); err != nil {
			if invalid(err) {
				log.Warn().Err(err).Str("task_id", d.ID).Msg("task skipped")
				continue
			}
			return created, errors.Wrapf(err, "seed main task %s", d.ID)
		}
		mains[d.ID] = true
		created++
	}

	var subs []config.TaskDef
	for _, d := range tf.Tasks {
		if len(d.Requires) == 0 {
			continue
		}
		root, ok := findRoot(d.ID, defs)
		if !ok {
			log.Warn().Str("task_id", d.ID).Msg("no main task reachable through requires, task skipped")
			continue
		}
		if !mains[root] {
			log.Warn().Str("task_id", d.ID).Str("root", root).Msg("main task was not created, task skipped")
			continue
		}
		t := domain.SubTask{Task: d.Task()}
		t.Status.Tags = d.Tags
		t.Status.Priority = d.Priority
		if _, err := repo.CreateSubTask(ctx, root, t); err != nil {
			if invalid(err) {
				log.Warn().Err(err).Str("task_id", d.ID).Msg("task skipped")
				continue
			}
			return created, errors.Wrapf(err, "seed sub-task %s", d.ID)
		}
		subs = append(subs, d)
		created++
	}

	// Edges go in after every task exists, so requires may point forward.
	for _, d := range subs {
		for _, dep := range d.Requires {
			if err := repo.AddDependency(ctx, d.ID, dep); err != nil {
				log.Warn().Err(err).Str("task_id", d.ID).Str("depends_on", dep).Msg("dependency skipped")
			}
		}
	}

	log.Info().Int("tasks", created).Msg("store seeded from task file")
	return created, nil
}

// invalid reports errors caused by a single bad task definition.
func invalid(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidTask,
		domain.ErrInvalidSchedule,
		domain.ErrInvalidPriority,
		domain.ErrDuplicateTaskID,
		domain.ErrParentNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func findRoot(id string, defs map[string]config.TaskDef) (string, bool) {
	seen := make(map[string]bool)
	for {
		d, ok := defs[id]
		if !ok || seen[id] {
			return "", false
		}
		if len(d.Requires) == 0 {
			return id, true
		}
		seen[id] = true
		id = d.Requires[0]
	}
}
