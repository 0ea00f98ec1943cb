package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
)

func (r *sqliteRepo) CreateMainTask(ctx context.Context, t domain.MainTask) (domain.MainTask, error) {
	if err := validateTask(&t.Task); err != nil {
		return domain.MainTask{}, err
	}
	sc, err := scheduleToColumns(t.Schedule)
	if err != nil {
		return domain.MainTask{}, errors.Wrapf(err, "task %s", t.ID)
	}
	t.Params = applyEndpointDefaults(t.ID, t.Endpoint, t.Params)
	params, err := encodeParams(t.Params)
	if err != nil {
		return domain.MainTask{}, err
	}

	now := r.now()
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := idExists(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if exists {
			return errors.Wrapf(domain.ErrDuplicateTaskID, "task %s", t.ID)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO main_tasks (task_id,name,endpoint,method,params,schedule_type,schedule_time,schedule_delay,interval_value,interval_unit,enabled,created_at,last_modified)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.Name, t.Endpoint, t.Method, params, sc.Type, sc.Time, sc.Delay, sc.Every, sc.Unit, t.Enabled, now, now)
		if err != nil {
			return errors.Wrap(err, "insert main task")
		}
		if err := insertStatus(ctx, tx, t.ID, t.Status); err != nil {
			return err
		}
		for _, dep := range t.DependsOn {
			if err := addDependency(ctx, tx, t.ID, dep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.MainTask{}, err
	}
	return r.GetMainTask(ctx, t.ID)
}

func (r *sqliteRepo) CreateSubTask(ctx context.Context, parentID string, t domain.SubTask) (domain.SubTask, error) {
	if err := validateTask(&t.Task); err != nil {
		return domain.SubTask{}, err
	}
	t.ParentID = parentID
	t.Params = applyEndpointDefaults(t.ID, t.Endpoint, t.Params)
	params, err := encodeParams(t.Params)
	if err != nil {
		return domain.SubTask{}, err
	}

	now := r.now()
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := mainExists(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrParentNotFound, "parent %s", parentID)
		}
		exists, err := idExists(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if exists {
			return errors.Wrapf(domain.ErrDuplicateTaskID, "task %s", t.ID)
		}
		var seq int
		if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM sub_tasks WHERE parent_id = ?`, parentID); err != nil {
			return errors.Wrap(err, "next sequence number")
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO sub_tasks (task_id,parent_id,name,endpoint,method,params,sequence_number,enabled,created_at,last_modified)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, parentID, t.Name, t.Endpoint, t.Method, params, seq, t.Enabled, now, now)
		if err != nil {
			return errors.Wrap(err, "insert sub-task")
		}
		if err := insertStatus(ctx, tx, t.ID, t.Status); err != nil {
			return err
		}
		// the parent link is an ordinary dependency edge
		for _, dep := range append([]string{parentID}, t.DependsOn...) {
			if err := addDependency(ctx, tx, t.ID, dep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.SubTask{}, err
	}
	view, err := r.GetTaskByID(ctx, t.ID)
	if err != nil {
		return domain.SubTask{}, err
	}
	return *view.Sub, nil
}

func insertStatus(ctx context.Context, tx *sqlx.Tx, id string, st domain.Status) error {
	if st.Priority < domain.MinPriority || st.Priority > domain.MaxPriority {
		return errors.Wrapf(domain.ErrInvalidPriority, "task %s: %d", id, st.Priority)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO task_status (task_id, priority, tags) VALUES (?,?,?)`,
		id, st.Priority, encodeTags(st.Tags))
	return errors.Wrap(err, "insert task status")
}

func (r *sqliteRepo) UpdateMainTask(ctx context.Context, id string, u MainTaskUpdate) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := getMainTask(ctx, tx, id)
		if err != nil {
			return err
		}
		sets, args, err := taskSets(id, cur.Task, u.Name, u.Endpoint, u.Method, u.Params, u.Enabled)
		if err != nil {
			return err
		}
		if u.Schedule != nil {
			sc, err := scheduleToColumns(u.Schedule)
			if err != nil {
				return errors.Wrapf(err, "task %s", id)
			}
			sets = append(sets, "schedule_type = ?", "schedule_time = ?", "schedule_delay = ?", "interval_value = ?", "interval_unit = ?")
			args = append(args, sc.Type, sc.Time, sc.Delay, sc.Every, sc.Unit)
		}
		sets = append(sets, "last_modified = ?")
		args = append(args, r.now(), id)
		if _, err := tx.ExecContext(ctx, "UPDATE main_tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = ?", args...); err != nil {
			return errors.Wrap(err, "update main task")
		}
		return updateStatusAndEdges(ctx, tx, id, u.Priority, u.Requires)
	})
}

func (r *sqliteRepo) UpdateSubTask(ctx context.Context, id string, u SubTaskUpdate) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := getSubTask(ctx, tx, id)
		if err != nil {
			return err
		}
		sets, args, err := taskSets(id, cur.Task, u.Name, u.Endpoint, u.Method, u.Params, u.Enabled)
		if err != nil {
			return err
		}
		sets = append(sets, "last_modified = ?")
		args = append(args, r.now(), id)
		if _, err := tx.ExecContext(ctx, "UPDATE sub_tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = ?", args...); err != nil {
			return errors.Wrap(err, "update sub-task")
		}
		return updateStatusAndEdges(ctx, tx, id, u.Priority, u.Requires)
	})
}

func updateStatusAndEdges(ctx context.Context, tx *sqlx.Tx, id string, priority *int, requires *[]string) error {
	if priority != nil {
		if err := setPriority(ctx, tx, id, *priority); err != nil {
			return err
		}
	}
	if requires != nil {
		return replaceDependencies(ctx, tx, id, *requires)
	}
	return nil
}

// taskSets builds the SET clauses for the shared task columns.
func taskSets(id string, cur domain.Task, name, endpoint *string, method *domain.Method, params *domain.Params, enabled *bool) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if endpoint != nil {
		if strings.TrimSpace(*endpoint) == "" {
			return nil, nil, errors.Wrapf(domain.ErrInvalidTask, "task %s: endpoint is required", id)
		}
		sets = append(sets, "endpoint = ?")
		args = append(args, *endpoint)
	}
	if method != nil {
		m, err := normalizeMethod(*method)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "task %s", id)
		}
		sets = append(sets, "method = ?")
		args = append(args, m)
	}
	if p, ok := updatedParams(id, cur, endpoint, params); ok {
		enc, err := encodeParams(p)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, "params = ?")
		args = append(args, enc)
	}
	if enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *enabled)
	}
	return sets, args, nil
}

func (r *sqliteRepo) DeleteMainTask(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := mainExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrTaskNotFound, "main task %s", id)
		}
		var dependents []string
		if err := tx.SelectContext(ctx, &dependents, `
SELECT task_id FROM task_dependencies
WHERE depends_on = ? AND task_id NOT IN (SELECT task_id FROM sub_tasks WHERE parent_id = ?)
ORDER BY id`, id, id); err != nil {
			return errors.Wrap(err, "list dependents")
		}
		if len(dependents) > 0 {
			return errors.Wrapf(domain.ErrHasDependents, "%s is required by %v", id, dependents)
		}
		var subIDs []string
		if err := tx.SelectContext(ctx, &subIDs, `SELECT task_id FROM sub_tasks WHERE parent_id = ?`, id); err != nil {
			return errors.Wrap(err, "list sub-tasks")
		}
		if err := purge(ctx, tx, subIDs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sub_tasks WHERE parent_id = ?`, id); err != nil {
			return errors.Wrap(err, "delete sub-tasks")
		}
		if err := purge(ctx, tx, []string{id}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chain_executions WHERE chain_id = ?`, id); err != nil {
			return errors.Wrap(err, "delete chain history")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM main_tasks WHERE task_id = ?`, id); err != nil {
			return errors.Wrap(err, "delete main task")
		}
		log.Info().Str("task_id", id).Int("sub_tasks", len(subIDs)).Msg("main task deleted")
		return nil
	})
}

func (r *sqliteRepo) DeleteSubTask(ctx context.Context, id, parentID string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		var actual string
		err := tx.GetContext(ctx, &actual, `SELECT parent_id FROM sub_tasks WHERE task_id = ?`, id)
		if err == sql.ErrNoRows {
			return errors.Wrapf(domain.ErrTaskNotFound, "sub-task %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "get sub-task parent")
		}
		if parentID != "" && parentID != actual {
			return errors.Wrapf(domain.ErrTaskNotFound, "sub-task %s under parent %s", id, parentID)
		}
		if err := purge(ctx, tx, []string{id}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sub_tasks WHERE task_id = ?`, id); err != nil {
			return errors.Wrap(err, "delete sub-task")
		}
		var siblings []string
		if err := tx.SelectContext(ctx, &siblings, `SELECT task_id FROM sub_tasks WHERE parent_id = ? ORDER BY sequence_number, rowid`, actual); err != nil {
			return errors.Wrap(err, "list siblings")
		}
		return assignSequence(ctx, tx, siblings)
	})
}

// purge removes edges in both directions, status and execution history for ids.
func purge(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM task_dependencies WHERE task_id IN (?) OR depends_on IN (?)`, ids, ids)
	if err != nil {
		return errors.Wrap(err, "expand ids")
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "delete dependencies")
	}
	for _, table := range []string{"task_status", "task_executions"} {
		query, args, err := sqlx.In(`DELETE FROM `+table+` WHERE task_id IN (?)`, ids)
		if err != nil {
			return errors.Wrap(err, "expand ids")
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return errors.Wrapf(err, "delete from %s", table)
		}
	}
	return nil
}

func (r *sqliteRepo) ReorderSubTasks(ctx context.Context, parentID string, ids []string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := mainExists(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrParentNotFound, "parent %s", parentID)
		}
		var current []string
		if err := tx.SelectContext(ctx, &current, `SELECT task_id FROM sub_tasks WHERE parent_id = ?`, parentID); err != nil {
			return errors.Wrap(err, "list sub-tasks")
		}
		if !sameSet(current, ids) {
			return errors.Wrapf(domain.ErrSetMismatch, "parent %s", parentID)
		}
		return assignSequence(ctx, tx, ids)
	})
}

func assignSequence(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE sub_tasks SET sequence_number = ? WHERE task_id = ?`, i+1, id); err != nil {
			return errors.Wrap(err, "assign sequence")
		}
	}
	return nil
}

func sameSet(current, given []string) bool {
	if len(current) != len(given) {
		return false
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range given {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

func (r *sqliteRepo) AddDependency(ctx context.Context, taskID, dependsOn string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return addDependency(ctx, tx, taskID, dependsOn)
	})
}

func addDependency(ctx context.Context, tx *sqlx.Tx, taskID, dependsOn string) error {
	for _, id := range []string{taskID, dependsOn} {
		ok, err := idExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrTaskNotFound, "dependency %s -> %s: %s", taskID, dependsOn, id)
		}
	}
	if taskID == dependsOn {
		return errors.Wrapf(domain.ErrCyclicDependency, "%s depends on itself", taskID)
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies (task_id, depends_on) VALUES (?, ?)`, taskID, dependsOn)
	return errors.Wrap(err, "insert dependency")
}

func (r *sqliteRepo) RemoveAllDependencies(ctx context.Context, taskID string) error {
	return r.ReplaceDependencies(ctx, taskID, nil)
}

func (r *sqliteRepo) ReplaceDependencies(ctx context.Context, taskID string, deps []string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return replaceDependencies(ctx, tx, taskID, deps)
	})
}

func replaceDependencies(ctx context.Context, tx *sqlx.Tx, taskID string, deps []string) error {
	ok, err := idExists(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrTaskNotFound, "task %s", taskID)
	}
	_, err = tx.ExecContext(ctx, `
DELETE FROM task_dependencies
WHERE task_id = ? AND depends_on NOT IN (SELECT parent_id FROM sub_tasks WHERE task_id = ?)`, taskID, taskID)
	if err != nil {
		return errors.Wrap(err, "remove dependencies")
	}
	for _, dep := range deps {
		if err := addDependency(ctx, tx, taskID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteRepo) ListDependencies(ctx context.Context) ([]domain.Dependency, error) {
	var deps []domain.Dependency
	err := r.db.SelectContext(ctx, &deps, `SELECT task_id, depends_on FROM task_dependencies ORDER BY id`)
	return deps, errors.Wrap(err, "list dependencies")
}

func (r *sqliteRepo) GetAllMainTasks(ctx context.Context) ([]domain.MainTask, error) {
	var rows []mainTaskRow
	if err := r.db.SelectContext(ctx, &rows, mainTaskSelect+` ORDER BY m.rowid`); err != nil {
		return nil, errors.Wrap(err, "list main tasks")
	}
	tasks := make([]domain.MainTask, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.mainTask())
		ids = append(ids, row.ID)
	}
	deps, err := dependsOn(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].DependsOn = deps[tasks[i].ID]
	}
	return tasks, nil
}

func (r *sqliteRepo) GetMainTask(ctx context.Context, id string) (domain.MainTask, error) {
	return getMainTask(ctx, r.db, id)
}

func getMainTask(ctx context.Context, q sqlx.QueryerContext, id string) (domain.MainTask, error) {
	var row mainTaskRow
	err := sqlx.GetContext(ctx, q, &row, mainTaskSelect+` WHERE m.task_id = ?`, id)
	if err == sql.ErrNoRows {
		return domain.MainTask{}, errors.Wrapf(domain.ErrTaskNotFound, "main task %s", id)
	}
	if err != nil {
		return domain.MainTask{}, errors.Wrap(err, "get main task")
	}
	t := row.mainTask()
	deps, err := dependsOn(ctx, q, []string{id})
	if err != nil {
		return domain.MainTask{}, err
	}
	t.DependsOn = deps[id]
	return t, nil
}

func (r *sqliteRepo) GetSubTasks(ctx context.Context, parentID string) ([]domain.SubTask, error) {
	var rows []subTaskRow
	if err := r.db.SelectContext(ctx, &rows, subTaskSelect+` WHERE st.parent_id = ? ORDER BY st.sequence_number, st.rowid`, parentID); err != nil {
		return nil, errors.Wrap(err, "list sub-tasks")
	}
	subs := make([]domain.SubTask, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.subTask())
		ids = append(ids, row.ID)
	}
	deps, err := dependsOn(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].DependsOn = deps[subs[i].ID]
	}
	return subs, nil
}

func getSubTask(ctx context.Context, q sqlx.QueryerContext, id string) (domain.SubTask, error) {
	var row subTaskRow
	err := sqlx.GetContext(ctx, q, &row, subTaskSelect+` WHERE st.task_id = ?`, id)
	if err == sql.ErrNoRows {
		return domain.SubTask{}, errors.Wrapf(domain.ErrTaskNotFound, "sub-task %s", id)
	}
	if err != nil {
		return domain.SubTask{}, errors.Wrap(err, "get sub-task")
	}
	sub := row.subTask()
	deps, err := dependsOn(ctx, q, []string{id})
	if err != nil {
		return domain.SubTask{}, err
	}
	sub.DependsOn = deps[id]
	return sub, nil
}

func dependsOn(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT task_id, depends_on FROM task_dependencies WHERE task_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "expand ids")
	}
	var deps []domain.Dependency
	if err := sqlx.SelectContext(ctx, q, &deps, query, args...); err != nil {
		return nil, errors.Wrap(err, "list dependencies")
	}
	for _, d := range deps {
		out[d.TaskID] = append(out[d.TaskID], d.DependsOn)
	}
	return out, nil
}

func (r *sqliteRepo) GetTaskByID(ctx context.Context, id string) (domain.TaskView, error) {
	main, err := getMainTask(ctx, r.db, id)
	if err == nil {
		return domain.TaskView{Kind: domain.KindMain, Main: &main}, nil
	}
	if !errors.Is(err, domain.ErrTaskNotFound) {
		return domain.TaskView{}, err
	}
	sub, err := getSubTask(ctx, r.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return domain.TaskView{}, errors.Wrapf(domain.ErrTaskNotFound, "task %s", id)
		}
		return domain.TaskView{}, err
	}
	return domain.TaskView{Kind: domain.KindSub, Sub: &sub}, nil
}

func (r *sqliteRepo) CountMainTasks(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM main_tasks`)
	return n, errors.Wrap(err, "count main tasks")
}
