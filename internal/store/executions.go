package store

import (
	"context"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"chainflow/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// HistoryQuery selects executions. An empty TaskID matches every task; To is
// exclusive.
type HistoryQuery struct {
	TaskID          string
	IncludeSubtasks bool
	Status          string
	From            null.Time
	To              null.Time
	Page            int
	PageSize        int
}

type HistoryPage struct {
	Executions []domain.Execution
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// RecordExecution appends e and folds it into the task's statistics in the
// same transaction. nextRun overwrites the stored next run (NULL when invalid).
func (r *sqliteRepo) RecordExecution(ctx context.Context, e domain.Execution, nextRun null.Time) (int64, error) {
	if e.Status != domain.StatusSuccess && e.Status != domain.StatusFail {
		return 0, errors.Errorf("unknown execution status %q", e.Status)
	}
	var id int64
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := idExists(ctx, tx, e.TaskID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrTaskNotFound, "task %s", e.TaskID)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO task_executions (task_id,start_time,end_time,duration,status,error_message,triggered_by,output)
VALUES (?,?,?,?,?,?,?,?)`,
			e.TaskID, e.StartTime.UTC(), utc(e.EndTime), e.Duration, e.Status, e.Error, e.TriggeredBy, e.Output)
		if err != nil {
			return errors.Wrap(err, "insert execution")
		}
		if id, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "execution id")
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_status (task_id) VALUES (?)`, e.TaskID); err != nil {
			return errors.Wrap(err, "ensure task status")
		}
		var st struct {
			Total   int     `db:"total_runs"`
			Success int     `db:"success_runs"`
			Fail    int     `db:"fail_runs"`
			Avg     float64 `db:"avg_duration"`
		}
		if err := tx.GetContext(ctx, &st, `SELECT total_runs, success_runs, fail_runs, avg_duration FROM task_status WHERE task_id = ?`, e.TaskID); err != nil {
			return errors.Wrap(err, "read task status")
		}
		st.Total++
		if e.Status == domain.StatusSuccess {
			st.Success++
		} else {
			st.Fail++
		}
		rate := float64(st.Success) / float64(st.Total) * 100
		if e.Duration.Valid {
			st.Avg = (st.Avg*float64(st.Total-1) + e.Duration.Float64) / float64(st.Total)
		}
		_, err = tx.ExecContext(ctx, `
UPDATE task_status
SET total_runs = ?, success_runs = ?, fail_runs = ?, success_rate = ?, avg_duration = ?,
    last_run_time = ?, last_status = ?, last_error = ?, next_run_time = ?
WHERE task_id = ?`,
			st.Total, st.Success, st.Fail, rate, st.Avg,
			e.StartTime.UTC(), e.Status, e.Error, utc(nextRun), e.TaskID)
		return errors.Wrap(err, "update task status")
	})
	return id, err
}

func (r *sqliteRepo) SetNextRun(ctx context.Context, id string, next null.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE task_status SET next_run_time = ? WHERE task_id = ?`, utc(next), id)
	return errors.Wrap(err, "set next run")
}

func (r *sqliteRepo) GetExecutionHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	var (
		where []string
		args  []any
	)
	if q.TaskID != "" {
		ids := []string{q.TaskID}
		if q.IncludeSubtasks {
			var subs []string
			if err := r.db.SelectContext(ctx, &subs, `SELECT task_id FROM sub_tasks WHERE parent_id = ? ORDER BY sequence_number`, q.TaskID); err != nil {
				return HistoryPage{}, errors.Wrap(err, "list sub-tasks")
			}
			ids = append(ids, subs...)
		}
		where = append(where, "task_id IN (?)")
		args = append(args, ids)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.From.Valid {
		where = append(where, "start_time >= ?")
		args = append(args, q.From.Time.UTC())
	}
	if q.To.Valid {
		where = append(where, "start_time < ?")
		args = append(args, q.To.Time.UTC())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	query, qargs, err := sqlx.In(`SELECT COUNT(*) FROM task_executions`+clause, args...)
	if err != nil {
		return HistoryPage{}, errors.Wrap(err, "build history count")
	}
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(query), qargs...); err != nil {
		return HistoryPage{}, errors.Wrap(err, "count history")
	}

	query, qargs, err = sqlx.In(`
SELECT id, task_id, start_time, end_time, duration, status, error_message, triggered_by, output
FROM task_executions`+clause+`
ORDER BY start_time DESC, id DESC
LIMIT ? OFFSET ?`, append(args, size, (page-1)*size)...)
	if err != nil {
		return HistoryPage{}, errors.Wrap(err, "build history query")
	}
	execs := []domain.Execution{}
	if err := r.db.SelectContext(ctx, &execs, r.db.Rebind(query), qargs...); err != nil {
		return HistoryPage{}, errors.Wrap(err, "query history")
	}
	return HistoryPage{
		Executions: execs,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	}, nil
}

func (r *sqliteRepo) StartChain(ctx context.Context, chainID string, start time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO chain_executions (chain_id, start_time, status) VALUES (?, ?, ?)`,
		chainID, start.UTC(), domain.ChainRunning)
	if err != nil {
		return 0, errors.Wrap(err, "insert chain execution")
	}
	id, err := res.LastInsertId()
	return id, errors.Wrap(err, "chain execution id")
}

func (r *sqliteRepo) FinishChain(ctx context.Context, c domain.ChainExecution) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE chain_executions
SET end_time = ?, status = ?, tasks_executed = ?, tasks_succeeded = ?, tasks_failed = ?, error_message = ?
WHERE id = ?`,
		utc(c.EndTime), c.Status, c.TasksExecuted, c.TasksSucceeded, c.TasksFailed, c.Error, c.ID)
	return errors.Wrap(err, "finish chain execution")
}

func (r *sqliteRepo) ListChainExecutions(ctx context.Context, chainID string, limit int) ([]domain.ChainExecution, error) {
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	query := `
SELECT id, chain_id, start_time, end_time, status, tasks_executed, tasks_succeeded, tasks_failed, error_message
FROM chain_executions`
	var args []any
	if chainID != "" {
		query += ` WHERE chain_id = ?`
		args = append(args, chainID)
	}
	query += ` ORDER BY start_time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	chains := []domain.ChainExecution{}
	err := r.db.SelectContext(ctx, &chains, query, args...)
	return chains, errors.Wrap(err, "list chain executions")
}

func utc(t null.Time) null.Time {
	if !t.Valid {
		return t
	}
	return null.TimeFrom(t.Time.UTC())
}
