// Package store persists tasks, dependency edges, statistics and execution
// history in sqlite.
package store

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"chainflow/internal/domain"
)

type Repository interface {
	CreateMainTask(ctx context.Context, t domain.MainTask) (domain.MainTask, error)
	CreateSubTask(ctx context.Context, parentID string, t domain.SubTask) (domain.SubTask, error)
	UpdateMainTask(ctx context.Context, id string, u MainTaskUpdate) error
	UpdateSubTask(ctx context.Context, id string, u SubTaskUpdate) error
	DeleteMainTask(ctx context.Context, id string) error
	// DeleteSubTask only deletes when parentID is empty or matches the actual parent.
	DeleteSubTask(ctx context.Context, id, parentID string) error
	ReorderSubTasks(ctx context.Context, parentID string, ids []string) error

	AddDependency(ctx context.Context, taskID, dependsOn string) error
	// RemoveAllDependencies drops taskID's declared prerequisites. A sub-task
	// keeps the edge to its parent.
	RemoveAllDependencies(ctx context.Context, taskID string) error
	// ReplaceDependencies swaps taskID's declared prerequisites for deps in
	// one transaction. A sub-task keeps the edge to its parent.
	ReplaceDependencies(ctx context.Context, taskID string, deps []string) error
	ListDependencies(ctx context.Context) ([]domain.Dependency, error)

	GetAllMainTasks(ctx context.Context) ([]domain.MainTask, error)
	GetMainTask(ctx context.Context, id string) (domain.MainTask, error)
	GetSubTasks(ctx context.Context, parentID string) ([]domain.SubTask, error)
	GetTaskByID(ctx context.Context, id string) (domain.TaskView, error)
	CountMainTasks(ctx context.Context) (int, error)

	RecordExecution(ctx context.Context, e domain.Execution, nextRun null.Time) (int64, error)
	SetNextRun(ctx context.Context, id string, next null.Time) error
	GetExecutionHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error)

	SetPriority(ctx context.Context, id string, priority int) error
	AddTags(ctx context.Context, id string, tags []string) ([]string, error)
	RemoveTags(ctx context.Context, id string, tags []string) ([]string, error)

	StartChain(ctx context.Context, chainID string, start time.Time) (int64, error)
	FinishChain(ctx context.Context, c domain.ChainExecution) error
	ListChainExecutions(ctx context.Context, chainID string, limit int) ([]domain.ChainExecution, error)
}

// MainTaskUpdate carries the fields to change; nil fields are left untouched.
// All of it is applied in one transaction.
type MainTaskUpdate struct {
	Name     *string
	Endpoint *string
	Method   *domain.Method
	Params   *domain.Params
	Enabled  *bool
	Schedule domain.Schedule
	Priority *int
	Requires *[]string
}

type SubTaskUpdate struct {
	Name     *string
	Endpoint *string
	Method   *domain.Method
	Params   *domain.Params
	Enabled  *bool
	Priority *int
	Requires *[]string
}

type sqliteRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLiteRepo(db *sqlx.DB) Repository {
	return &sqliteRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *sqliteRepo) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func idExists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
SELECT EXISTS(SELECT 1 FROM main_tasks WHERE task_id = ?) OR EXISTS(SELECT 1 FROM sub_tasks WHERE task_id = ?)`, id, id)
	return exists, errors.Wrap(err, "check task id")
}

func mainExists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM main_tasks WHERE task_id = ?)`, id)
	return exists, errors.Wrap(err, "check main task")
}
