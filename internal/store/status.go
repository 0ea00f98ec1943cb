package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"chainflow/internal/domain"
)

// SetPriority stores the advisory priority. It does not affect execution order.
func (r *sqliteRepo) SetPriority(ctx context.Context, id string, priority int) error {
	return setPriority(ctx, r.db, id, priority)
}

func setPriority(ctx context.Context, ex sqlx.ExecerContext, id string, priority int) error {
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return errors.Wrapf(domain.ErrInvalidPriority, "got %d", priority)
	}
	res, err := ex.ExecContext(ctx, `UPDATE task_status SET priority = ? WHERE task_id = ?`, priority, id)
	if err != nil {
		return errors.Wrap(err, "set priority")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(domain.ErrTaskNotFound, "task %s", id)
	}
	return nil
}

func (r *sqliteRepo) AddTags(ctx context.Context, id string, tags []string) ([]string, error) {
	return r.editTags(ctx, id, func(cur []string) []string {
		return normalizeTags(append(cur, tags...))
	})
}

func (r *sqliteRepo) RemoveTags(ctx context.Context, id string, tags []string) ([]string, error) {
	drop := make(map[string]bool, len(tags))
	for _, t := range normalizeTags(tags) {
		drop[t] = true
	}
	return r.editTags(ctx, id, func(cur []string) []string {
		out := make([]string, 0, len(cur))
		for _, t := range cur {
			if !drop[t] {
				out = append(out, t)
			}
		}
		return out
	})
}

func (r *sqliteRepo) editTags(ctx context.Context, id string, edit func([]string) []string) ([]string, error) {
	var out []string
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var raw string
		err := tx.GetContext(ctx, &raw, `SELECT tags FROM task_status WHERE task_id = ?`, id)
		if err == sql.ErrNoRows {
			return errors.Wrapf(domain.ErrTaskNotFound, "task %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "read tags")
		}
		out = edit(decodeTags(raw))
		_, err = tx.ExecContext(ctx, `UPDATE task_status SET tags = ? WHERE task_id = ?`, encodeTags(out), id)
		return errors.Wrap(err, "write tags")
	})
	return out, err
}
