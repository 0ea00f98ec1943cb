// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/store"
)

// OpenDB returns a migrated sqlite database in a per-test directory.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chainflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func NewRepo(t *testing.T) store.Repository {
	t.Helper()
	return store.NewSQLiteRepo(OpenDB(t))
}

func MainTask(id string, s domain.Schedule) domain.MainTask {
	return domain.MainTask{
		Task: domain.Task{
			ID:       id,
			Name:     "task " + id,
			Endpoint: "/jobs/" + id,
			Method:   domain.MethodGet,
			Enabled:  true,
		},
		Schedule: s,
	}
}

func SubTask(id string) domain.SubTask {
	return domain.SubTask{
		Task: domain.Task{
			ID:       id,
			Name:     "sub " + id,
			Endpoint: "/jobs/" + id,
			Method:   domain.MethodPost,
			Enabled:  true,
		},
	}
}
