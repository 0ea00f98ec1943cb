package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/store"
	"chainflow/internal/testutil"
)

func seedChain(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)
	for _, id := range []string{"A.1", "A.2", "A.3"} {
		_, err := repo.CreateSubTask(ctx, "A", testutil.SubTask(id))
		require.NoError(t, err)
	}
}

func subIDs(t *testing.T, repo store.Repository, parent string) ([]string, []int) {
	t.Helper()
	subs, err := repo.GetSubTasks(context.Background(), parent)
	require.NoError(t, err)
	var ids []string
	var seqs []int
	for _, s := range subs {
		ids = append(ids, s.ID)
		seqs = append(seqs, s.Sequence)
	}
	return ids, seqs
}

func TestCreateMainTaskRoundTrip(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()

	in := testutil.MainTask("report", domain.Interval{Every: 2, Unit: domain.UnitHours})
	in.Params = domain.Params{"mode": "full"}
	in.Status.Tags = []string{"daily", "daily", "mail"}
	in.Status.Priority = 3
	created, err := repo.CreateMainTask(ctx, in)
	require.NoError(t, err)

	view, err := repo.GetTaskByID(ctx, "report")
	require.NoError(t, err)
	require.Equal(t, domain.KindMain, view.Kind)
	got := *view.Main

	assert.Equal(t, created, got)
	assert.Equal(t, "task report", got.Name)
	assert.Equal(t, "/jobs/report", got.Endpoint)
	assert.Equal(t, domain.MethodGet, got.Method)
	assert.Equal(t, domain.Params{"mode": "full"}, got.Params)
	assert.Equal(t, domain.Interval{Every: 2, Unit: domain.UnitHours}, got.Schedule)
	assert.True(t, got.Enabled)
	assert.Equal(t, []string{"daily", "mail"}, got.Status.Tags)
	assert.Equal(t, 3, got.Status.Priority)
	assert.Zero(t, got.Status.TotalRuns)
	assert.False(t, got.Status.LastRunTime.Valid)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateValidation(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)

	t.Run("duplicate main id", func(t *testing.T) {
		_, err := repo.CreateMainTask(ctx, testutil.MainTask("A", domain.Once{DelaySeconds: 5}))
		assert.True(t, errors.Is(err, domain.ErrDuplicateTaskID))
	})
	t.Run("main id colliding with sub-task", func(t *testing.T) {
		_, err := repo.CreateMainTask(ctx, testutil.MainTask("A.1", domain.Once{DelaySeconds: 5}))
		assert.True(t, errors.Is(err, domain.ErrDuplicateTaskID))
	})
	t.Run("sub id colliding with main task", func(t *testing.T) {
		_, err := repo.CreateSubTask(ctx, "A", testutil.SubTask("A"))
		assert.True(t, errors.Is(err, domain.ErrDuplicateTaskID))
	})
	t.Run("missing parent", func(t *testing.T) {
		_, err := repo.CreateSubTask(ctx, "nope", testutil.SubTask("X.1"))
		assert.True(t, errors.Is(err, domain.ErrParentNotFound))
	})
	t.Run("missing schedule", func(t *testing.T) {
		_, err := repo.CreateMainTask(ctx, testutil.MainTask("B", nil))
		assert.True(t, errors.Is(err, domain.ErrInvalidSchedule))
	})
	t.Run("bad method", func(t *testing.T) {
		task := testutil.MainTask("C", domain.Daily{At: "09:00"})
		task.Method = "DELETE"
		_, err := repo.CreateMainTask(ctx, task)
		assert.True(t, errors.Is(err, domain.ErrInvalidTask))
	})
	t.Run("priority out of range", func(t *testing.T) {
		task := testutil.MainTask("D", domain.Daily{At: "09:00"})
		task.Status.Priority = 11
		_, err := repo.CreateMainTask(ctx, task)
		assert.True(t, errors.Is(err, domain.ErrInvalidPriority))
		_, err = repo.GetTaskByID(ctx, "D")
		assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "nothing persisted")
	})
}

func TestSubTaskSequenceAndParentEdge(t *testing.T) {
	repo := testutil.NewRepo(t)
	seedChain(t, repo)

	ids, seqs := subIDs(t, repo, "A")
	assert.Equal(t, []string{"A.1", "A.2", "A.3"}, ids)
	assert.Equal(t, []int{1, 2, 3}, seqs)

	view, err := repo.GetTaskByID(context.Background(), "A.2")
	require.NoError(t, err)
	require.Equal(t, domain.KindSub, view.Kind)
	assert.Equal(t, "A", view.Sub.ParentID)
	assert.Equal(t, []string{"A"}, view.Sub.DependsOn)
}

func TestUpdateMainTask(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	created, err := repo.CreateMainTask(ctx, testutil.MainTask("A", domain.Interval{Every: 3, Unit: domain.UnitDays}))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	name := "renamed"
	require.NoError(t, repo.UpdateMainTask(ctx, "A", store.MainTaskUpdate{Name: &name, Schedule: domain.Daily{At: "06:30"}}))

	got, err := repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, created.Endpoint, got.Endpoint, "untouched fields survive")
	assert.Equal(t, domain.Daily{At: "06:30"}, got.Schedule)
	assert.True(t, got.ModifiedAt.After(created.ModifiedAt))

	// switching back leaves no daily time behind
	require.NoError(t, repo.UpdateMainTask(ctx, "A", store.MainTaskUpdate{Schedule: domain.Once{DelaySeconds: 30}}))
	got, err = repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.Once{DelaySeconds: 30}, got.Schedule)

	err = repo.UpdateMainTask(ctx, "missing", store.MainTaskUpdate{Name: &name})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
	err = repo.UpdateSubTask(ctx, "A", store.SubTaskUpdate{Name: &name})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "a main task is not a sub-task")
}

func TestEndpointDefaults(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()

	task := testutil.MainTask("mail", domain.Daily{At: "22:00"})
	task.Endpoint = "/log/send-email"
	created, err := repo.CreateMainTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "simple", created.Params["mode"])
	assert.Contains(t, created.Params, "content")

	custom := domain.Params{"mode": "detailed"}
	require.NoError(t, repo.UpdateMainTask(ctx, "mail", store.MainTaskUpdate{Params: &custom}))
	got, err := repo.GetMainTask(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, custom, got.Params)

	empty := domain.Params{}
	require.NoError(t, repo.UpdateMainTask(ctx, "mail", store.MainTaskUpdate{Params: &empty}))
	got, err = repo.GetMainTask(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, "simple", got.Params["mode"])

	sub := testutil.SubTask("mail.1")
	_, err = repo.CreateSubTask(ctx, "mail", sub)
	require.NoError(t, err)
	ep := "/log/send-email"
	require.NoError(t, repo.UpdateSubTask(ctx, "mail.1", store.SubTaskUpdate{Endpoint: &ep}))
	view, err := repo.GetTaskByID(ctx, "mail.1")
	require.NoError(t, err)
	assert.Equal(t, "simple", view.Sub.Params["mode"])

	plain := testutil.MainTask("plain", domain.Daily{At: "22:00"})
	created, err = repo.CreateMainTask(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, created.Params)
}

func TestDeleteMainTaskCascades(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("B", domain.Daily{At: "10:00"}))
	require.NoError(t, err)
	require.NoError(t, repo.AddDependency(ctx, "A.3", "B"))

	now := time.Now()
	for _, id := range []string{"A", "A.1", "A.2"} {
		_, err := repo.RecordExecution(ctx, domain.Execution{TaskID: id, StartTime: now, Status: domain.StatusSuccess}, null.Time{})
		require.NoError(t, err)
	}
	_, err = repo.RecordExecution(ctx, domain.Execution{TaskID: "B", StartTime: now, Status: domain.StatusSuccess}, null.Time{})
	require.NoError(t, err)
	chainID, err := repo.StartChain(ctx, "A", now)
	require.NoError(t, err)
	require.NoError(t, repo.FinishChain(ctx, domain.ChainExecution{ID: chainID, Status: domain.ChainSuccess}))

	require.NoError(t, repo.DeleteMainTask(ctx, "A"))

	mains, err := repo.GetAllMainTasks(ctx)
	require.NoError(t, err)
	require.Len(t, mains, 1)
	assert.Equal(t, "B", mains[0].ID)

	subs, err := repo.GetSubTasks(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, subs)
	for _, id := range []string{"A", "A.1", "A.2", "A.3"} {
		_, err := repo.GetTaskByID(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrTaskNotFound), id)
	}

	deps, err := repo.ListDependencies(ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)

	hist, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, hist.Total)
	assert.Equal(t, "B", hist.Executions[0].TaskID)

	chains, err := repo.ListChainExecutions(ctx, "A", 10)
	require.NoError(t, err)
	assert.Empty(t, chains)

	assert.True(t, errors.Is(repo.DeleteMainTask(ctx, "A"), domain.ErrTaskNotFound))
}

func TestDeleteSubTask(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("B", domain.Daily{At: "10:00"}))
	require.NoError(t, err)

	err = repo.DeleteSubTask(ctx, "A.2", "B")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "wrong parent must not delete")

	require.NoError(t, repo.DeleteSubTask(ctx, "A.2", "A"))
	ids, seqs := subIDs(t, repo, "A")
	assert.Equal(t, []string{"A.1", "A.3"}, ids)
	assert.Equal(t, []int{1, 2}, seqs)

	require.NoError(t, repo.DeleteSubTask(ctx, "A.1", ""))
	ids, seqs = subIDs(t, repo, "A")
	assert.Equal(t, []string{"A.3"}, ids)
	assert.Equal(t, []int{1}, seqs)

	assert.True(t, errors.Is(repo.DeleteSubTask(ctx, "A.1", ""), domain.ErrTaskNotFound))
}

func TestReorderSubTasks(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)

	for name, ids := range map[string][]string{
		"missing one":  {"A.1", "A.2"},
		"extra one":    {"A.1", "A.2", "A.3", "B.1"},
		"foreign id":   {"A.1", "A.2", "B.1"},
		"duplicate id": {"A.1", "A.1", "A.2"},
		"empty":        nil,
	} {
		t.Run(name, func(t *testing.T) {
			err := repo.ReorderSubTasks(ctx, "A", ids)
			assert.True(t, errors.Is(err, domain.ErrSetMismatch))
			got, seqs := subIDs(t, repo, "A")
			assert.Equal(t, []string{"A.1", "A.2", "A.3"}, got)
			assert.Equal(t, []int{1, 2, 3}, seqs)
		})
	}

	require.NoError(t, repo.ReorderSubTasks(ctx, "A", []string{"A.3", "A.1", "A.2"}))
	got, seqs := subIDs(t, repo, "A")
	assert.Equal(t, []string{"A.3", "A.1", "A.2"}, got)
	assert.Equal(t, []int{1, 2, 3}, seqs)

	assert.True(t, errors.Is(repo.ReorderSubTasks(ctx, "nope", nil), domain.ErrParentNotFound))
}

func TestDependencies(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("B", domain.Daily{At: "10:00"}))
	require.NoError(t, err)

	require.NoError(t, repo.AddDependency(ctx, "A.1", "B"))
	require.NoError(t, repo.AddDependency(ctx, "A.1", "B"), "duplicate edges are ignored")
	assert.True(t, errors.Is(repo.AddDependency(ctx, "A.1", "ghost"), domain.ErrTaskNotFound))
	assert.True(t, errors.Is(repo.AddDependency(ctx, "B", "B"), domain.ErrCyclicDependency))

	view, err := repo.GetTaskByID(ctx, "A.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, view.Sub.DependsOn)

	require.NoError(t, repo.RemoveAllDependencies(ctx, "A.1"))
	view, err = repo.GetTaskByID(ctx, "A.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, view.Sub.DependsOn, "parent edge is kept")

	assert.True(t, errors.Is(repo.ReplaceDependencies(ctx, "ghost", nil), domain.ErrTaskNotFound))
}

func TestReplaceDependenciesIsAtomic(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.CreateMainTask(ctx, testutil.MainTask(id, domain.Daily{At: "08:00"}))
		require.NoError(t, err)
	}
	require.NoError(t, repo.ReplaceDependencies(ctx, "a", []string{"b"}))

	err := repo.ReplaceDependencies(ctx, "a", []string{"c", "ghost"})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)

	deps, err := repo.ListDependencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Dependency{{TaskID: "a", DependsOn: "b"}}, deps)

	require.NoError(t, repo.ReplaceDependencies(ctx, "a", []string{"c"}))
	got, err := repo.GetMainTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got.DependsOn)
}

func TestCreateMainTaskWithUnknownDependencyWritesNothing(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("b", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	in := testutil.MainTask("a", domain.Daily{At: "09:00"})
	in.DependsOn = []string{"b", "ghost"}
	_, err = repo.CreateMainTask(ctx, in)
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)

	_, err = repo.GetTaskByID(ctx, "a")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
	deps, err := repo.ListDependencies(ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)

	in.DependsOn = []string{"b"}
	created, err := repo.CreateMainTask(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, created.DependsOn)
}

func TestUpdateRollsBackOnLaterFailure(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)

	name := "renamed"
	prio := 7
	bad := []string{"ghost"}
	err := repo.UpdateMainTask(ctx, "A", store.MainTaskUpdate{Name: &name, Priority: &prio, Requires: &bad})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)

	got, err := repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "task A", got.Name)
	assert.Zero(t, got.Status.Priority)

	tooHigh := 11
	err = repo.UpdateSubTask(ctx, "A.1", store.SubTaskUpdate{Name: &name, Priority: &tooHigh})
	assert.True(t, errors.Is(err, domain.ErrInvalidPriority))
	view, err := repo.GetTaskByID(ctx, "A.1")
	require.NoError(t, err)
	assert.Equal(t, "sub A.1", view.Sub.Name)

	deps := []string{"A.2"}
	require.NoError(t, repo.UpdateSubTask(ctx, "A.1", store.SubTaskUpdate{Name: &name, Priority: &prio, Requires: &deps}))
	view, err = repo.GetTaskByID(ctx, "A.1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", view.Sub.Name)
	assert.Equal(t, 7, view.Sub.Status.Priority)
	assert.Equal(t, []string{"A", "A.2"}, view.Sub.DependsOn)
}

func TestDeleteMainTaskRefusesOutsideDependents(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("B", domain.Daily{At: "10:00"}))
	require.NoError(t, err)
	require.NoError(t, repo.AddDependency(ctx, "B", "A"))

	err = repo.DeleteMainTask(ctx, "A")
	assert.True(t, errors.Is(err, domain.ErrHasDependents), "got %v", err)
	ids, _ := subIDs(t, repo, "A")
	assert.Equal(t, []string{"A.1", "A.2", "A.3"}, ids)

	require.NoError(t, repo.ReplaceDependencies(ctx, "B", nil))
	require.NoError(t, repo.DeleteMainTask(ctx, "A"))
}

func TestRecordExecutionStatistics(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	durations := []float64{1.5, 2.5, 4, 0.25, 7}
	outcomes := []string{domain.StatusSuccess, domain.StatusFail, domain.StatusSuccess, domain.StatusSuccess, domain.StatusFail}
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	next := start.Add(24 * time.Hour)
	var sum float64
	for i, d := range durations {
		sum += d
		e := domain.Execution{
			TaskID:      "A",
			StartTime:   start.Add(time.Duration(i) * time.Minute),
			EndTime:     null.TimeFrom(start.Add(time.Duration(i)*time.Minute + time.Duration(d*float64(time.Second)))),
			Duration:    null.FloatFrom(d),
			Status:      outcomes[i],
			TriggeredBy: null.StringFrom("scheduler"),
		}
		if outcomes[i] == domain.StatusFail {
			e.Error = null.StringFrom("boom")
		}
		_, err := repo.RecordExecution(ctx, e, null.TimeFrom(next))
		require.NoError(t, err)
	}

	got, err := repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	st := got.Status
	assert.Equal(t, 5, st.TotalRuns)
	assert.Equal(t, 3, st.SuccessRuns)
	assert.Equal(t, 2, st.FailRuns)
	assert.InDelta(t, 60.0, st.SuccessRate, 1e-9)
	assert.InDelta(t, sum/5, st.AvgDuration, 1e-9)
	assert.Equal(t, domain.StatusFail, st.LastStatus.String)
	assert.Equal(t, "boom", st.LastError.String)
	assert.True(t, st.LastRunTime.Time.Equal(start.Add(4*time.Minute)))
	assert.True(t, st.NextRunTime.Time.Equal(next))

	_, err = repo.RecordExecution(ctx, domain.Execution{TaskID: "A", StartTime: start, Status: domain.StatusSuccess}, null.Time{})
	require.NoError(t, err)
	got, err = repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.False(t, got.Status.LastError.Valid, "success clears the last error")
	assert.False(t, got.Status.NextRunTime.Valid)

	_, err = repo.RecordExecution(ctx, domain.Execution{TaskID: "ghost", StartTime: start, Status: domain.StatusSuccess}, null.Time{})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
}

func TestExecutionHistory(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	seedChain(t, repo)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	record := func(id string, day int, status string) {
		_, err := repo.RecordExecution(ctx, domain.Execution{TaskID: id, StartTime: base.AddDate(0, 0, day), Status: status}, null.Time{})
		require.NoError(t, err)
	}
	record("A", 0, domain.StatusSuccess)
	record("A.1", 1, domain.StatusFail)
	record("A.2", 2, domain.StatusSuccess)
	record("A", 3, domain.StatusFail)
	record("A.3", 4, domain.StatusSuccess)

	t.Run("own history only", func(t *testing.T) {
		page, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{TaskID: "A"})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		assert.Equal(t, "A", page.Executions[0].TaskID)
		assert.True(t, page.Executions[0].StartTime.After(page.Executions[1].StartTime), "newest first")
	})
	t.Run("with sub-tasks paginated", func(t *testing.T) {
		page, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{TaskID: "A", IncludeSubtasks: true, Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.TotalPages)
		require.Len(t, page.Executions, 2)
		assert.Equal(t, "A.3", page.Executions[0].TaskID)
		assert.Equal(t, "A", page.Executions[1].TaskID)

		last, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{TaskID: "A", IncludeSubtasks: true, Page: 3, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, last.Executions, 1)
		assert.Equal(t, "A", last.Executions[0].TaskID)
	})
	t.Run("status filter", func(t *testing.T) {
		page, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{TaskID: "A", IncludeSubtasks: true, Status: domain.StatusFail})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})
	t.Run("date range", func(t *testing.T) {
		page, err := repo.GetExecutionHistory(ctx, store.HistoryQuery{
			From: null.TimeFrom(base.AddDate(0, 0, 1)),
			To:   null.TimeFrom(base.AddDate(0, 0, 3)),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		for _, e := range page.Executions {
			assert.Contains(t, []string{"A.1", "A.2"}, e.TaskID)
		}
	})
}

func TestPriorityAndTags(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	_, err := repo.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	require.NoError(t, repo.SetPriority(ctx, "A", 10))
	assert.True(t, errors.Is(repo.SetPriority(ctx, "A", -1), domain.ErrInvalidPriority))
	assert.True(t, errors.Is(repo.SetPriority(ctx, "ghost", 1), domain.ErrTaskNotFound))

	tags, err := repo.AddTags(ctx, "A", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tags)
	tags, err = repo.AddTags(ctx, "A", []string{"y", "z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, tags)
	tags, err = repo.RemoveTags(ctx, "A", []string{"x", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, tags)

	got, err := repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Status.Priority)
	assert.Equal(t, []string{"y", "z"}, got.Status.Tags)

	_, err = repo.AddTags(ctx, "ghost", []string{"x"})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
}

func TestChainExecutions(t *testing.T) {
	repo := testutil.NewRepo(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := repo.StartChain(ctx, "A", start)
	require.NoError(t, err)
	second, err := repo.StartChain(ctx, "A", start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.FinishChain(ctx, domain.ChainExecution{
		ID: first, Status: domain.ChainPartial, EndTime: null.TimeFrom(start.Add(time.Minute)),
		TasksExecuted: 3, TasksSucceeded: 2, TasksFailed: 1,
	}))

	chains, err := repo.ListChainExecutions(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, second, chains[0].ID)
	assert.Equal(t, domain.ChainRunning, chains[0].Status)
	assert.Equal(t, domain.ChainPartial, chains[1].Status)
	assert.Equal(t, 3, chains[1].TasksExecuted)
	assert.Equal(t, 1, chains[1].TasksFailed)
}
