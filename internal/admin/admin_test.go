package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/internal/admin"
	"chainflow/internal/domain"
	"chainflow/internal/engine"
	"chainflow/internal/executor"
	"chainflow/internal/store"
	"chainflow/internal/testutil"
)

type okRunner struct{}

func (okRunner) Run(context.Context, domain.Task) (executor.Response, error) {
	return executor.Response{StatusCode: 200, Status: "success"}, nil
}

func newService(t *testing.T) (*admin.Service, store.Repository, *engine.Engine) {
	t.Helper()
	repo := testutil.NewRepo(t)
	now := func() time.Time { return time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC) }
	eng := engine.New(repo, okRunner{}, engine.Options{Workers: 1, Now: now})
	t.Cleanup(eng.Wait)
	return admin.New(repo, eng), repo, eng
}

func jobIDs(jobs []engine.Job) []string {
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.TaskID)
	}
	return ids
}

func TestCreateMainTaskRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	in := testutil.MainTask("sync", domain.Interval{Every: 3, Unit: domain.UnitDays})
	in.Params = domain.Params{"full": true}
	created, err := svc.CreateMainTask(ctx, in)
	require.NoError(t, err)

	view, err := svc.GetTask(ctx, "sync")
	require.NoError(t, err)
	require.Equal(t, domain.KindMain, view.Kind)
	got := *view.Main

	assert.Equal(t, created.Task, got.Task)
	assert.Equal(t, in.Schedule, got.Schedule)
	assert.Equal(t, in.Params, got.Params)
	assert.Equal(t, []string{"sync"}, jobIDs(svc.Jobs()))
}

func TestCreateMainTaskGeneratesID(t *testing.T) {
	svc, _, _ := newService(t)
	in := testutil.MainTask("", domain.Daily{At: "07:15"})
	in.Endpoint = "/jobs/anon"
	created, err := svc.CreateMainTask(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, created.ID, 36)
}

func TestCreateMainTaskRejectsInvalidSchedule(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	for name, s := range map[string]domain.Schedule{
		"missing":    nil,
		"bad time":   domain.Daily{At: "7pm"},
		"zero every": domain.Interval{Every: 0, Unit: domain.UnitHours},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateMainTask(ctx, testutil.MainTask("x", s))
			assert.True(t, errors.Is(err, domain.ErrInvalidSchedule), "got %v", err)
		})
	}
	n, err := repo.CountMainTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteMainTaskWithDependents(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)
	_, err = svc.CreateSubTask(ctx, "A", testutil.SubTask("A.1"))
	require.NoError(t, err)
	_, err = svc.CreateMainTask(ctx, testutil.MainTask("B", domain.Daily{At: "09:00"}))
	require.NoError(t, err)
	require.NoError(t, svc.SetDependencies(ctx, "B", []string{"A"}))

	deps, err := svc.Dependents(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, deps)

	err = svc.DeleteMainTask(ctx, "A")
	assert.True(t, errors.Is(err, domain.ErrHasDependents))
	_, err = svc.GetTask(ctx, "A.1")
	require.NoError(t, err)

	require.NoError(t, svc.SetDependencies(ctx, "B", nil))
	require.NoError(t, svc.DeleteMainTask(ctx, "A"))
	_, err = svc.GetTask(ctx, "A.1")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
	assert.Equal(t, []string{"B"}, jobIDs(svc.Jobs()))

	err = svc.DeleteMainTask(ctx, "A")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
}

func TestSetDependenciesRejectsCycles(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)
	_, err = svc.CreateSubTask(ctx, "A", testutil.SubTask("A.1"))
	require.NoError(t, err)

	err = svc.SetDependencies(ctx, "A", []string{"A.1"})
	assert.True(t, errors.Is(err, domain.ErrCyclicDependency))
	err = svc.SetDependencies(ctx, "A", []string{"A"})
	assert.True(t, errors.Is(err, domain.ErrCyclicDependency))

	deps, err := svc.Dependents(ctx, "A.1")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestSetDependenciesFailureKeepsStoredEdges(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.CreateMainTask(ctx, testutil.MainTask(id, domain.Daily{At: "08:00"}))
		require.NoError(t, err)
	}
	require.NoError(t, svc.SetDependencies(ctx, "a", []string{"b"}))

	err := svc.SetDependencies(ctx, "a", []string{"c", "ghost"})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)
	err = svc.SetDependencies(ctx, "b", []string{"c", "a"})
	assert.True(t, errors.Is(err, domain.ErrCyclicDependency), "got %v", err)

	edges, err := repo.ListDependencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Dependency{{TaskID: "a", DependsOn: "b"}}, edges)
}

func TestRejectedWritesLeaveNoTrace(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	in := testutil.MainTask("B", domain.Daily{At: "09:00"})
	in.DependsOn = []string{"A", "ghost"}
	_, err = svc.CreateMainTask(ctx, in)
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)
	_, err = svc.GetTask(ctx, "B")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
	assert.Equal(t, []string{"A"}, jobIDs(svc.Jobs()))

	name := "renamed"
	prio := 4
	bad := []string{"ghost"}
	_, err = svc.UpdateMainTask(ctx, "A", store.MainTaskUpdate{
		Name:     &name,
		Schedule: domain.Interval{Every: 1, Unit: domain.UnitHours},
		Priority: &prio,
		Requires: &bad,
	})
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound), "got %v", err)

	got, err := repo.GetMainTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "task A", got.Name)
	assert.Equal(t, domain.Daily{At: "08:00"}, got.Schedule)
	assert.Zero(t, got.Status.Priority)
	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.ScheduleDaily, jobs[0].Kind)

	in.DependsOn = []string{"A"}
	created, err := svc.CreateMainTask(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, created.DependsOn)
}

func TestSetEnabledUpdatesSchedule(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	require.NoError(t, svc.SetEnabled(ctx, "A", false))
	assert.Empty(t, svc.Jobs())
	require.NoError(t, svc.SetEnabled(ctx, "A", true))
	assert.Equal(t, []string{"A"}, jobIDs(svc.Jobs()))

	err = svc.SetEnabled(ctx, "nope", true)
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
}

func TestUpdateMainTaskReconcilesJob(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	name := "renamed"
	got, err := svc.UpdateMainTask(ctx, "A", store.MainTaskUpdate{
		Name:     &name,
		Schedule: domain.Interval{Every: 30, Unit: domain.UnitMinutes},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.ScheduleInterval, jobs[0].Kind)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC), jobs[0].NextRun)

	_, err = svc.UpdateMainTask(ctx, "A", store.MainTaskUpdate{Schedule: domain.Once{DelaySeconds: -1}})
	assert.True(t, errors.Is(err, domain.ErrInvalidSchedule))
}

func TestPriorityAndTags(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Daily{At: "08:00"}))
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.SetPriority(ctx, "A", 11), domain.ErrInvalidPriority))
	assert.True(t, errors.Is(svc.SetPriority(ctx, "A", -1), domain.ErrInvalidPriority))
	require.NoError(t, svc.SetPriority(ctx, "A", 10))

	tags, err := svc.AddTags(ctx, "A", []string{"mail", "daily"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mail", "daily"}, tags)
	tags, err = svc.RemoveTags(ctx, "A", []string{"mail"})
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, tags)

	view, err := svc.GetTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, view.Status().Priority)
}

func TestExecuteNow(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.ExecuteNow(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrTaskNotFound))

	_, err = svc.CreateMainTask(ctx, testutil.MainTask("A", domain.Once{DelaySeconds: 60}))
	require.NoError(t, err)
	ch, err := svc.ExecuteNow(ctx, "A")
	require.NoError(t, err)
	res := <-ch
	assert.Equal(t, domain.ChainSuccess, res.Status)

	page, err := svc.History(ctx, store.HistoryQuery{TaskID: "A"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, engine.TriggerManual, page.Executions[0].TriggeredBy.String)
}
