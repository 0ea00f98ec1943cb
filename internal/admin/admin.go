// Package admin is the control surface over tasks. Every mutation goes to
// the store first and then to the scheduler, so the live schedule follows
// the stored state.
package admin

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
	"chainflow/internal/engine"
	"chainflow/internal/graph"
	"chainflow/internal/schedule"
	"chainflow/internal/store"
)

// Scheduler is the part of the engine the admin layer drives.
type Scheduler interface {
	Reload(ctx context.Context) error
	Reconcile(ctx context.Context, taskID string) error
	ExecuteNow(taskID string) <-chan engine.ChainResult
	Jobs() []engine.Job
}

type Service struct {
	repo  store.Repository
	sched Scheduler
}

func New(repo store.Repository, sched Scheduler) *Service {
	return &Service{repo: repo, sched: sched}
}

// CreateMainTask stores t together with its t.DependsOn edges and reloads the
// scheduler. An empty id is replaced with a generated one.
func (s *Service) CreateMainTask(ctx context.Context, t domain.MainTask) (domain.MainTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := schedule.Validate(t.Schedule); err != nil {
		return domain.MainTask{}, err
	}
	if len(t.DependsOn) > 0 {
		if err := s.checkAcyclic(ctx, t.ID, t.DependsOn); err != nil {
			return domain.MainTask{}, err
		}
	}
	created, err := s.repo.CreateMainTask(ctx, t)
	if err != nil {
		return domain.MainTask{}, err
	}
	log.Info().Str("task_id", created.ID).Str("schedule", created.Schedule.String()).Msg("main task created")
	s.reload(ctx)
	return created, nil
}

// CreateSubTask appends t under parentID. Edges to t.DependsOn are stored
// with it; a set that would close a cycle is rejected.
func (s *Service) CreateSubTask(ctx context.Context, parentID string, t domain.SubTask) (domain.SubTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	proposed := append([]string{parentID}, t.DependsOn...)
	if err := s.checkAcyclic(ctx, t.ID, proposed); err != nil {
		return domain.SubTask{}, err
	}
	created, err := s.repo.CreateSubTask(ctx, parentID, t)
	if err != nil {
		return domain.SubTask{}, err
	}
	log.Info().Str("task_id", created.ID).Str("parent_id", parentID).Int("sequence", created.Sequence).Msg("sub-task created")
	return created, nil
}

// UpdateMainTask persists u and then re-arms only the affected job.
func (s *Service) UpdateMainTask(ctx context.Context, id string, u store.MainTaskUpdate) (domain.MainTask, error) {
	if u.Schedule != nil {
		if err := schedule.Validate(u.Schedule); err != nil {
			return domain.MainTask{}, err
		}
	}
	if u.Requires != nil {
		if err := s.checkDependencies(ctx, id, *u.Requires); err != nil {
			return domain.MainTask{}, err
		}
	}
	if err := s.repo.UpdateMainTask(ctx, id, u); err != nil {
		return domain.MainTask{}, err
	}
	if err := s.sched.Reconcile(ctx, id); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("reconcile after update failed")
	}
	return s.repo.GetMainTask(ctx, id)
}

func (s *Service) UpdateSubTask(ctx context.Context, id string, u store.SubTaskUpdate) (domain.TaskView, error) {
	if u.Requires != nil {
		if err := s.checkDependencies(ctx, id, *u.Requires); err != nil {
			return domain.TaskView{}, err
		}
	}
	if err := s.repo.UpdateSubTask(ctx, id, u); err != nil {
		return domain.TaskView{}, err
	}
	return s.repo.GetTaskByID(ctx, id)
}

// SetDependencies replaces the declared prerequisites of id. The parent edge
// of a sub-task is kept. On error the stored edges are unchanged.
func (s *Service) SetDependencies(ctx context.Context, id string, requires []string) error {
	if err := s.checkDependencies(ctx, id, requires); err != nil {
		return err
	}
	return s.repo.ReplaceDependencies(ctx, id, requires)
}

// checkDependencies validates requires as the new prerequisite set of id
// before anything is written.
func (s *Service) checkDependencies(ctx context.Context, id string, requires []string) error {
	view, err := s.repo.GetTaskByID(ctx, id)
	if err != nil {
		return err
	}
	for _, dep := range requires {
		if _, err := s.repo.GetTaskByID(ctx, dep); err != nil {
			return errors.Wrapf(err, "dependency %s -> %s", id, dep)
		}
	}
	proposed := requires
	if view.Kind == domain.KindSub {
		proposed = append([]string{view.Sub.ParentID}, requires...)
	}
	return s.checkAcyclic(ctx, id, proposed)
}

// checkAcyclic reports ErrCyclicDependency when id with prerequisites deps
// would lie on a cycle.
func (s *Service) checkAcyclic(ctx context.Context, id string, deps []string) error {
	edges, err := s.repo.ListDependencies(ctx)
	if err != nil {
		return err
	}
	kept := edges[:0]
	for _, e := range edges {
		if e.TaskID != id {
			kept = append(kept, e)
		}
	}
	for _, d := range deps {
		if d == id {
			return errors.Wrapf(domain.ErrCyclicDependency, "%s depends on itself", id)
		}
		kept = append(kept, domain.Dependency{TaskID: id, DependsOn: d})
	}
	_, err = graph.Build(kept).Chain(id)
	return err
}

// DeleteMainTask removes id with its sub-tasks. It fails with
// ErrHasDependents while tasks outside its own family depend on it.
func (s *Service) DeleteMainTask(ctx context.Context, id string) error {
	if err := s.repo.DeleteMainTask(ctx, id); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("main task deleted")
	s.reload(ctx)
	return nil
}

func (s *Service) DeleteSubTask(ctx context.Context, id, parentID string) error {
	if err := s.repo.DeleteSubTask(ctx, id, parentID); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("sub-task deleted")
	s.reload(ctx)
	return nil
}

// Dependents lists tasks declaring id as a prerequisite, excluding id's own
// sub-tasks.
func (s *Service) Dependents(ctx context.Context, id string) ([]string, error) {
	edges, err := s.repo.ListDependencies(ctx)
	if err != nil {
		return nil, err
	}
	own := make(map[string]bool)
	subs, err := s.repo.GetSubTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		own[sub.ID] = true
	}
	var out []string
	for _, d := range graph.Build(edges).Dependents(id) {
		if !own[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

// SetEnabled toggles a main task or a sub-task. Main tasks are reloaded so
// the job appears in or leaves the live schedule at once.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	view, err := s.repo.GetTaskByID(ctx, id)
	if err != nil {
		return err
	}
	if view.Kind == domain.KindSub {
		return s.repo.UpdateSubTask(ctx, id, store.SubTaskUpdate{Enabled: &enabled})
	}
	if err := s.repo.UpdateMainTask(ctx, id, store.MainTaskUpdate{Enabled: &enabled}); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Bool("enabled", enabled).Msg("task toggled")
	s.reload(ctx)
	return nil
}

func (s *Service) SetPriority(ctx context.Context, id string, priority int) error {
	return s.repo.SetPriority(ctx, id, priority)
}

func (s *Service) AddTags(ctx context.Context, id string, tags []string) ([]string, error) {
	return s.repo.AddTags(ctx, id, tags)
}

func (s *Service) RemoveTags(ctx context.Context, id string, tags []string) ([]string, error) {
	return s.repo.RemoveTags(ctx, id, tags)
}

func (s *Service) ReorderSubTasks(ctx context.Context, parentID string, ids []string) error {
	return s.repo.ReorderSubTasks(ctx, parentID, ids)
}

// ExecuteNow starts the chain of id in the background. The channel yields
// the chain result once it finishes.
func (s *Service) ExecuteNow(ctx context.Context, id string) (<-chan engine.ChainResult, error) {
	if _, err := s.repo.GetTaskByID(ctx, id); err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id).Msg("manual execution requested")
	return s.sched.ExecuteNow(id), nil
}

func (s *Service) GetTask(ctx context.Context, id string) (domain.TaskView, error) {
	return s.repo.GetTaskByID(ctx, id)
}

func (s *Service) ListMainTasks(ctx context.Context) ([]domain.MainTask, error) {
	return s.repo.GetAllMainTasks(ctx)
}

func (s *Service) ListSubTasks(ctx context.Context, parentID string) ([]domain.SubTask, error) {
	if _, err := s.repo.GetMainTask(ctx, parentID); err != nil {
		return nil, err
	}
	return s.repo.GetSubTasks(ctx, parentID)
}

func (s *Service) History(ctx context.Context, q store.HistoryQuery) (store.HistoryPage, error) {
	return s.repo.GetExecutionHistory(ctx, q)
}

func (s *Service) Chains(ctx context.Context, chainID string, limit int) ([]domain.ChainExecution, error) {
	return s.repo.ListChainExecutions(ctx, chainID, limit)
}

func (s *Service) Jobs() []engine.Job { return s.sched.Jobs() }

func (s *Service) Reload(ctx context.Context) error { return s.sched.Reload(ctx) }

func (s *Service) reload(ctx context.Context) {
	if err := s.sched.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler reload failed")
	}
}
