package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chainflow/internal/domain"
)

func (s *Server) view(r *http.Request, id string, withSubs bool) (taskView, error) {
	v, err := s.svc.GetTask(r.Context(), id)
	if err != nil {
		return taskView{}, err
	}
	if v.Kind == domain.KindSub {
		return subView(*v.Sub), nil
	}
	var subs []domain.SubTask
	if withSubs {
		if subs, err = s.svc.ListSubTasks(r.Context(), id); err != nil {
			return taskView{}, err
		}
	}
	return mainView(*v.Main, subs), nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	withSubs := true
	if v := r.URL.Query().Get("include_subtasks"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "include_subtasks must be a boolean")
			return
		}
		withSubs = b
	}

	if id := r.URL.Query().Get("task_id"); id != "" {
		v, err := s.view(r, id, withSubs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, success("ok", map[string]any{"tasks": []taskView{v}}))
		return
	}

	mains, err := s.svc.ListMainTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]taskView, 0, len(mains))
	for _, m := range mains {
		var subs []domain.SubTask
		if withSubs {
			if subs, err = s.svc.ListSubTasks(r.Context(), m.ID); err != nil {
				writeError(w, err)
				return
			}
		}
		views = append(views, mainView(m, subs))
	}
	writeJSON(w, http.StatusOK, success("ok", map[string]any{"tasks": views}))
}

type createTaskReq struct {
	TaskType string      `json:"task_type"`
	TaskID   string      `json:"task_id"`
	ParentID string      `json:"parent_id"`
	Config   configInput `json:"config"`
	Requires []string    `json:"requires"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if !decode(w, r, &req) {
		return
	}
	switch domain.TaskKind(req.TaskType) {
	case "", domain.KindMain:
		s.createMain(w, r, req)
	case domain.KindSub:
		if req.ParentID == "" {
			badRequest(w, "parent_id is required for sub-tasks")
			return
		}
		s.createSub(w, r, req.ParentID, req)
	default:
		badRequest(w, "task_type must be main or sub")
	}
}

func (s *Server) createMain(w http.ResponseWriter, r *http.Request, req createTaskReq) {
	ctx := r.Context()
	sched, err := req.Config.schedule(nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if sched == nil {
		badRequest(w, "schedule_type is required for main tasks")
		return
	}
	created, err := s.svc.CreateMainTask(ctx, domain.MainTask{
		Task:      req.Config.task(req.TaskID),
		Schedule:  sched,
		DependsOn: req.Requires,
		Status:    req.Config.status(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeCreated(w, r, created.ID)
}

func (s *Server) createSub(w http.ResponseWriter, r *http.Request, parentID string, req createTaskReq) {
	created, err := s.svc.CreateSubTask(r.Context(), parentID, domain.SubTask{
		Task:      req.Config.task(req.TaskID),
		DependsOn: req.Requires,
		Status:    req.Config.status(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeCreated(w, r, created.ID)
}

func (s *Server) writeCreated(w http.ResponseWriter, r *http.Request, id string) {
	v, err := s.view(r, id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, success("task created", map[string]any{"task_id": id, "task": v}))
}

type updateTaskReq struct {
	Config   configInput `json:"config"`
	Requires *[]string   `json:"requires"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req updateTaskReq
	if !decode(w, r, &req) {
		return
	}
	if p := req.Config.Priority; p != nil && (*p < domain.MinPriority || *p > domain.MaxPriority) {
		writeError(w, domain.ErrInvalidPriority)
		return
	}
	cur, err := s.svc.GetTask(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	if cur.Kind == domain.KindMain {
		sched, err := req.Config.schedule(cur.Main.Schedule)
		if err != nil {
			writeError(w, err)
			return
		}
		u := req.Config.mainUpdate(sched)
		u.Requires = req.Requires
		if _, err := s.svc.UpdateMainTask(ctx, id, u); err != nil {
			writeError(w, err)
			return
		}
	} else {
		if req.Config.touchesSchedule() {
			badRequest(w, "sub-tasks have no schedule")
			return
		}
		u := req.Config.subUpdate()
		u.Requires = req.Requires
		if _, err := s.svc.UpdateSubTask(ctx, id, u); err != nil {
			writeError(w, err)
			return
		}
	}

	v, err := s.view(r, id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("task updated", map[string]any{"task": v}))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	v, err := s.svc.GetTask(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if v.Kind == domain.KindSub {
		err = s.svc.DeleteSubTask(ctx, id, "")
	} else {
		err = s.svc.DeleteMainTask(ctx, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("task deleted", nil))
}

func (s *Server) executeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, err := s.svc.ExecuteNow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, success("task execution started", map[string]any{"task_id": id}))
		return
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			writeError(w, res.Err)
			return
		}
		writeJSON(w, http.StatusOK, success("task executed", map[string]any{"result": res}))
	case <-r.Context().Done():
	}
}

func (s *Server) enableTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		badRequest(w, "enabled is required")
		return
	}
	if err := s.svc.SetEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("task updated", map[string]any{"enabled": *req.Enabled}))
}

func (s *Server) setPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *int `json:"priority"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Priority == nil {
		badRequest(w, "priority is required")
		return
	}
	if err := s.svc.SetPriority(r.Context(), chi.URLParam(r, "id"), *req.Priority); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("priority updated", map[string]any{"priority": *req.Priority}))
}

type tagsReq struct {
	Tags []string `json:"tags"`
}

func (s *Server) addTags(w http.ResponseWriter, r *http.Request) {
	var req tagsReq
	if !decode(w, r, &req) {
		return
	}
	tags, err := s.svc.AddTags(r.Context(), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("tags updated", map[string]any{"tags": tags}))
}

func (s *Server) removeTags(w http.ResponseWriter, r *http.Request) {
	var req tagsReq
	if !decode(w, r, &req) {
		return
	}
	tags, err := s.svc.RemoveTags(r.Context(), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("tags updated", map[string]any{"tags": tags}))
}

func (s *Server) listSubTasks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.ListSubTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]taskView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subView(sub))
	}
	writeJSON(w, http.StatusOK, success("ok", map[string]any{"sub_tasks": views}))
}

func (s *Server) createSubTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if !decode(w, r, &req) {
		return
	}
	s.createSub(w, r, chi.URLParam(r, "id"), req)
}

func (s *Server) reorderSubTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.ReorderSubTasks(r.Context(), chi.URLParam(r, "id"), req.Order); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("sub-tasks reordered", nil))
}

func (s *Server) deleteSubTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSubTask(r.Context(), chi.URLParam(r, "subID"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("sub-task deleted", nil))
}
