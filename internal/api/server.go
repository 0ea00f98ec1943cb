// Package api serves the admin control surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"chainflow/internal/admin"
	"chainflow/internal/domain"
)

const maxRequestBody = 1 << 20

type Server struct {
	r   *chi.Mux
	svc *admin.Service
}

func NewServer(svc *admin.Service, gatherer prometheus.Gatherer) http.Handler {
	return NewServerWithDebug(svc, gatherer, false)
}

func NewServerWithDebug(svc *admin.Service, gatherer prometheus.Gatherer, enableDebug bool) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, svc: svc}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Put("/", s.updateTask)
			r.Delete("/", s.deleteTask)
			r.Post("/execute", s.executeTask)
			r.Post("/enable", s.enableTask)
			r.Put("/priority", s.setPriority)
			r.Post("/tags", s.addTags)
			r.Delete("/tags", s.removeTags)
			r.Get("/subtasks", s.listSubTasks)
			r.Post("/subtasks", s.createSubTask)
			r.Put("/subtasks/order", s.reorderSubTasks)
			r.Delete("/subtasks/{subID}", s.deleteSubTask)
		})
		r.Get("/history", s.history)
		r.Get("/chains", s.chains)
		r.Get("/scheduler/jobs", s.jobs)
		r.Post("/scheduler/reload", s.reload)
	})

	if enableDebug {
		r.Mount("/debug", middleware.Profiler())
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"jobs":   len(s.svc.Jobs()),
	})
}

// success builds the reply envelope with extra keys merged in.
func success(message string, extra map[string]any) map[string]any {
	out := map[string]any{"status": "success", "message": message}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]any{"status": "error", "message": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateTaskID), errors.Is(err, domain.ErrHasDependents):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSetMismatch),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidTask),
		errors.Is(err, domain.ErrCyclicDependency):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
