package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/guregu/null/v6"

	"chainflow/internal/store"
)

const dateLayout = "2006-01-02"

// history serves the paginated execution log. Date bounds are whole UTC days
// and both are inclusive.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := store.HistoryQuery{
		TaskID: q.Get("task_id"),
		Status: q.Get("status"),
	}
	var err error
	if v := q.Get("include_subtasks"); v != "" {
		if hq.IncludeSubtasks, err = strconv.ParseBool(v); err != nil {
			badRequest(w, "include_subtasks must be a boolean")
			return
		}
	}
	if v := q.Get("start_date"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			badRequest(w, "start_date must be YYYY-MM-DD")
			return
		}
		hq.From = null.TimeFrom(d)
	}
	if v := q.Get("end_date"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			badRequest(w, "end_date must be YYYY-MM-DD")
			return
		}
		hq.To = null.TimeFrom(d.AddDate(0, 0, 1))
	}
	if hq.Page, err = intParam(q.Get("page"), 1); err != nil {
		badRequest(w, "page must be an integer")
		return
	}
	if hq.PageSize, err = intParam(q.Get("page_size"), store.DefaultPageSize); err != nil {
		badRequest(w, "page_size must be an integer")
		return
	}

	page, err := s.svc.History(r.Context(), hq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("ok", map[string]any{"data": historyPage(page)}))
}

func (s *Server) chains(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), store.DefaultPageSize)
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	chains, err := s.svc.Chains(r.Context(), r.URL.Query().Get("chain_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("ok", map[string]any{"chains": chainRecords(chains)}))
}

func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, success("ok", map[string]any{"jobs": jobList(s.svc.Jobs())}))
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success("scheduler reloaded", map[string]any{"jobs": jobList(s.svc.Jobs())}))
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
