package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
)

type taskColumns struct {
	ID         string      `db:"task_id"`
	Name       string      `db:"name"`
	Endpoint   string      `db:"endpoint"`
	Method     string      `db:"method"`
	Params     null.String `db:"params"`
	Enabled    bool        `db:"enabled"`
	CreatedAt  time.Time   `db:"created_at"`
	ModifiedAt time.Time   `db:"last_modified"`
}

type statusColumns struct {
	LastRunTime null.Time   `db:"last_run_time"`
	NextRunTime null.Time   `db:"next_run_time"`
	LastStatus  null.String `db:"last_status"`
	TotalRuns   int         `db:"total_runs"`
	SuccessRuns int         `db:"success_runs"`
	FailRuns    int         `db:"fail_runs"`
	SuccessRate float64     `db:"success_rate"`
	AvgDuration float64     `db:"avg_duration"`
	LastError   null.String `db:"last_error"`
	Priority    int         `db:"priority"`
	Tags        string      `db:"tags"`
}

type mainTaskRow struct {
	taskColumns
	ScheduleType  string        `db:"schedule_type"`
	ScheduleTime  null.String   `db:"schedule_time"`
	ScheduleDelay sql.NullInt64 `db:"schedule_delay"`
	IntervalValue sql.NullInt64 `db:"interval_value"`
	IntervalUnit  null.String   `db:"interval_unit"`
	statusColumns
}

type subTaskRow struct {
	taskColumns
	ParentID string `db:"parent_id"`
	Sequence int    `db:"sequence_number"`
	statusColumns
}

const statusSelect = `
       s.last_run_time, s.next_run_time, s.last_status,
       COALESCE(s.total_runs, 0) AS total_runs, COALESCE(s.success_runs, 0) AS success_runs,
       COALESCE(s.fail_runs, 0) AS fail_runs, COALESCE(s.success_rate, 0.0) AS success_rate,
       COALESCE(s.avg_duration, 0.0) AS avg_duration, s.last_error,
       COALESCE(s.priority, 0) AS priority, COALESCE(s.tags, '[]') AS tags`

const mainTaskSelect = `
SELECT m.task_id, m.name, m.endpoint, m.method, m.params, m.enabled, m.created_at, m.last_modified,
       m.schedule_type, m.schedule_time, m.schedule_delay, m.interval_value, m.interval_unit,` + statusSelect + `
FROM main_tasks m LEFT JOIN task_status s ON s.task_id = m.task_id`

const subTaskSelect = `
SELECT st.task_id, st.name, st.endpoint, st.method, st.params, st.enabled, st.created_at, st.last_modified,
       st.parent_id, st.sequence_number,` + statusSelect + `
FROM sub_tasks st LEFT JOIN task_status s ON s.task_id = st.task_id`

func (c taskColumns) task() domain.Task {
	return domain.Task{
		ID:         c.ID,
		Name:       c.Name,
		Endpoint:   c.Endpoint,
		Method:     domain.Method(c.Method),
		Params:     decodeParams(c.ID, c.Params),
		Enabled:    c.Enabled,
		CreatedAt:  c.CreatedAt,
		ModifiedAt: c.ModifiedAt,
	}
}

func (c statusColumns) status() domain.Status {
	return domain.Status{
		LastRunTime: c.LastRunTime,
		NextRunTime: c.NextRunTime,
		LastStatus:  c.LastStatus,
		TotalRuns:   c.TotalRuns,
		SuccessRuns: c.SuccessRuns,
		FailRuns:    c.FailRuns,
		SuccessRate: c.SuccessRate,
		AvgDuration: c.AvgDuration,
		LastError:   c.LastError,
		Priority:    c.Priority,
		Tags:        decodeTags(c.Tags),
	}
}

func (r mainTaskRow) mainTask() domain.MainTask {
	return domain.MainTask{
		Task: r.task(),
		Schedule: scheduleFromColumns(scheduleColumns{
			Type:  r.ScheduleType,
			Time:  r.ScheduleTime,
			Delay: r.ScheduleDelay,
			Every: r.IntervalValue,
			Unit:  r.IntervalUnit,
		}),
		Status: r.status(),
	}
}

func (r subTaskRow) subTask() domain.SubTask {
	return domain.SubTask{
		Task:     r.task(),
		ParentID: r.ParentID,
		Sequence: r.Sequence,
		Status:   r.status(),
	}
}

type scheduleColumns struct {
	Type  string
	Time  null.String
	Delay sql.NullInt64
	Every sql.NullInt64
	Unit  null.String
}

// scheduleToColumns writes every schedule column, so switching variants
// clears the fields of the previous one.
func scheduleToColumns(s domain.Schedule) (scheduleColumns, error) {
	switch v := s.(type) {
	case domain.Daily:
		return scheduleColumns{Type: string(domain.ScheduleDaily), Time: null.NewString(v.At, v.At != "")}, nil
	case domain.Interval:
		return scheduleColumns{
			Type:  string(domain.ScheduleInterval),
			Every: sql.NullInt64{Int64: int64(v.Every), Valid: true},
			Unit:  null.NewString(string(v.Unit), v.Unit != ""),
		}, nil
	case domain.Once:
		return scheduleColumns{Type: string(domain.ScheduleOnce), Delay: sql.NullInt64{Int64: int64(v.DelaySeconds), Valid: true}}, nil
	}
	return scheduleColumns{}, errors.Wrap(domain.ErrInvalidSchedule, "missing schedule")
}

func scheduleFromColumns(c scheduleColumns) domain.Schedule {
	switch domain.ScheduleKind(c.Type) {
	case domain.ScheduleDaily:
		return domain.Daily{At: c.Time.ValueOrZero()}
	case domain.ScheduleInterval:
		return domain.Interval{Every: int(c.Every.Int64), Unit: domain.IntervalUnit(c.Unit.ValueOrZero())}
	case domain.ScheduleOnce:
		return domain.Once{DelaySeconds: int(c.Delay.Int64)}
	}
	return nil
}

func encodeParams(p domain.Params) (null.String, error) {
	if len(p) == 0 {
		return null.String{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return null.String{}, errors.Wrap(domain.ErrInvalidTask, "params are not JSON-encodable")
	}
	return null.StringFrom(string(b)), nil
}

func decodeParams(taskID string, s null.String) domain.Params {
	if !s.Valid || strings.TrimSpace(s.String) == "" || s.String == "null" {
		return nil
	}
	var p domain.Params
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("stored params are not a JSON object")
		return nil
	}
	return p
}

func encodeTags(tags []string) string {
	b, _ := json.Marshal(normalizeTags(tags))
	return string(b)
}

func decodeTags(s string) []string {
	tags := []string{}
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

// normalizeTags trims, drops empties and deduplicates while keeping order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// validateTask normalizes the shared fields in place.
func validateTask(t *domain.Task) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return errors.Wrap(domain.ErrInvalidTask, "task id is required")
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.Wrapf(domain.ErrInvalidTask, "task %s: endpoint is required", t.ID)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	m, err := normalizeMethod(t.Method)
	if err != nil {
		return errors.Wrapf(err, "task %s", t.ID)
	}
	t.Method = m
	return nil
}

func normalizeMethod(m domain.Method) (domain.Method, error) {
	switch domain.Method(strings.ToUpper(strings.TrimSpace(string(m)))) {
	case "", domain.MethodGet:
		return domain.MethodGet, nil
	case domain.MethodPost:
		return domain.MethodPost, nil
	}
	return "", errors.Wrapf(domain.ErrInvalidTask, "unsupported method %q", m)
}
