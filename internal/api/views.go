package api

import (
	"time"

	"github.com/guregu/null/v6"

	"chainflow/internal/config"
	"chainflow/internal/domain"
	"chainflow/internal/engine"
	"chainflow/internal/store"
)

type taskView struct {
	TaskID       string          `json:"task_id"`
	TaskType     domain.TaskKind `json:"task_type"`
	Config       configView      `json:"config"`
	Execution    executionView   `json:"execution"`
	ParentID     *string         `json:"parent_id,omitempty"`
	Sequence     int             `json:"sequence_number,omitempty"`
	DependsOn    []string        `json:"depends_on,omitempty"`
	SubTasks     []taskView      `json:"sub_tasks,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastModified time.Time       `json:"last_modified"`
}

type configView struct {
	Name          string               `json:"name"`
	Endpoint      string               `json:"endpoint"`
	Method        domain.Method        `json:"method"`
	Params        domain.Params        `json:"params"`
	ScheduleType  domain.ScheduleKind  `json:"schedule_type,omitempty"`
	ScheduleTime  *string              `json:"schedule_time,omitempty"`
	ScheduleDelay *int                 `json:"schedule_delay,omitempty"`
	IntervalValue *int                 `json:"interval_value,omitempty"`
	IntervalUnit  *domain.IntervalUnit `json:"interval_unit,omitempty"`
	Enabled       bool                 `json:"enabled"`
	Priority      int                  `json:"priority"`
	Tags          []string             `json:"tags"`
}

type executionView struct {
	LastRun     null.Time   `json:"last_run"`
	NextRun     null.Time   `json:"next_run"`
	Status      string      `json:"status"`
	SuccessRate float64     `json:"success_rate"`
	AvgDuration float64     `json:"avg_duration"`
	TotalRuns   int         `json:"total_runs"`
	SuccessRuns int         `json:"success_runs"`
	FailRuns    int         `json:"fail_runs"`
	LastError   null.String `json:"last_error"`
}

func baseConfig(t domain.Task, st domain.Status) configView {
	tags := st.Tags
	if tags == nil {
		tags = []string{}
	}
	params := t.Params
	if params == nil {
		params = domain.Params{}
	}
	return configView{
		Name:     t.Name,
		Endpoint: t.Endpoint,
		Method:   t.Method,
		Params:   params,
		Enabled:  t.Enabled,
		Priority: st.Priority,
		Tags:     tags,
	}
}

func execution(st domain.Status) executionView {
	status := st.LastStatus.ValueOrZero()
	if status == "" {
		status = "pending"
	}
	return executionView{
		LastRun:     st.LastRunTime,
		NextRun:     st.NextRunTime,
		Status:      status,
		SuccessRate: st.SuccessRate,
		AvgDuration: st.AvgDuration,
		TotalRuns:   st.TotalRuns,
		SuccessRuns: st.SuccessRuns,
		FailRuns:    st.FailRuns,
		LastError:   st.LastError,
	}
}

func mainView(t domain.MainTask, subs []domain.SubTask) taskView {
	cfg := baseConfig(t.Task, t.Status)
	if t.Schedule != nil {
		cfg.ScheduleType = t.Schedule.Kind()
	}
	switch s := t.Schedule.(type) {
	case domain.Daily:
		cfg.ScheduleTime = &s.At
	case domain.Once:
		cfg.ScheduleDelay = &s.DelaySeconds
	case domain.Interval:
		cfg.IntervalValue = &s.Every
		cfg.IntervalUnit = &s.Unit
	}
	v := taskView{
		TaskID:       t.ID,
		TaskType:     domain.KindMain,
		Config:       cfg,
		Execution:    execution(t.Status),
		DependsOn:    t.DependsOn,
		CreatedAt:    t.CreatedAt,
		LastModified: t.ModifiedAt,
	}
	for _, s := range subs {
		v.SubTasks = append(v.SubTasks, subView(s))
	}
	return v
}

func subView(t domain.SubTask) taskView {
	parent := t.ParentID
	return taskView{
		TaskID:       t.ID,
		TaskType:     domain.KindSub,
		Config:       baseConfig(t.Task, t.Status),
		Execution:    execution(t.Status),
		ParentID:     &parent,
		Sequence:     t.Sequence,
		DependsOn:    t.DependsOn,
		CreatedAt:    t.CreatedAt,
		LastModified: t.ModifiedAt,
	}
}

// configInput is the writable part of a task. Absent fields stay unchanged
// on update.
type configInput struct {
	Name          *string        `json:"name"`
	Endpoint      *string        `json:"endpoint"`
	Method        *string        `json:"method"`
	Params        *domain.Params `json:"params"`
	Enabled       *bool          `json:"enabled"`
	ScheduleType  *string        `json:"schedule_type"`
	ScheduleTime  *string        `json:"schedule_time"`
	ScheduleDelay *int           `json:"schedule_delay"`
	IntervalValue *int           `json:"interval_value"`
	IntervalUnit  *string        `json:"interval_unit"`
	Priority      *int           `json:"priority"`
	Tags          []string       `json:"tags"`
}

func (c configInput) task(id string) domain.Task {
	t := domain.Task{ID: id, Enabled: true}
	if c.Name != nil {
		t.Name = *c.Name
	}
	if c.Endpoint != nil {
		t.Endpoint = *c.Endpoint
	}
	if c.Method != nil {
		t.Method = domain.Method(*c.Method)
	}
	if c.Params != nil {
		t.Params = *c.Params
	}
	if c.Enabled != nil {
		t.Enabled = *c.Enabled
	}
	return t
}

func (c configInput) status() domain.Status {
	st := domain.Status{Tags: c.Tags}
	if c.Priority != nil {
		st.Priority = *c.Priority
	}
	return st
}

func (c configInput) touchesSchedule() bool {
	return c.ScheduleType != nil || c.ScheduleTime != nil || c.ScheduleDelay != nil ||
		c.IntervalValue != nil || c.IntervalUnit != nil
}

// schedule overlays the given schedule fields on cur. It returns nil when no
// schedule field was sent.
func (c configInput) schedule(cur domain.Schedule) (domain.Schedule, error) {
	if !c.touchesSchedule() {
		return nil, nil
	}
	var def config.ScheduleDef
	switch s := cur.(type) {
	case domain.Daily:
		def = config.ScheduleDef{Type: string(domain.ScheduleDaily), Time: s.At}
	case domain.Once:
		def = config.ScheduleDef{Type: string(domain.ScheduleOnce), Delay: s.DelaySeconds}
	case domain.Interval:
		def = config.ScheduleDef{Type: string(domain.ScheduleInterval), Interval: s.Every, Unit: string(s.Unit)}
	}
	if c.ScheduleType != nil {
		def.Type = *c.ScheduleType
	}
	if c.ScheduleTime != nil {
		def.Time = *c.ScheduleTime
	}
	if c.ScheduleDelay != nil {
		def.Delay = *c.ScheduleDelay
	}
	if c.IntervalValue != nil {
		def.Interval = *c.IntervalValue
	}
	if c.IntervalUnit != nil {
		def.Unit = *c.IntervalUnit
	}
	return def.Schedule()
}

func (c configInput) mainUpdate(sched domain.Schedule) store.MainTaskUpdate {
	u := store.MainTaskUpdate{
		Name:     c.Name,
		Endpoint: c.Endpoint,
		Params:   c.Params,
		Enabled:  c.Enabled,
		Schedule: sched,
		Priority: c.Priority,
	}
	if c.Method != nil {
		m := domain.Method(*c.Method)
		u.Method = &m
	}
	return u
}

func (c configInput) subUpdate() store.SubTaskUpdate {
	u := store.SubTaskUpdate{
		Name:     c.Name,
		Endpoint: c.Endpoint,
		Params:   c.Params,
		Enabled:  c.Enabled,
		Priority: c.Priority,
	}
	if c.Method != nil {
		m := domain.Method(*c.Method)
		u.Method = &m
	}
	return u
}

type executionRecord struct {
	ID          int64       `json:"id"`
	TaskID      string      `json:"task_id"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     null.Time   `json:"end_time"`
	Duration    null.Float  `json:"duration"`
	Status      string      `json:"status"`
	Error       null.String `json:"error_message"`
	Output      null.String `json:"output"`
	TriggeredBy null.String `json:"triggered_by"`
}

func executionRecords(execs []domain.Execution) []executionRecord {
	out := make([]executionRecord, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionRecord(e))
	}
	return out
}

type chainRecord struct {
	ID             int64       `json:"id"`
	ChainID        string      `json:"chain_id"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        null.Time   `json:"end_time"`
	Status         string      `json:"status"`
	TasksExecuted  int         `json:"tasks_executed"`
	TasksSucceeded int         `json:"tasks_succeeded"`
	TasksFailed    int         `json:"tasks_failed"`
	Error          null.String `json:"error_message"`
}

func chainRecords(chains []domain.ChainExecution) []chainRecord {
	out := make([]chainRecord, 0, len(chains))
	for _, c := range chains {
		out = append(out, chainRecord(c))
	}
	return out
}

func historyPage(p store.HistoryPage) map[string]any {
	return map[string]any{
		"records":     executionRecords(p.Executions),
		"total":       p.Total,
		"page":        p.Page,
		"page_size":   p.PageSize,
		"total_pages": p.TotalPages,
	}
}

func jobList(jobs []engine.Job) []engine.Job {
	if jobs == nil {
		return []engine.Job{}
	}
	return jobs
}
