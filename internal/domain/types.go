package domain

import (
	"time"

	"github.com/guregu/null/v6"
)

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

type TaskKind string

const (
	KindMain TaskKind = "main"
	KindSub  TaskKind = "sub"
)

// Outcome values stored for executions and task status.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Chain execution states.
const (
	ChainRunning = "running"
	ChainSuccess = "success"
	ChainPartial = "partial"
	ChainFail    = "fail"
)

// Params is the JSON parameter map sent with a task's HTTP call.
type Params map[string]any

// Task holds the fields shared by main tasks and sub-tasks.
type Task struct {
	ID         string
	Name       string
	Endpoint   string
	Method     Method
	Params     Params
	Enabled    bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type MainTask struct {
	Task
	Schedule  Schedule
	DependsOn []string
	Status    Status
}

type SubTask struct {
	Task
	ParentID  string
	Sequence  int
	DependsOn []string
	Status    Status
}

// TaskView is the result of a lookup by id. Exactly one of Main and Sub is set.
type TaskView struct {
	Kind TaskKind
	Main *MainTask
	Sub  *SubTask
}

func (v TaskView) Base() Task {
	if v.Main != nil {
		return v.Main.Task
	}
	return v.Sub.Task
}

func (v TaskView) Status() Status {
	if v.Main != nil {
		return v.Main.Status
	}
	return v.Sub.Status
}

// Status is the per-task statistics row maintained by the engine.
type Status struct {
	LastRunTime null.Time
	NextRunTime null.Time
	LastStatus  null.String
	TotalRuns   int
	SuccessRuns int
	FailRuns    int
	SuccessRate float64 // percent
	AvgDuration float64 // seconds
	LastError   null.String
	Priority    int
	Tags        []string
}

type Dependency struct {
	TaskID    string `db:"task_id"`
	DependsOn string `db:"depends_on"`
}

// Execution is one append-only attempt record.
type Execution struct {
	ID          int64       `db:"id"`
	TaskID      string      `db:"task_id"`
	StartTime   time.Time   `db:"start_time"`
	EndTime     null.Time   `db:"end_time"`
	Duration    null.Float  `db:"duration"` // seconds
	Status      string      `db:"status"`
	Error       null.String `db:"error_message"`
	Output      null.String `db:"output"`
	TriggeredBy null.String `db:"triggered_by"`
}

type ChainExecution struct {
	ID             int64       `db:"id"`
	ChainID        string      `db:"chain_id"`
	StartTime      time.Time   `db:"start_time"`
	EndTime        null.Time   `db:"end_time"`
	Status         string      `db:"status"`
	TasksExecuted  int         `db:"tasks_executed"`
	TasksSucceeded int         `db:"tasks_succeeded"`
	TasksFailed    int         `db:"tasks_failed"`
	Error          null.String `db:"error_message"`
}
