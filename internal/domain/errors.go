package domain

import "github.com/pkg/errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrDuplicateTaskID  = errors.New("duplicate task id")
	ErrParentNotFound   = errors.New("parent task not found")
	ErrSetMismatch      = errors.New("sub-task ids do not match current children")
	ErrHasDependents    = errors.New("task has dependents")
	ErrInvalidPriority  = errors.New("priority must be between 0 and 10")
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrInvalidSchedule  = errors.New("invalid schedule")
	ErrInvalidTask      = errors.New("invalid task")
)

const (
	MinPriority = 0
	MaxPriority = 10
)
