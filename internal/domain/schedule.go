package domain

import (
	"fmt"
	"strings"
)

type ScheduleKind string

const (
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
)

// Schedule is a sealed variant: Daily, Interval or Once.
type Schedule interface {
	Kind() ScheduleKind
	String() string
	isSchedule()
}

// Daily fires once a day at wall-clock At ("HH:MM").
type Daily struct {
	At string
}

// Interval fires every Every units, measured from the previous completion.
type Interval struct {
	Every int
	Unit  IntervalUnit
}

// Once fires a single time DelaySeconds after it is armed.
type Once struct {
	DelaySeconds int
}

func (Daily) Kind() ScheduleKind    { return ScheduleDaily }
func (Interval) Kind() ScheduleKind { return ScheduleInterval }
func (Once) Kind() ScheduleKind     { return ScheduleOnce }

func (d Daily) String() string    { return "daily at " + d.At }
func (i Interval) String() string { return fmt.Sprintf("every %d %s", i.Every, i.Unit) }
func (o Once) String() string     { return fmt.Sprintf("once after %ds", o.DelaySeconds) }

func (Daily) isSchedule()    {}
func (Interval) isSchedule() {}
func (Once) isSchedule()     {}

type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
	UnitWeeks   IntervalUnit = "weeks"
	UnitMonths  IntervalUnit = "months"
	UnitYears   IntervalUnit = "years"
)

// ParseIntervalUnit accepts plural or singular unit names, case-insensitive.
func ParseIntervalUnit(s string) (IntervalUnit, bool) {
	u := strings.ToLower(strings.TrimSpace(s))
	if u != "" && !strings.HasSuffix(u, "s") {
		u += "s"
	}
	switch IntervalUnit(u) {
	case UnitMinutes, UnitHours, UnitDays, UnitWeeks, UnitMonths, UnitYears:
		return IntervalUnit(u), true
	}
	return "", false
}
