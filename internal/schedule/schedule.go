// Package schedule computes next run times for task schedules.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
)

// Next returns the next run of s relative to ref. It reports false when s is
// malformed; the reason is logged so one bad task never blocks the others.
func Next(s domain.Schedule, ref time.Time) (time.Time, bool) {
	t, err := next(s, ref)
	if err != nil {
		log.Warn().Err(err).Msg("cannot compute next run")
		return time.Time{}, false
	}
	return t, true
}

// Validate reports why s cannot be scheduled, wrapping domain.ErrInvalidSchedule.
func Validate(s domain.Schedule) error {
	_, err := next(s, time.Now())
	return err
}

func next(s domain.Schedule, ref time.Time) (time.Time, error) {
	switch v := s.(type) {
	case domain.Daily:
		return nextDaily(v.At, ref)
	case domain.Interval:
		if v.Every <= 0 {
			return time.Time{}, errors.Wrapf(domain.ErrInvalidSchedule, "interval must be positive, got %d", v.Every)
		}
		if _, ok := domain.ParseIntervalUnit(string(v.Unit)); !ok {
			return time.Time{}, errors.Wrapf(domain.ErrInvalidSchedule, "unknown interval unit %q", v.Unit)
		}
		return AddInterval(ref, v.Every, v.Unit), nil
	case domain.Once:
		if v.DelaySeconds < 0 {
			return time.Time{}, errors.Wrapf(domain.ErrInvalidSchedule, "negative delay %d", v.DelaySeconds)
		}
		return ref.Add(time.Duration(v.DelaySeconds) * time.Second), nil
	case nil:
		return time.Time{}, errors.Wrap(domain.ErrInvalidSchedule, "missing schedule")
	default:
		return time.Time{}, errors.Wrapf(domain.ErrInvalidSchedule, "unsupported schedule %T", s)
	}
}

// ParseTimeOfDay parses "HH:MM" (a single-digit hour is accepted).
func ParseTimeOfDay(at string) (hour, minute int, err error) {
	at = strings.TrimSpace(at)
	if at == "" {
		return 0, 0, errors.Wrap(domain.ErrInvalidSchedule, "daily schedule without time")
	}
	t, perr := time.Parse("15:04", at)
	if perr != nil {
		return 0, 0, errors.Wrapf(domain.ErrInvalidSchedule, "bad time of day %q", at)
	}
	return t.Hour(), t.Minute(), nil
}

// nextDaily returns today at HH:MM when that is still ahead of ref, otherwise
// tomorrow at HH:MM, in ref's location.
func nextDaily(at string, ref time.Time) (time.Time, error) {
	h, m, err := ParseTimeOfDay(at)
	if err != nil {
		return time.Time{}, err
	}
	expr, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", m, h))
	if err != nil {
		return time.Time{}, errors.Wrapf(domain.ErrInvalidSchedule, "daily %q: %v", at, err)
	}
	return expr.Next(ref), nil
}

// AddInterval adds n units to ref. Month and year steps clamp the day of month
// to the last day of the resulting month.
func AddInterval(ref time.Time, n int, unit domain.IntervalUnit) time.Time {
	u, _ := domain.ParseIntervalUnit(string(unit))
	switch u {
	case domain.UnitMinutes:
		return ref.Add(time.Duration(n) * time.Minute)
	case domain.UnitHours:
		return ref.Add(time.Duration(n) * time.Hour)
	case domain.UnitDays:
		return ref.AddDate(0, 0, n)
	case domain.UnitWeeks:
		return ref.AddDate(0, 0, 7*n)
	case domain.UnitMonths:
		return addMonths(ref, n)
	case domain.UnitYears:
		return addMonths(ref, 12*n)
	}
	return ref
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	// normalize year/month through the first of the target month
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
