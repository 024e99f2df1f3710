// Package schedule computes when a check item is due next.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dashpulse/internal/domain"
)

var (
	// ErrNoSchedule means neither an interval nor a cron rule is set.
	ErrNoSchedule = fmt.Errorf("%w: no schedule configured", domain.ErrConfiguration)
	// ErrNeverMatches means a cron rule has no future fire time (e.g. Feb 30).
	ErrNeverMatches = fmt.Errorf("%w: cron rule never matches", domain.ErrConfiguration)
)

// Standard five-field crontab, with month/day names and @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the next due time for spec.
//
// Interval rules add Every*Unit to startAt, independent of now, so missed
// fires catch up one step per call. Cron rules return the first match
// strictly after now in the rule's timezone (UTC when empty).
// Every error wraps domain.ErrConfiguration.
func NextRun(spec domain.ScheduleSpec, startAt, now time.Time) (time.Time, error) {
	if iv := spec.Interval; iv != nil {
		step := iv.Unit.Duration()
		if step == 0 {
			return time.Time{}, fmt.Errorf("%w: unknown interval unit %q", domain.ErrConfiguration, iv.Unit)
		}
		if iv.Every == 0 {
			return time.Time{}, fmt.Errorf("%w: interval every must be > 0", domain.ErrConfiguration)
		}
		return startAt.Add(time.Duration(iv.Every) * step), nil
	}
	if cs := spec.Cron; cs != nil {
		return nextCron(*cs, now)
	}
	return time.Time{}, ErrNoSchedule
}

func nextCron(cs domain.CronSpec, now time.Time) (time.Time, error) {
	loc, err := location(cs.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	expr := Expression(cs)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid cron %q: %v", domain.ErrConfiguration, expr, err)
	}
	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w (%q)", ErrNeverMatches, expr)
	}
	return next, nil
}

// Expression renders the rule as "minute hour dom month dow".
func Expression(cs domain.CronSpec) string {
	f := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return "*"
		}
		return s
	}
	return strings.Join([]string{f(cs.Minute), f(cs.Hour), f(cs.DayOfMonth), f(cs.MonthOfYear), f(cs.DayOfWeek)}, " ")
}

func location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", domain.ErrConfiguration, tz, err)
	}
	return loc, nil
}

// IsConfigError reports whether err means the item can never be scheduled as-is.
func IsConfigError(err error) bool { return errors.Is(err, domain.ErrConfiguration) }
