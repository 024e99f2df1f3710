package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects what "do the check" means for an item.
type Kind string

const (
	// KindNotify sends the target to the review bot in a batch.
	KindNotify Kind = "notify"
	// KindAudit runs a page-performance audit and ships metrics.
	KindAudit Kind = "audit"
	// KindHTTP runs a plain availability probe and ships metrics.
	KindHTTP Kind = "http"
)

var allKinds = []Kind{KindNotify, KindAudit, KindHTTP}

// Kinds lists every supported kind.
func Kinds() []Kind { return append([]Kind(nil), allKinds...) }

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range allKinds {
		if v == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrValidation, s)
}

// FansOut reports whether units of this kind are dispatched one task each.
func (k Kind) FansOut() bool { return k == KindAudit || k == KindHTTP }

// TimeUnit is the unit of an interval schedule.
type TimeUnit string

const (
	Days         TimeUnit = "days"
	Hours        TimeUnit = "hours"
	Minutes      TimeUnit = "minutes"
	Seconds      TimeUnit = "seconds"
	Microseconds TimeUnit = "microseconds"
)

// Duration returns the length of one unit, or 0 for an unknown unit.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case Days:
		return 24 * time.Hour
	case Hours:
		return time.Hour
	case Minutes:
		return time.Minute
	case Seconds:
		return time.Second
	case Microseconds:
		return time.Microsecond
	default:
		return 0
	}
}

// IntervalSpec fires every Every*Unit after the current start time.
type IntervalSpec struct {
	Every uint
	Unit  TimeUnit
}

// CronSpec is a crontab rule evaluated in Timezone. Empty fields mean "*".
type CronSpec struct {
	Minute      string
	Hour        string
	DayOfWeek   string
	DayOfMonth  string
	MonthOfYear string
	Timezone    string
}

// ScheduleSpec carries at most one effective rule. When both are set,
// Interval wins.
type ScheduleSpec struct {
	Interval *IntervalSpec
	Cron     *CronSpec
}

// IsZero reports whether neither rule is set.
func (s ScheduleSpec) IsZero() bool { return s.Interval == nil && s.Cron == nil }

// CheckItem is a schedulable unit. StartAt is the next due time.
type CheckItem struct {
	ID          int64
	Kind        Kind
	Target      Target
	Description string
	IsActive    bool
	StartAt     time.Time
	Schedule    ScheduleSpec
}

// Due reports whether the item should be picked up at now.
func (it CheckItem) Due(now time.Time) bool {
	return it.IsActive && it.Target.IsActive && !it.StartAt.After(now)
}
