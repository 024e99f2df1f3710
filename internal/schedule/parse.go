package schedule

import (
	"fmt"
	"strings"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/scheduler"
)

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// ParseSpec turns the textual shorthand used by config import into a
// ScheduleSpec. It accepts every form the trigger service accepts
// ("every:60m", "interval:01:30", "cron:*/5 * * * *", bare cron, bare
// duration). A "TZ=<zone> " prefix on a cron expression sets its timezone.
func ParseSpec(raw string) (domain.ScheduleSpec, error) {
	raw = strings.TrimSpace(raw)
	tz := ""
	if rest, ok := cutTZ(raw); ok {
		tz, raw = rest[0], rest[1]
	}

	ps, err := scheduler.ParseSchedule(raw)
	if err != nil {
		return domain.ScheduleSpec{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	switch ps.Kind {
	case scheduler.SpecInterval:
		if tz != "" {
			return domain.ScheduleSpec{}, fmt.Errorf("%w: timezone only applies to cron schedules", domain.ErrConfiguration)
		}
		iv, err := intervalOf(ps.Every)
		if err != nil {
			return domain.ScheduleSpec{}, err
		}
		return domain.ScheduleSpec{Interval: &iv}, nil
	default:
		expr := strings.TrimSpace(ps.Cron)
		if strings.HasPrefix(expr, "@every") {
			d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every")))
			if err != nil {
				return domain.ScheduleSpec{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
			}
			iv, err := intervalOf(d)
			if err != nil {
				return domain.ScheduleSpec{}, err
			}
			return domain.ScheduleSpec{Interval: &iv}, nil
		}
		if full, ok := descriptors[strings.ToLower(expr)]; ok {
			expr = full
		}
		fields := strings.Fields(expr)
		if len(fields) != 5 {
			return domain.ScheduleSpec{}, fmt.Errorf("%w: cron %q must have 5 fields", domain.ErrConfiguration, expr)
		}
		cs := domain.CronSpec{
			Minute:      fields[0],
			Hour:        fields[1],
			DayOfMonth:  fields[2],
			MonthOfYear: fields[3],
			DayOfWeek:   fields[4],
			Timezone:    tz,
		}
		if _, err := parser.Parse(Expression(cs)); err != nil {
			return domain.ScheduleSpec{}, fmt.Errorf("%w: invalid cron %q: %v", domain.ErrConfiguration, expr, err)
		}
		if _, err := location(tz); err != nil {
			return domain.ScheduleSpec{}, err
		}
		return domain.ScheduleSpec{Cron: &cs}, nil
	}
}

func cutTZ(raw string) ([2]string, bool) {
	for _, p := range []string{"TZ=", "CRON_TZ="} {
		if strings.HasPrefix(raw, p) {
			tz, rest, ok := strings.Cut(raw[len(p):], " ")
			if !ok {
				return [2]string{}, false
			}
			return [2]string{tz, strings.TrimSpace(rest)}, true
		}
	}
	return [2]string{}, false
}

// intervalOf maps d to the largest unit that divides it exactly.
func intervalOf(d time.Duration) (domain.IntervalSpec, error) {
	if d <= 0 {
		return domain.IntervalSpec{}, fmt.Errorf("%w: interval must be > 0", domain.ErrConfiguration)
	}
	for _, u := range []domain.TimeUnit{domain.Days, domain.Hours, domain.Minutes, domain.Seconds, domain.Microseconds} {
		step := u.Duration()
		if d%step == 0 {
			return domain.IntervalSpec{Every: uint(d / step), Unit: u}, nil
		}
	}
	return domain.IntervalSpec{}, fmt.Errorf("%w: interval %s is finer than a microsecond", domain.ErrConfiguration, d)
}

// Format renders spec back into the shorthand ParseSpec reads.
func Format(spec domain.ScheduleSpec) string {
	switch {
	case spec.Interval != nil:
		d := time.Duration(spec.Interval.Every) * spec.Interval.Unit.Duration()
		return "every:" + d.String()
	case spec.Cron != nil:
		expr := "cron:" + Expression(*spec.Cron)
		if tz := strings.TrimSpace(spec.Cron.Timezone); tz != "" {
			expr = "TZ=" + tz + " " + expr
		}
		return expr
	default:
		return ""
	}
}
