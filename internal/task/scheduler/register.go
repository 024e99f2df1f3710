package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dashpulse/internal/task/engine"
	logx "dashpulse/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// AddScheduleOpt registers job under name using any form ParseSchedule
// accepts. With OverlapSkipIfRunning a fire is skipped while the previous
// run is queued or running.
func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if ps.Kind == SpecInterval {
		return s.AddIntervalOpt(name, ps.Every, timeout, opt, job)
	}
	return s.AddCronOpt(name, ps.Cron, timeout, opt, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.add(name, spec, timeout, opt, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, opt, job)
}

// add replaces any job already registered under name.
func (s *Service) add(name, spec string, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("name required")
	case run == nil:
		return "", errors.New("job required")
	}
	j := &job{name: name, spec: spec, timeout: timeout, run: run, opt: opt, state: &engine.RunState{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.jobs = append(s.jobs, j)
	if s.cron == nil {
		return name, nil
	}
	if err := s.mount(j); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.String("next", s.upcoming(spec, 3)),
	)
	return name, nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	kept := s.jobs[:0]
	removed := false
	for _, j := range s.jobs {
		if j.name != name {
			kept = append(kept, j)
			continue
		}
		if s.cron != nil && j.id != 0 {
			s.cron.Remove(j.id)
		}
		removed = true
	}
	clear(s.jobs[len(kept):])
	s.jobs = kept
	return removed
}

// mount adds j to the running cron. Intervals get a spread first fire
// unless NoSpread is set. Call with s.mu held.
func (s *Service) mount(j *job) error {
	fire := cron.FuncJob(func() { s.fire(j) })

	if every, ok := everyOf(j.spec); ok {
		var sched cron.Schedule = cron.Every(every)
		j.spread = 0
		if !s.cfg.NoSpread {
			sched, j.spread = spreadEvery(every, time.Now().In(s.loc), j.name)
		}
		j.id = s.cron.Schedule(sched, fire)
		return nil
	}

	id, err := s.cron.AddJob(j.spec, fire)
	if err != nil {
		return err
	}
	j.id, j.spread = id, 0
	return nil
}

func (s *Service) fire(j *job) {
	if s.eng == nil {
		return
	}
	err := s.eng.Enqueue(engine.Task{
		Name:    j.name,
		Timeout: j.timeout,
		Run:     j.run,
		Opt:     j.opt,
		State:   j.state,
	})
	if err != nil {
		s.reportEnqueueError(j.name, err)
	}
}

func everyOf(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	return d, err == nil && d > 0
}

// reportEnqueueError logs a failed fire at most once per enqueueWarnEvery
// per job. Overlap skips are routine and only reach debug.
func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule fire skipped, previous run active", logx.String("schedule", name))
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last, seen := s.warned[name]
	if seen && now.Sub(last) < enqueueWarnEvery {
		s.warnMu.Unlock()
		return
	}
	s.warned[name] = now
	s.warnMu.Unlock()
	s.log.Warn("schedule could not enqueue", logx.String("schedule", name), logx.Err(err))
}

// upcoming formats the next n fire times, for debug logs only.
func (s *Service) upcoming(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	times := make([]string, 0, n)
	for t := time.Now().In(s.loc); len(times) < n; {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		times = append(times, t.Format(time.DateTime))
	}
	return strings.Join(times, ", ")
}
