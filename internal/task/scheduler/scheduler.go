package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dashpulse/internal/task/engine"
	logx "dashpulse/pkg/logx"
)

type Config struct {
	// Timezone is an IANA name used for cron expressions. Empty means UTC.
	Timezone string
	// NoSpread turns off the random delay before an interval job's first fire.
	NoSpread bool
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Enqueuer receives one task per fire. *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// ScheduleInfo describes one registered job. Next and Prev are zero while
// the scheduler is stopped.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type job struct {
	name    string
	spec    string // cron expression or "@every <dur>"
	timeout time.Duration
	run     func(ctx context.Context) error
	opt     TaskOptions
	state   *engine.RunState

	id     cron.EntryID
	spread time.Duration
}

type Service struct {
	log    logx.Logger
	cfg    Config
	eng    Enqueuer
	parser cron.Parser

	mu   sync.Mutex
	loc  *time.Location
	cron *cron.Cron
	jobs []*job

	warnMu sync.Mutex
	warned map[string]time.Time
}

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		cfg: cfg,
		eng: eng,
		// five fields, or six with leading seconds, plus @descriptors.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.UTC,
		warned: make(map[string]time.Time),
	}
}

// Start registers every known job with a fresh cron runner. Calling it
// twice is a no-op.
func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.loc = s.location()
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		if err := s.mount(j); err != nil {
			s.log.Error("schedule register failed", logx.String("name", j.name), logx.String("spec", j.spec), logx.Err(err))
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.jobs)))
}

// Stop halts firing and waits for in-progress enqueues. Jobs stay
// registered for a later Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for _, j := range s.jobs {
		j.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := ScheduleInfo{Name: j.name, Spec: j.spec, Timeout: j.timeout}
		if s.cron != nil && j.id != 0 {
			e := s.cron.Entry(j.id)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("unknown timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
