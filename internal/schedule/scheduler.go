// Package schedule triggers runs from cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
)

// DefaultMaxDuration bounds a scheduled run without an explicit limit
const DefaultMaxDuration = 4 * time.Hour

// RunFunc performs one scheduled run
type RunFunc func(ctx context.Context, entry config.ScheduleEntry) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Validate checks an entry and fills in defaults
func Validate(e *config.ScheduleEntry) error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.MaxDuration.Duration <= 0 {
		e.MaxDuration.Duration = DefaultMaxDuration
	}
	return nil
}

// Scheduler fires entries when their cron time passes. At most one run is
// active at a time because every run writes the same checkpoints.
type Scheduler struct {
	entries   map[string]config.ScheduleEntry
	schedules map[string]cron.Schedule
	lastRun   map[string]time.Time
	running   string
	mu        sync.RWMutex

	now  func() time.Time
	tick time.Duration
}

// NewScheduler validates entries and creates a scheduler
func NewScheduler(entries []config.ScheduleEntry) (*Scheduler, error) {
	s := &Scheduler{
		entries:   make(map[string]config.ScheduleEntry),
		schedules: make(map[string]cron.Schedule),
		lastRun:   make(map[string]time.Time),
		now:       time.Now,
		tick:      time.Minute,
	}

	for i := range entries {
		e := entries[i]
		if err := Validate(&e); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if _, dup := s.entries[e.Name]; dup {
			return nil, fmt.Errorf("schedule %q defined twice", e.Name)
		}
		sched, _ := ParseCron(e.Cron)
		s.entries[e.Name] = e
		s.schedules[e.Name] = sched
		// first fire is the next cron time after start, not a catch-up
		s.lastRun[e.Name] = s.now()
	}

	return s, nil
}

// NextRun returns the next scheduled run time for an entry
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.now())
}

// ShouldRun returns true if an entry is due and nothing is running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok || s.running != "" {
		return false
	}
	return !s.now().Before(sched.Next(s.lastRun[name]))
}

// Running returns the name of the active run, or ""
func (s *Scheduler) Running() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) markRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != "" {
		return false
	}
	s.running = name
	return true
}

func (s *Scheduler) markComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = ""
	s.lastRun[name] = s.now()
}

// Entry returns the entry with the given name
func (s *Scheduler) Entry(name string) (config.ScheduleEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// Names returns all entry names, sorted
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs one entry synchronously, bounded by its max duration
func (s *Scheduler) RunNow(ctx context.Context, name string, run RunFunc) error {
	e, ok := s.Entry(name)
	if !ok {
		return fmt.Errorf("unknown schedule %q", name)
	}
	if !s.markRunning(name) {
		return fmt.Errorf("schedule %q is already running", s.Running())
	}
	return s.execute(ctx, e, run)
}

// execute runs a marked entry and clears the mark afterwards
func (s *Scheduler) execute(ctx context.Context, e config.ScheduleEntry, run RunFunc) error {
	name := e.Name
	defer s.markComplete(name)

	runCtx, cancel := context.WithTimeout(ctx, e.MaxDuration.Duration)
	defer cancel()

	logger := log.WithFields(log.Fields{"schedule": name, "max_duration": e.MaxDuration.Duration})
	logger.Info("scheduled run starting")
	start := s.now()
	err := run(runCtx, e)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Warn("scheduled run hit its max duration")
	}
	logger.WithField("took", s.now().Sub(start).Round(time.Second)).Info("scheduled run finished")
	return err
}

// Start checks due entries every tick until ctx is cancelled, then waits for
// the active run to return
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range s.Names() {
				if !s.ShouldRun(name) || !s.markRunning(name) {
					continue
				}
				e, _ := s.Entry(name)
				wg.Add(1)
				go func(e config.ScheduleEntry) {
					defer wg.Done()
					if err := s.execute(ctx, e, run); err != nil {
						log.WithField("schedule", e.Name).WithError(err).Error("scheduled run failed")
					}
				}(e)
				// one run at a time
				break
			}
		}
	}
}
