package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/timer"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

const (
	// DefaultSweepSchedule is any spec timer.ParseSchedule accepts.
	DefaultSweepSchedule = "1h"
	sweepTimerName       = "overdue.sweep"
	sweepTimeout         = 5 * time.Minute
)

// SweepStore is what the sweeper needs from the task store.
type SweepStore interface {
	ListDueBefore(ctx context.Context, ts time.Time, status todo.Status) ([]todo.Task, error)
	UpdateStatusBatch(ctx context.Context, ids []string, from, to todo.Status, at time.Time) (int, error)
}

// ScheduleTimers arms the periodic sweep.
type ScheduleTimers interface {
	Schedule(name, spec string, timeout time.Duration, job timer.Job) (timer.Handle, error)
	Cancel(h timer.Handle) bool
}

// OverdueEvent is the payload of tasks.overdue. IDs lists only the tasks
// this sweep moved.
type OverdueEvent struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// Sweeper periodically moves pending tasks past their due time to overdue.
// It does not touch reminder jobs.
type Sweeper struct {
	clk    clock.Clock
	store  SweepStore
	timers ScheduleTimers
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	schedule string
	handle   timer.Handle
}

// NewSweeper builds a sweeper running on schedule: a duration ("1h"), an
// HH:MM interval or a cron expression. Empty means DefaultSweepSchedule.
func NewSweeper(schedule string, clk clock.Clock, store SweepStore, timers ScheduleTimers, bus eventbus.Bus, log logx.Logger) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	return &Sweeper{clk: clk, store: store, timers: timers, bus: bus, log: log, schedule: sweepSpec(schedule)}
}

func sweepSpec(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return DefaultSweepSchedule
	}
	return s
}

// Sweep runs one pass and returns the number of tasks moved to overdue.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clk.Now()
	due, err := s.store.ListDueBefore(ctx, now, todo.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending past due: %w", err)
	}
	ids := make([]string, 0, len(due))
	for _, t := range due {
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.store.UpdateStatusBatch(ctx, ids, todo.StatusPending, todo.StatusOverdue, now)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.log.Info("tasks marked overdue", logx.Int("count", n))
	if s.bus == nil {
		return n, nil
	}
	moved := ids
	if n < len(ids) {
		// Some rows left pending between the list and the update.
		if moved, err = s.movedIDs(ctx, ids, now); err != nil {
			s.log.Warn("overdue ids not resolved", logx.Err(err))
			moved = nil
		}
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TasksOverdue, Time: now, Data: OverdueEvent{IDs: moved, Count: n}})
	return n, nil
}

// movedIDs narrows candidates to the ones now overdue.
func (s *Sweeper) movedIDs(ctx context.Context, candidates []string, now time.Time) ([]string, error) {
	over, err := s.store.ListDueBefore(ctx, now, todo.StatusOverdue)
	if err != nil {
		return nil, err
	}
	isOver := make(map[string]bool, len(over))
	for _, t := range over {
		isOver[t.ID] = true
	}
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if isOver[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Start arms the periodic sweep. Interval schedules first tick one interval
// from now.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(s.schedule)
}

// armLocked registers spec under the sweep timer name, replacing the
// current timer only when spec is valid.
func (s *Sweeper) armLocked(spec string) error {
	h, err := s.timers.Schedule(sweepTimerName, spec, sweepTimeout, s.run)
	if err != nil {
		return fmt.Errorf("arm overdue sweep: %w", err)
	}
	s.schedule, s.handle = spec, h
	s.log.Info("overdue sweep armed", logx.String("schedule", spec))
	return nil
}

// SetSchedule re-arms the sweep when the schedule changes. An invalid spec
// is returned and the running schedule kept.
func (s *Sweeper) SetSchedule(spec string) error {
	spec = sweepSpec(spec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.schedule {
		return nil
	}
	if !s.handle.Valid() {
		if err := timer.CheckSchedule(spec); err != nil {
			return err
		}
		s.schedule = spec
		return nil
	}
	return s.armLocked(spec)
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle.Valid() {
		s.timers.Cancel(s.handle)
		s.handle = timer.Handle{}
	}
}

// run is the timer body. Failures wait for the next tick instead of
// engine retries.
func (s *Sweeper) run(ctx context.Context) error {
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Warn("overdue sweep failed", logx.Err(err))
		return engine.NoRetry(err)
	}
	return nil
}
