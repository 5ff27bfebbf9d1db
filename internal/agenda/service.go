// Package agenda implements the user-facing task operations and keeps the
// reminder scheduler in step with every state change.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/clock"
	"remindbot/internal/eventbus"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

var (
	ErrAmbiguous   = errors.New("task reference matches more than one task")
	ErrNotEditable = errors.New("task is already closed")
)

// Scheduler is the subset of reminder.Scheduler the service drives.
type Scheduler interface {
	Reschedule(ctx context.Context, t todo.Task) error
	CancelAll(taskID string) int
	StopRecurring(taskID string) bool
}

// Exporter copies a task to an external calendar.
type Exporter interface {
	Export(ctx context.Context, t todo.Task) (string, error)
}

type Deps struct {
	Store     todo.Store
	Scheduler Scheduler
	Exporter  Exporter // optional
	Bus       eventbus.Bus
	Clock     clock.Clock
	Log       logx.Logger
	Location  *time.Location
	NewID     func() string
}

// maxWriteAttempts bounds the re-reads after a concurrent status change.
const maxWriteAttempts = 3

type Service struct {
	d             Deps
	log           logx.Logger
	locks         taskLocks
	exportTimeout time.Duration
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Service{d: d, log: d.Log.Named("agenda"), exportTimeout: 10 * time.Second}
}

func (s *Service) Location() *time.Location { return s.d.Location }

func (s *Service) Now() time.Time { return s.d.Clock.Now().In(s.d.Location) }

// Create stores a new pending task and installs its reminders. Reminder and
// calendar failures are logged; the task is kept.
func (s *Service) Create(ctx context.Context, d todo.Draft, messageID int) (todo.Task, error) {
	now := s.d.Clock.Now()
	t, err := todo.New(s.d.NewID(), d, now)
	if err != nil {
		return todo.Task{}, err
	}
	t.MessageID = messageID
	if err := s.d.Store.Create(ctx, t); err != nil {
		return todo.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.publish(eventbus.TaskCreated, now, t)

	if err := s.d.Scheduler.Reschedule(ctx, t); err != nil {
		s.log.Error("schedule reminders failed", logx.String("task", t.ID), logx.Err(err))
	}
	if t.HasDue() && s.d.Exporter != nil {
		ectx, cancel := context.WithTimeout(ctx, s.exportTimeout)
		id, err := s.d.Exporter.Export(ectx, t)
		cancel()
		if err != nil {
			s.log.Warn("calendar export failed", logx.String("task", t.ID), logx.Err(err))
		} else if id != "" {
			s.log.Debug("calendar event created", logx.String("task", t.ID), logx.String("event", id))
		}
	}
	return t, nil
}

// Complete marks the task done and cancels all of its reminder jobs.
func (s *Service) Complete(ctx context.Context, id string) (todo.Task, error) {
	return s.close(ctx, id, todo.StatusCompleted, eventbus.TaskCompleted)
}

// Cancel abandons the task and cancels all of its reminder jobs.
func (s *Service) Cancel(ctx context.Context, id string) (todo.Task, error) {
	return s.close(ctx, id, todo.StatusCancelled, eventbus.TaskCancelled)
}

func (s *Service) close(ctx context.Context, id string, to todo.Status, evType string) (todo.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.d.Clock.Now()
	t, err := s.mutate(ctx, id, func(t *todo.Task) error {
		return t.Transition(to, now)
	})
	if err != nil {
		return t, err
	}
	n := s.d.Scheduler.CancelAll(t.ID)
	s.log.Debug("task closed", logx.String("task", t.ID), logx.String("status", string(to)), logx.Int("jobs_cancelled", n))
	s.publish(evType, now, t)
	return t, nil
}

// mutate applies fn to the stored task and writes it back only if its status
// is unchanged since the read. A concurrent status change re-runs fn against
// the fresh row.
func (s *Service) mutate(ctx context.Context, id string, fn func(t *todo.Task) error) (todo.Task, error) {
	for attempt := 1; ; attempt++ {
		t, err := s.d.Store.Get(ctx, id)
		if err != nil {
			return todo.Task{}, err
		}
		from := t.Status
		if err := fn(&t); err != nil {
			return t, err
		}
		err = s.d.Store.UpdateIf(ctx, t, from)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, todo.ErrConflict) || attempt >= maxWriteAttempts {
			return todo.Task{}, fmt.Errorf("update task: %w", err)
		}
		s.log.Debug("task changed during update; retrying", logx.String("task", id), logx.Err(err))
	}
}

// Patch holds optional field edits; nil fields are left unchanged. A
// non-nil zero Due clears the due time.
type Patch struct {
	Title    *string
	Due      *time.Time
	Priority *todo.Priority
}

// Edit applies p to an open task and rebuilds its reminder jobs.
func (s *Service) Edit(ctx context.Context, id string, p Patch) (todo.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.d.Clock.Now()
	t, err := s.mutate(ctx, id, func(t *todo.Task) error {
		if !t.Status.Open() {
			return ErrNotEditable
		}
		if p.Title != nil {
			title := todo.TruncateTitle(strings.TrimSpace(*p.Title))
			if title == "" {
				return todo.ErrEmptyTitle
			}
			t.Title = title
		}
		if p.Priority != nil {
			if !p.Priority.Valid() {
				return fmt.Errorf("%w: %q", todo.ErrInvalidPriority, string(*p.Priority))
			}
			t.Priority = *p.Priority
		}
		if p.Due != nil && !p.Due.Equal(t.Due) {
			t.Due = *p.Due
			t.ReminderSent = false
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return t, err
	}
	s.publish(eventbus.TaskUpdated, now, t)
	if err := s.d.Scheduler.Reschedule(ctx, t); err != nil {
		s.log.Error("reschedule failed", logx.String("task", t.ID), logx.Err(err))
		return t, err
	}
	return t, nil
}

// StopReminders cancels the recurring nag for a task. It reports whether a
// recurring job was installed.
func (s *Service) StopReminders(ctx context.Context, id string) (todo.Task, bool, error) {
	t, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return todo.Task{}, false, err
	}
	return t, s.d.Scheduler.StopRecurring(t.ID), nil
}

// Resolve finds a task by full id or unique id prefix.
func (s *Service) Resolve(ctx context.Context, ref string) (todo.Task, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return todo.Task{}, todo.ErrNotFound
	}
	t, err := s.d.Store.Get(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, todo.ErrNotFound) {
		return todo.Task{}, err
	}
	matches, err := s.d.Store.FindByPrefix(ctx, ref)
	if err != nil {
		return todo.Task{}, err
	}
	switch len(matches) {
	case 0:
		return todo.Task{}, todo.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return todo.Task{}, ErrAmbiguous
	}
}

// Today returns open tasks due during the current local day.
func (s *Service) Today(ctx context.Context) ([]todo.Task, error) {
	start := s.startOfDay(s.Now())
	return s.d.Store.ListDueBetween(ctx, start, start.AddDate(0, 0, 1), todo.StatusPending, todo.StatusOverdue)
}

// Week returns open tasks due from the start of today through the next
// six days.
func (s *Service) Week(ctx context.Context) ([]todo.Task, error) {
	start := s.startOfDay(s.Now())
	return s.d.Store.ListDueBetween(ctx, start, start.AddDate(0, 0, 7), todo.StatusPending, todo.StatusOverdue)
}

// Open returns up to limit pending or overdue tasks, soonest first.
func (s *Service) Open(ctx context.Context, limit int) ([]todo.Task, error) {
	return s.d.Store.ListByStatus(ctx, limit, todo.StatusPending, todo.StatusOverdue)
}

// Restore reinstalls reminder jobs for every open task with a due time. A
// store failure is returned; per-task scheduling failures are logged.
func (s *Service) Restore(ctx context.Context) (int, error) {
	tasks, err := s.d.Store.ListByStatus(ctx, 0, todo.StatusPending, todo.StatusOverdue)
	if err != nil {
		return 0, fmt.Errorf("load open tasks: %w", err)
	}
	n := 0
	for _, t := range tasks {
		if !t.HasDue() {
			continue
		}
		if err := s.d.Scheduler.Reschedule(ctx, t); err != nil {
			s.log.Error("restore reminders failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		n++
	}
	s.log.Info("reminders restored", logx.Int("tasks", n))
	return n, nil
}

func (s *Service) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.d.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.d.Location)
}

func (s *Service) publish(typ string, at time.Time, t todo.Task) {
	if s.d.Bus != nil {
		s.d.Bus.Publish(eventbus.Event{Type: typ, Time: at, Data: t})
	}
}

// taskLocks serializes state changes per task id so a write and the
// scheduler call that follows it are not interleaved with another change.
type taskLocks struct {
	mu sync.Mutex
	m  map[string]*taskLock
}

type taskLock struct {
	sync.Mutex
	refs int
}

func (l *taskLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*taskLock{}
	}
	tl, ok := l.m[id]
	if !ok {
		tl = &taskLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		if tl.refs--; tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
