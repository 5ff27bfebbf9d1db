package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

const maxMemoryLogs = 1000

// memStore keeps everything in maps. With a path it rewrites a JSON snapshot
// after every mutation.
type memStore struct {
	mu     sync.Mutex
	path   string
	log    logx.Logger
	closed bool

	tasks     map[string]todo.Task
	reminders []reminder.Record
	logs      []LogEntry
	nextRem   int64
	nextLog   int64
}

type snapshot struct {
	Tasks     []todo.Task       `json:"tasks"`
	Reminders []reminder.Record `json:"reminders"`
	Logs      []LogEntry        `json:"logs"`
	NextRem   int64             `json:"next_reminder_id"`
	NextLog   int64             `json:"next_log_id"`
}

func openMemory(path string, log logx.Logger) (*memStore, error) {
	s := &memStore{
		path:  path,
		log:   log.Named("store"),
		tasks: map[string]todo.Task{},
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

func (s *memStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, t := range snap.Tasks {
		s.tasks[t.ID] = t
	}
	s.reminders = snap.Reminders
	s.logs = snap.Logs
	s.nextRem = snap.NextRem
	s.nextLog = snap.NextLog
	return nil
}

func (s *memStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{
		Tasks:     make([]todo.Task, 0, len(s.tasks)),
		Reminders: s.reminders,
		Logs:      s.logs,
		NextRem:   s.nextRem,
		NextLog:   s.nextLog,
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].CreatedAt.Before(snap.Tasks[j].CreatedAt) })

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}

func (s *memStore) Create(_ context.Context, t todo.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tasks[t.ID]; ok {
		return errors.New("task already exists: " + t.ID)
	}
	s.tasks[t.ID] = t
	return s.flushLocked()
}

func (s *memStore) Get(_ context.Context, id string) (todo.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return todo.Task{}, ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok {
		return todo.Task{}, todo.ErrNotFound
	}
	return t, nil
}

func (s *memStore) Update(_ context.Context, t todo.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	old, ok := s.tasks[t.ID]
	if !ok {
		return todo.ErrNotFound
	}
	t.CreatedAt = old.CreatedAt
	s.tasks[t.ID] = t
	return s.flushLocked()
}

func (s *memStore) UpdateIf(_ context.Context, t todo.Task, from todo.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	old, ok := s.tasks[t.ID]
	if !ok {
		return todo.ErrNotFound
	}
	if old.Status != from {
		return fmt.Errorf("%w: %s is %s, not %s", todo.ErrConflict, t.ID, old.Status, from)
	}
	t.CreatedAt = old.CreatedAt
	s.tasks[t.ID] = t
	return s.flushLocked()
}

func (s *memStore) ListDueBefore(_ context.Context, ts time.Time, status todo.Status) ([]todo.Task, error) {
	return s.filter(func(t todo.Task) bool {
		return t.Status == status && t.HasDue() && t.Due.Before(ts)
	}, 0)
}

func (s *memStore) ListDueBetween(_ context.Context, from, to time.Time, statuses ...todo.Status) ([]todo.Task, error) {
	in := statusSet(statuses)
	return s.filter(func(t todo.Task) bool {
		return in[t.Status] && t.HasDue() && !t.Due.Before(from) && t.Due.Before(to)
	}, 0)
}

func (s *memStore) ListByStatus(_ context.Context, limit int, statuses ...todo.Status) ([]todo.Task, error) {
	in := statusSet(statuses)
	return s.filter(func(t todo.Task) bool { return in[t.Status] }, limit)
}

func (s *memStore) FindByPrefix(_ context.Context, prefix string) ([]todo.Task, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if !validPrefix(prefix) {
		return nil, nil
	}
	out, err := s.filter(func(t todo.Task) bool { return strings.HasPrefix(t.ID, prefix) }, 0)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// filter returns matches ordered by due time with undated tasks last.
func (s *memStore) filter(keep func(todo.Task) bool, limit int) ([]todo.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []todo.Task
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasDue() != b.HasDue() {
			return a.HasDue()
		}
		if !a.Due.Equal(b.Due) {
			return a.Due.Before(b.Due)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateStatusBatch(_ context.Context, ids []string, from, to todo.Status, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok || t.Status != from {
			continue
		}
		t.Status = to
		t.UpdatedAt = at
		s.tasks[id] = t
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.flushLocked()
}

func (s *memStore) SetReminderSent(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return todo.ErrNotFound
	}
	t.ReminderSent = true
	s.tasks[taskID] = t
	return s.flushLocked()
}

func (s *memStore) AddReminder(_ context.Context, r reminder.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextRem++
	r.ID = s.nextRem
	s.reminders = append(s.reminders, r)
	return r.ID, s.flushLocked()
}

func (s *memStore) MarkReminderSent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			s.reminders[i].Sent = true
			s.reminders[i].SentAt = at
			return s.flushLocked()
		}
	}
	return todo.ErrNotFound
}

func (s *memStore) ListReminders(_ context.Context, taskID string) ([]reminder.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []reminder.Record
	for _, r := range s.reminders {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *memStore) AppendLog(_ context.Context, e LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.nextLog++
	e.ID = s.nextLog
	s.logs = append(s.logs, e)
	if over := len(s.logs) - maxMemoryLogs; over > 0 {
		s.logs = append(s.logs[:0:0], s.logs[over:]...)
	}
	return s.flushLocked()
}

func (s *memStore) RecentLogs(_ context.Context, limit int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]LogEntry, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func statusSet(statuses []todo.Status) map[todo.Status]bool {
	if len(statuses) == 0 {
		statuses = []todo.Status{todo.StatusPending}
	}
	m := make(map[todo.Status]bool, len(statuses))
	for _, st := range statuses {
		m[st] = true
	}
	return m
}
