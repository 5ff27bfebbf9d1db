package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/eventbus"
	"remindbot/internal/timer"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

// T is the due time used across scenarios.
var T = time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)

type memRepo struct {
	mu      sync.Mutex
	tasks   map[string]todo.Task
	records map[int64]Record
	nextRec int64
	getErr  error
	listErr error
}

func newMemRepo(tasks ...todo.Task) *memRepo {
	r := &memRepo{tasks: map[string]todo.Task{}, records: map[int64]Record{}}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *memRepo) Create(_ context.Context, t todo.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (todo.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		err := r.getErr
		r.getErr = nil
		return todo.Task{}, err
	}
	t, ok := r.tasks[id]
	if !ok {
		return todo.Task{}, todo.ErrNotFound
	}
	return t, nil
}

func (r *memRepo) Update(_ context.Context, t todo.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return todo.ErrNotFound
	}
	r.tasks[t.ID] = t
	return nil
}

func (r *memRepo) ListDueBefore(_ context.Context, ts time.Time, status todo.Status) ([]todo.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []todo.Task
	for _, t := range r.tasks {
		if t.Status == status && t.HasDue() && t.Due.Before(ts) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out, nil
}

func (r *memRepo) UpdateStatusBatch(_ context.Context, ids []string, from, to todo.Status, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		t, ok := r.tasks[id]
		if !ok || t.Status != from {
			continue
		}
		t.Status = to
		t.UpdatedAt = at
		r.tasks[id] = t
		n++
	}
	return n, nil
}

func (r *memRepo) AddReminder(_ context.Context, rec Record) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRec++
	rec.ID = r.nextRec
	r.records[rec.ID] = rec
	return rec.ID, nil
}

func (r *memRepo) MarkReminderSent(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errors.New("no record")
	}
	rec.Sent, rec.SentAt = true, at
	r.records[id] = rec
	return nil
}

func (r *memRepo) SetReminderSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.ReminderSent = true
	r.tasks[id] = t
	return nil
}

func (r *memRepo) setStatus(id string, s todo.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.Status = s
	r.tasks[id] = t
}

func (r *memRepo) recordList() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type sent struct {
	At      time.Time
	Notice  Notice
	Actions []Action
}

type fakeDispatcher struct {
	clk  clock.Clock
	mu   sync.Mutex
	sent []sent
	fail error
}

func (d *fakeDispatcher) Send(_ context.Context, _ Recipient, n Notice, actions []Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, sent{At: d.clk.Now(), Notice: n, Actions: actions})
	return nil
}

func (d *fakeDispatcher) kinds() []Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Kind, len(d.sent))
	for i, s := range d.sent {
		out[i] = s.Notice.Kind
	}
	return out
}

type harness struct {
	clk    *clock.Fake
	timers *timer.Service
	repo   *memRepo
	disp   *fakeDispatcher
	sched  *Scheduler
	bus    *eventbus.MemBus
}

func newHarness(t *testing.T, now time.Time, tasks ...todo.Task) *harness {
	t.Helper()
	clk := clock.NewFake(now)
	timers := timer.New(timer.Config{Timezone: "UTC"}, clk, timer.InlineExecutor{}, logx.Nop())
	timers.Start()
	repo := newMemRepo(tasks...)
	disp := &fakeDispatcher{clk: clk}
	bus := eventbus.New()
	sched := NewScheduler(Config{Recipient: Recipient{ChatID: 42}}, Deps{
		Clock:      clk,
		Timers:     timers,
		Tasks:      repo,
		Records:    repo,
		Flags:      repo,
		Dispatcher: disp,
		Bus:        bus,
		Log:        logx.Nop(),
	})
	t.Cleanup(sched.Close)
	return &harness{clk: clk, timers: timers, repo: repo, disp: disp, sched: sched, bus: bus}
}

func task(id string, p todo.Priority, due time.Time) todo.Task {
	return todo.Task{ID: id, Title: "task " + id, Priority: p, Due: due, Status: todo.StatusPending}
}
