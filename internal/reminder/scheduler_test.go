package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"remindbot/internal/timer"
	"remindbot/internal/todo"
)

func TestRescheduleIsIdempotent(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.sched.Reschedule(ctx, tk); err != nil {
			t.Fatalf("Reschedule() #%d error = %v", i, err)
		}
	}
	if got := len(h.sched.Installed("t1")); got != 4 {
		t.Fatalf("Installed() = %d jobs, want 4", got)
	}
	if got := h.timers.Len(); got != 4 {
		t.Fatalf("timers.Len() = %d, want 4", got)
	}
	if got := len(h.repo.recordList()); got != 4 {
		t.Fatalf("records = %d, want 4", got)
	}
}

func TestRescheduleDropsStaleJobs(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	ctx := context.Background()
	_ = h.sched.Reschedule(ctx, tk)

	tk.Priority = todo.PriorityLow
	tk.Due = T.Add(2 * time.Hour)
	if err := h.sched.Reschedule(ctx, tk); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	jobs := h.sched.Installed("t1")
	if len(jobs) != 1 || jobs[0].Key.Kind != KindStandard15 || !jobs[0].FireAt.Equal(T.Add(105*time.Minute)) {
		t.Fatalf("Installed() = %+v, want single standard_15 at T+105m", jobs)
	}
	if got := h.timers.Len(); got != 1 {
		t.Fatalf("timers.Len() = %d, want 1", got)
	}

	h.clk.Advance(3 * time.Hour)
	if got := h.disp.kinds(); len(got) != 1 || got[0] != KindStandard15 {
		t.Fatalf("dispatched = %v, want [standard_15]", got)
	}
}

func TestRescheduleDueChangeMovesFireTime(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityMedium, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	ctx := context.Background()
	_ = h.sched.Reschedule(ctx, tk)

	tk.Due = T.Add(30 * time.Minute)
	_ = h.sched.Reschedule(ctx, tk)

	h.clk.Set(T)
	if n := len(h.disp.kinds()); n != 0 {
		t.Fatalf("old fire time delivered %d reminders", n)
	}
	h.clk.Set(T.Add(20 * time.Minute))
	if n := len(h.disp.kinds()); n != 1 {
		t.Fatalf("dispatched = %d, want 1 at new time", n)
	}
	if got := len(h.repo.recordList()); got != 2 {
		t.Fatalf("records = %d, want 2 (one per distinct fire time)", got)
	}
}

func TestCancelAllIsIdempotent(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	_ = h.sched.Reschedule(context.Background(), tk)

	if got := h.sched.CancelAll("t1"); got != 4 {
		t.Fatalf("CancelAll() = %d, want 4", got)
	}
	if got := h.sched.CancelAll("t1"); got != 0 {
		t.Fatalf("second CancelAll() = %d, want 0", got)
	}
	if got := h.sched.CancelAll("missing"); got != 0 {
		t.Fatalf("CancelAll(missing) = %d, want 0", got)
	}
	h.clk.Advance(3 * time.Hour)
	if n := len(h.disp.kinds()); n != 0 {
		t.Fatalf("dispatched %d after CancelAll", n)
	}
}

func TestUrgentCompletedBeforeSecondReminder(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(-60*time.Minute), tk)
	ctx := context.Background()
	if err := h.sched.Reschedule(ctx, tk); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	want := []time.Time{T.Add(-30 * time.Minute), T.Add(-15 * time.Minute), T.Add(-5 * time.Minute), T.Add(5 * time.Minute)}
	jobs := h.sched.Installed("t1")
	if len(jobs) != len(want) {
		t.Fatalf("Installed() = %d jobs, want %d", len(jobs), len(want))
	}
	for i, j := range jobs {
		if !j.FireAt.Equal(want[i]) {
			t.Fatalf("job %d fires at %v, want %v", i, j.FireAt, want[i])
		}
	}

	h.clk.Set(T.Add(-20 * time.Minute))
	h.repo.setStatus("t1", todo.StatusCompleted)
	h.sched.CancelAll("t1")

	h.clk.Set(T.Add(2 * time.Hour))
	got := h.disp.kinds()
	if len(got) != 1 || got[0] != KindUrgent30 {
		t.Fatalf("dispatched = %v, want [urgent_30]", got)
	}
}

func TestRecurringStopsItselfAfterCompletion(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityHigh, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	_ = h.sched.Reschedule(context.Background(), tk)

	h.clk.Set(T.Add(11 * time.Minute))
	if got := h.disp.kinds(); len(got) != 3 {
		t.Fatalf("dispatched = %v, want high_15 plus two recurring", got)
	}

	// Completion that bypassed CancelAll: the next tick must notice.
	h.repo.setStatus("t1", todo.StatusCompleted)
	h.clk.Set(T.Add(16 * time.Minute))
	h.clk.Set(T.Add(time.Hour))
	if got := h.disp.kinds(); len(got) != 3 {
		t.Fatalf("dispatched after completion = %v, want still 3", got)
	}
	if jobs := h.sched.Installed("t1"); len(jobs) != 0 {
		t.Fatalf("Installed() = %+v, want none", jobs)
	}
	if n := h.timers.Len(); n != 0 {
		t.Fatalf("timers.Len() = %d, want 0", n)
	}
}

func TestRecurringContinuesWhileOverdue(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(time.Minute), tk)
	_ = h.sched.Reschedule(context.Background(), tk)
	h.repo.setStatus("t1", todo.StatusOverdue)

	h.clk.Set(T.Add(16 * time.Minute))
	got := h.disp.kinds()
	if len(got) != 3 {
		t.Fatalf("dispatched = %v, want 3 recurring ticks", got)
	}
	h.disp.mu.Lock()
	last := h.disp.sent[2]
	h.disp.mu.Unlock()
	if last.Notice.Minutes != -15 || !last.Notice.Recurring() {
		t.Fatalf("last notice = %+v, want recurring at -15 minutes", last.Notice)
	}
	if len(last.Actions) != 2 {
		t.Fatalf("actions = %v, want complete and stop", last.Actions)
	}
}

func TestRepositoryErrorSkipsOneTick(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityHigh, T)
	h := newHarness(t, T.Add(time.Minute), tk)
	_ = h.sched.Reschedule(context.Background(), tk)

	h.repo.mu.Lock()
	h.repo.getErr = errors.New("db locked")
	h.repo.mu.Unlock()

	h.clk.Set(T.Add(5 * time.Minute))
	if n := len(h.disp.kinds()); n != 0 {
		t.Fatalf("dispatched %d on failed reload", n)
	}
	h.clk.Set(T.Add(10 * time.Minute))
	if n := len(h.disp.kinds()); n != 1 {
		t.Fatalf("dispatched %d on next tick, want 1", n)
	}
}

func TestDispatcherFailureLeavesRecordUnsent(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityMedium, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	h.disp.fail = errors.New("telegram down")
	_ = h.sched.Reschedule(context.Background(), tk)

	h.clk.Set(T)
	recs := h.repo.recordList()
	if len(recs) != 1 || recs[0].Sent {
		t.Fatalf("records = %+v, want one unsent", recs)
	}
	if got, _ := h.repo.Get(context.Background(), "t1"); got.ReminderSent {
		t.Fatalf("task ReminderSent = true after failed delivery")
	}
	if n := h.timers.Len(); n != 0 {
		t.Fatalf("timers.Len() = %d, failed one-shot must not be retried", n)
	}
}

func TestDeliveryMarksRecordAndTask(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityLow, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()
	_ = h.sched.Reschedule(context.Background(), tk)

	h.clk.Set(T)
	recs := h.repo.recordList()
	if len(recs) != 1 || !recs[0].Sent || !recs[0].SentAt.Equal(T.Add(-15*time.Minute)) {
		t.Fatalf("records = %+v, want sent at T-15m", recs)
	}
	if recs[0].Message != "Reminder for: task t1" {
		t.Fatalf("record message = %q", recs[0].Message)
	}
	if got, _ := h.repo.Get(context.Background(), "t1"); !got.ReminderSent {
		t.Fatalf("task ReminderSent = false after delivery")
	}
	select {
	case e := <-events:
		if ev, ok := e.Data.(SentEvent); !ok || ev.Minutes != 15 {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatalf("no reminder.sent event")
	}
}

func TestDeletedTaskStopsRecurring(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(time.Minute), tk)
	_ = h.sched.Reschedule(context.Background(), tk)

	h.repo.mu.Lock()
	delete(h.repo.tasks, "t1")
	h.repo.mu.Unlock()

	h.clk.Set(T.Add(time.Hour))
	if n := len(h.disp.kinds()); n != 0 {
		t.Fatalf("dispatched %d for deleted task", n)
	}
	if n := h.sched.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}
}

func TestStopRecurringKeepsOneShots(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityUrgent, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	_ = h.sched.Reschedule(context.Background(), tk)

	if !h.sched.StopRecurring("t1") {
		t.Fatalf("StopRecurring() = false")
	}
	if h.sched.StopRecurring("t1") {
		t.Fatalf("second StopRecurring() = true")
	}
	h.clk.Set(T.Add(time.Hour))
	if got := h.disp.kinds(); len(got) != 3 {
		t.Fatalf("dispatched = %v, want the three one-shots", got)
	}
}

type rejectingTimers struct{}

func (rejectingTimers) Once(name string, at time.Time, _ time.Duration, _ timer.Job) (timer.Handle, error) {
	return timer.Handle{}, timer.ErrPastFireTime
}

func (rejectingTimers) Every(name string, _ time.Time, _, _ time.Duration, _ timer.Job) (timer.Handle, error) {
	return timer.Handle{}, timer.ErrPastFireTime
}

func (rejectingTimers) Cancel(timer.Handle) bool { return false }

func TestRescheduleSurfacesFacilityRejection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, T.Add(-time.Hour))
	s := NewScheduler(Config{}, Deps{Clock: h.clk, Timers: rejectingTimers{}, Tasks: h.repo, Dispatcher: h.disp})

	err := s.Reschedule(context.Background(), task("t1", todo.PriorityHigh, T))
	if !errors.Is(err, timer.ErrPastFireTime) {
		t.Fatalf("Reschedule() error = %v, want ErrPastFireTime", err)
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}
}

func TestRescheduleAfterClose(t *testing.T) {
	t.Parallel()

	tk := task("t1", todo.PriorityHigh, T)
	h := newHarness(t, T.Add(-time.Hour), tk)
	_ = h.sched.Reschedule(context.Background(), tk)
	h.sched.Close()

	if n := h.timers.Len(); n != 0 {
		t.Fatalf("timers.Len() after Close = %d, want 0", n)
	}
	if err := h.sched.Reschedule(context.Background(), tk); !errors.Is(err, ErrClosed) {
		t.Fatalf("Reschedule() after Close = %v, want ErrClosed", err)
	}
}

// Reschedule and CancelAll racing timer callbacks leave the job map and the
// timer facility in agreement.
func TestConcurrentRescheduleCancelAndFire(t *testing.T) {
	t.Parallel()

	var tasks []todo.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i), todo.PriorityUrgent, T.Add(time.Duration(i*7)*time.Minute)))
	}
	h := newHarness(t, T.Add(-time.Hour), tasks...)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 90; i++ {
			h.clk.Advance(time.Minute)
		}
	}()
	for _, tk := range tasks {
		tk := tk
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if i%3 == 2 {
					h.sched.CancelAll(tk.ID)
					continue
				}
				if err := h.sched.Reschedule(ctx, tk); err != nil && !errors.Is(err, timer.ErrPastFireTime) {
					t.Errorf("Reschedule(%s) error = %v", tk.ID, err)
				}
			}
		}()
	}
	wg.Wait()

	installed := 0
	for _, tk := range tasks {
		installed += len(h.sched.Installed(tk.ID))
	}
	if installed != h.sched.Len() {
		t.Fatalf("Installed() total = %d, Len() = %d", installed, h.sched.Len())
	}
	if got := h.timers.Len(); got != installed {
		t.Fatalf("timers.Len() = %d, want %d installed jobs", got, installed)
	}

	for _, tk := range tasks {
		h.sched.CancelAll(tk.ID)
	}
	if got := h.timers.Len(); got != 0 {
		t.Fatalf("timers.Len() after CancelAll = %d, want 0", got)
	}
}
