package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/eventbus"
	"remindbot/internal/timer"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

var (
	ErrDuplicateJob = errors.New("duplicate reminder job")
	ErrClosed       = errors.New("reminder scheduler closed")
)

var allKinds = []Kind{KindUrgent30, KindUrgent15, KindUrgent5, KindHigh15, KindStandard15, KindRecurring}

// Timers is the timer facility the scheduler arms jobs on.
type Timers interface {
	Once(name string, at time.Time, timeout time.Duration, job timer.Job) (timer.Handle, error)
	Every(name string, start time.Time, every, timeout time.Duration, job timer.Job) (timer.Handle, error)
	Cancel(h timer.Handle) bool
}

type Config struct {
	Recipient Recipient
	// FireTimeout bounds one firing body (reload plus delivery).
	FireTimeout time.Duration
}

type Deps struct {
	Clock      clock.Clock
	Timers     Timers
	Tasks      todo.Repository
	Records    RecordStore // optional
	Flags      SentFlagger // optional
	Dispatcher Dispatcher
	Bus        eventbus.Bus // optional
	Log        logx.Logger
}

type installed struct {
	job      Job
	handle   timer.Handle
	recordID int64
	gen      uint64
}

// Scheduler owns the job map. Only it arms or cancels reminder timers.
type Scheduler struct {
	cfg Config
	d   Deps

	mu     sync.Mutex
	jobs   map[JobKey]*installed
	seq    uint64
	closed bool
}

func NewScheduler(cfg Config, d Deps) *Scheduler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	return &Scheduler{cfg: cfg, d: d, jobs: map[JobKey]*installed{}}
}

// Reschedule makes the installed jobs of t equal to the policy's desired set
// at the current time. Terminal tasks end up with no jobs.
func (s *Scheduler) Reschedule(ctx context.Context, t todo.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	now := s.d.Clock.Now()
	desired := PlanTask(t, now)
	want := make(map[Kind]Job, len(desired))
	for _, j := range desired {
		if _, dup := want[j.Key.Kind]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Key)
		}
		want[j.Key.Kind] = j
	}

	for _, k := range allKinds {
		key := JobKey{TaskID: t.ID, Kind: k}
		if _, keep := want[k]; keep {
			continue
		}
		if in, ok := s.jobs[key]; ok {
			s.d.Timers.Cancel(in.handle)
			delete(s.jobs, key)
		}
	}

	var errs []error
	for _, j := range desired {
		prev, had := s.jobs[j.Key]
		if had {
			s.d.Timers.Cancel(prev.handle)
			delete(s.jobs, j.Key)
		}
		in, err := s.installLocked(j)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if had && prev.job.FireAt.Equal(j.FireAt) && prev.job.Every == j.Every {
			in.recordID = prev.recordID
		} else {
			in.recordID = s.persist(ctx, t, j, now)
		}
		s.jobs[j.Key] = in
	}

	if len(desired) > 0 {
		s.d.Log.Debug("reminders scheduled", logx.String("task", t.ID), logx.Int("jobs", len(desired)), logx.Time("first", desired[0].FireAt))
	}
	return errors.Join(errs...)
}

func (s *Scheduler) installLocked(j Job) (*installed, error) {
	s.seq++
	gen := s.seq
	key := j.Key
	body := func(ctx context.Context) error {
		s.fire(ctx, key, gen)
		return nil
	}

	var (
		h   timer.Handle
		err error
	)
	if j.Every > 0 {
		h, err = s.d.Timers.Every(key.String(), j.FireAt, j.Every, s.cfg.FireTimeout, body)
	} else {
		h, err = s.d.Timers.Once(key.String(), j.FireAt, s.cfg.FireTimeout, body)
	}
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", key, err)
	}
	return &installed{job: j, handle: h, gen: gen}, nil
}

func (s *Scheduler) persist(ctx context.Context, t todo.Task, j Job, now time.Time) int64 {
	if s.d.Records == nil {
		return 0
	}
	id, err := s.d.Records.AddReminder(ctx, Record{
		TaskID:    t.ID,
		Kind:      j.Key.Kind,
		FireAt:    j.FireAt,
		Every:     j.Every,
		Message:   recordMessage(t.Title),
		CreatedAt: now,
	})
	if err != nil {
		s.d.Log.Warn("reminder record not saved", logx.String("job", j.Key.String()), logx.Err(err))
		return 0
	}
	return id
}

// CancelAll cancels every job of the task and returns how many were live.
func (s *Scheduler) CancelAll(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range allKinds {
		if s.cancelLocked(JobKey{TaskID: taskID, Kind: k}) {
			n++
		}
	}
	if n > 0 {
		s.d.Log.Debug("reminders cancelled", logx.String("task", taskID), logx.Int("jobs", n))
	}
	return n
}

// StopRecurring cancels only the nag job of the task.
func (s *Scheduler) StopRecurring(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(JobKey{TaskID: taskID, Kind: KindRecurring})
}

func (s *Scheduler) cancelLocked(key JobKey) bool {
	in, ok := s.jobs[key]
	if !ok {
		return false
	}
	s.d.Timers.Cancel(in.handle)
	delete(s.jobs, key)
	return true
}

// Installed returns the live jobs of the task ordered by fire time.
func (s *Scheduler) Installed(taskID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, k := range allKinds {
		if in, ok := s.jobs[JobKey{TaskID: taskID, Kind: k}]; ok {
			out = append(out, in.job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Len returns the number of live jobs across all tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close cancels every timer. Later Reschedule calls fail with ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, in := range s.jobs {
		s.d.Timers.Cancel(in.handle)
		delete(s.jobs, key)
	}
	s.closed = true
}
