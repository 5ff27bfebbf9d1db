package timer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clock"
	"remindbot/internal/engine"
	logx "remindbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

type entry struct {
	id      uint64
	name    string
	kind    Kind
	spec    string
	sched   cron.Schedule
	next    time.Time
	prev    time.Time
	timeout time.Duration
	opt     engine.TaskOptions
	job     Job
	state   *engine.RunState
	timer   clock.Timer
	gen     uint64
	runs    uint64
}

type Service struct {
	mu      sync.Mutex
	clk     clock.Clock
	exec    Executor
	log     logx.Logger
	loc     *time.Location
	parser  cron.Parser
	entries map[uint64]*entry
	names   map[string]uint64
	seq     uint64
	running bool

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, clk clock.Clock, exec Executor, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Service{
		clk:     clk,
		exec:    exec,
		log:     log,
		parser:  cronParser,
		entries: map[uint64]*entry{},
		names:   map[string]uint64{},
	}
	s.loc = loadLocation(cfg.Timezone, log)
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start arms every registered timer. Timers added before Start wait for it.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	now := s.clk.Now()
	for _, e := range s.entries {
		if e.kind != KindOnce && !e.next.After(now) {
			e.next = s.advance(e.sched, e.next, now)
		}
		s.armLocked(e, now)
	}
	s.log.Info("timers started", logx.Int("count", len(s.entries)), logx.String("tz", s.loc.String()))
}

// Stop disarms all timers but keeps their definitions.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for _, e := range s.entries {
		s.disarmLocked(e)
	}
}

// Once fires job at at. A time before the clock's now is rejected with
// ErrPastFireTime.
func (s *Service) Once(name string, at time.Time, timeout time.Duration, job Job) (Handle, error) {
	if at.Before(s.clk.Now()) {
		return Handle{}, fmt.Errorf("%w: %s at %s", ErrPastFireTime, name, at.Format(time.RFC3339))
	}
	return s.add(&entry{name: name, kind: KindOnce, spec: at.Format(time.RFC3339), next: at, timeout: timeout, job: job})
}

// Every fires job at start and then every interval. A start in the past is
// moved forward to the first tick after now.
func (s *Service) Every(name string, start time.Time, every, timeout time.Duration, job Job) (Handle, error) {
	if every <= 0 {
		return Handle{}, ErrBadInterval
	}
	sched := cron.Every(every)
	return s.add(&entry{
		name: name, kind: KindInterval, spec: "@every " + every.String(),
		sched: sched, next: start, timeout: timeout, job: job,
		opt: engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
}

// Interval is Every with the first tick one interval from now.
func (s *Service) Interval(name string, every, timeout time.Duration, job Job) (Handle, error) {
	return s.Every(name, s.clk.Now().Add(every), every, timeout, job)
}

// Cron fires job on a robfig/cron spec evaluated in the service time zone.
func (s *Service) Cron(name, spec string, timeout time.Duration, job Job) (Handle, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return Handle{}, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	s.mu.Lock()
	now := s.clk.Now().In(s.loc)
	s.mu.Unlock()
	return s.add(&entry{
		name: name, kind: KindCron, spec: spec, sched: sched,
		next: sched.Next(now), timeout: timeout, job: job,
		opt: engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
}

// Daily fires job every day at HH:MM in the service time zone.
func (s *Service) Daily(name, hhmm string, timeout time.Duration, job Job) (Handle, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return Handle{}, err
	}
	return s.Cron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// Schedule registers a spec understood by ParseSchedule.
func (s *Service) Schedule(name, spec string, timeout time.Duration, job Job) (Handle, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return Handle{}, err
	}
	if ps.Kind == SpecInterval {
		return s.Interval(name, ps.Every, timeout, job)
	}
	return s.Cron(name, ps.Cron, timeout, job)
}

func (s *Service) add(e *entry) (Handle, error) {
	e.name = strings.TrimSpace(e.name)
	if e.name == "" {
		return Handle{}, ErrNameRequired
	}
	if e.job == nil {
		return Handle{}, errors.New("timer job is nil")
	}
	e.state = &engine.RunState{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.names[e.name]; ok {
		s.removeLocked(old)
	}
	s.seq++
	e.id = s.seq
	s.entries[e.id] = e
	s.names[e.name] = e.id

	now := s.clk.Now()
	if e.kind == KindInterval && !e.next.After(now) {
		e.next = s.advance(e.sched, e.next, now)
	}
	if s.running {
		s.armLocked(e, now)
	}
	s.log.Debug("timer registered", logx.String("name", e.name), logx.String("kind", string(e.kind)), logx.Time("next", e.next))
	return Handle{id: e.id, name: e.name}, nil
}

// Cancel stops the timer behind h. It reports whether h was still live.
func (s *Service) Cancel(h Handle) bool {
	if !h.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(h.id)
}

// Remove cancels the timer registered under name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.names[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	return s.removeLocked(id)
}

func (s *Service) removeLocked(id uint64) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	s.disarmLocked(e)
	delete(s.entries, id)
	if s.names[e.name] == id {
		delete(s.names, e.name)
	}
	return true
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot lists registered timers ordered by next fire time.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Info{Name: e.name, Kind: e.kind, Spec: e.spec, Timeout: e.timeout, Next: e.next, Prev: e.prev, Runs: e.runs})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Service) armLocked(e *entry, now time.Time) {
	s.disarmLocked(e)
	if e.next.IsZero() {
		return
	}
	e.gen++
	gen, id := e.gen, e.id
	e.timer = s.clk.AfterFunc(e.next.Sub(now), func() { s.fire(id, gen) })
}

func (s *Service) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

// advance returns the first tick of sched after now, starting from from.
func (s *Service) advance(sched cron.Schedule, from, now time.Time) time.Time {
	next := from
	for !next.After(now) {
		n := sched.Next(next.In(s.loc))
		if n.IsZero() || !n.After(next) {
			return time.Time{}
		}
		next = n
	}
	return next
}

func (s *Service) fire(id, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen || !s.running {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	e.prev = e.next
	e.runs++
	if e.kind == KindOnce {
		delete(s.entries, id)
		if s.names[e.name] == id {
			delete(s.names, e.name)
		}
	} else {
		now := s.clk.Now()
		e.next = s.advance(e.sched, e.next, now)
		s.armLocked(e, now)
	}
	t := engine.Task{Name: e.name, Timeout: e.timeout, Run: e.job, Opt: e.opt, State: e.state}
	s.mu.Unlock()

	if s.exec == nil {
		return
	}
	if err := s.exec.Enqueue(t); err != nil {
		s.reportEnqueueError(t.Name, err)
	}
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("timer trigger skipped", logx.String("timer", name), logx.Err(err))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = map[string]time.Time{}
	}
	if last := s.lastEnqWarn[name]; !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("timer failed to enqueue job", logx.String("timer", name), logx.Err(err))
}
