package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// source is the part of clockwork's fake clock the Fake drives.
type source interface {
	Now() time.Time
	Advance(d time.Duration)
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// Fake is a manually advanced Clock on top of a clockwork fake clock.
// Callbacks run synchronously on the goroutine calling Advance or Set, one
// at a time in fire-time order, with Now reporting their fire time.
type Fake struct {
	mu     sync.Mutex
	src    source
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	c     *Fake
	id    uint64
	at    time.Time
	f     func()
	ct    clockwork.Timer
	once  sync.Once
	fired chan struct{}
}

// NewFake returns a Fake positioned at t.
func NewFake(t time.Time) *Fake {
	return &Fake{src: clockwork.NewFakeClockAt(t), timers: map[uint64]*fakeTimer{}}
}

func (c *Fake) Now() time.Time { return c.src.Now() }

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &fakeTimer{c: c, id: c.seq, at: c.src.Now().Add(d), f: f, fired: make(chan struct{})}
	// clockwork only signals expiry; the callback itself runs from Set.
	t.ct = c.src.AfterFunc(d, t.expire)
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.timers[t.id]; !ok {
		return false
	}
	delete(t.c.timers, t.id)
	t.ct.Stop()
	t.expire()
	return true
}

// expire releases a Set waiting on t. It is safe to call more than once.
func (t *fakeTimer) expire() { t.once.Do(func() { close(t.fired) }) }

// Advance moves the clock forward by d, firing every timer due on the way.
func (c *Fake) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// Set moves the clock to t. Timers armed by callbacks are fired too when
// they fall at or before t. Moving backwards only changes Now.
func (c *Fake) Set(t time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDueLocked(t)
		if next == nil {
			c.src.Advance(t.Sub(c.src.Now()))
			c.mu.Unlock()
			return
		}
		if d := next.at.Sub(c.src.Now()); d >= 0 {
			c.src.Advance(d)
		}
		c.mu.Unlock()

		<-next.fired

		c.mu.Lock()
		_, live := c.timers[next.id]
		delete(c.timers, next.id)
		c.mu.Unlock()
		if live {
			next.f()
		}
	}
}

// Pending returns the fire times of armed timers in order.
func (c *Fake) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (c *Fake) nextDueLocked(limit time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.at.After(limit) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.id < best.id) {
			best = t
		}
	}
	return best
}
