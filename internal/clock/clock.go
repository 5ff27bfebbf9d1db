// Package clock abstracts wall time so timer-driven code can be tested
// deterministically. Both implementations sit on github.com/jonboulle/clockwork.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock reports the current time and arms one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a callback armed with Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

type realClock struct {
	c clockwork.Clock
}

// Real returns the system clock.
func Real() Clock { return realClock{c: clockwork.NewRealClock()} }

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) Timer {
	return r.c.AfterFunc(d, f)
}
