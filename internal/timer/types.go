// Package timer arms named one-shot, interval and cron timers on an
// injectable clock and submits their bodies to an executor when they fire.
package timer

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/engine"
)

var (
	ErrPastFireTime = errors.New("fire time is in the past")
	ErrNameRequired = errors.New("timer name required")
	ErrBadInterval  = errors.New("interval must be > 0")
)

type Job func(ctx context.Context) error

// Executor accepts fired bodies. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// InlineExecutor runs the body on the firing goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Enqueue(t engine.Task) error {
	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	_ = t.Run(ctx)
	return nil
}

type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

// Handle identifies one armed timer. A name registered again gets a new
// handle; the old one becomes inert.
type Handle struct {
	id   uint64
	name string
}

func (h Handle) Valid() bool  { return h.id != 0 }
func (h Handle) Name() string { return h.name }

type Config struct {
	// Timezone is the IANA zone cron specs are evaluated in.
	Timezone string
}

type Info struct {
	Name    string
	Kind    Kind
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Runs    uint64
}
