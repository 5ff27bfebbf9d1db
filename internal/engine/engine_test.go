package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for task")
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, done)
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	done := make(chan struct{})
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, done)
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, RetryMax: 5}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.JobFailed {
				continue
			}
			ev := e.Data.(TaskEvent)
			if ev.Attempts != 1 || ev.Error != "bad input" {
				t.Fatalf("failed event = %+v, want 1 attempt and unwrapped error", ev)
			}
			if calls.Load() != 1 {
				t.Fatalf("calls = %d, want 1", calls.Load())
			}
			return
		case <-deadline:
			t.Fatalf("no job.failed event")
		}
	}
}

func TestNegativeRetryMaxDisablesRetries(t *testing.T) {
	t.Parallel()

	got := (TaskOptions{RetryMax: -1}).withDefaults(Config{RetryMax: 3})
	if got.RetryMax != 0 {
		t.Fatalf("RetryMax = %d, want 0", got.RetryMax)
	}
	got = (TaskOptions{}).withDefaults(Config{RetryMax: 3})
	if got.RetryMax != 3 {
		t.Fatalf("RetryMax = %d, want 3", got.RetryMax)
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "sweep",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	waitFor(t, started)
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue() error = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue(disabled) = %v, want ErrDisabled", err)
	}

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue(not started) = %v, want ErrStopped", err)
	}
	if err := stopped.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("Enqueue(nil Run) = nil, want error")
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		defer close(done)
		panic("kaboom")
	}})
	waitFor(t, done)

	next := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error {
		close(next)
		return nil
	}})
	waitFor(t, next)
}

func TestBackoffDelayBounded(t *testing.T) {
	t.Parallel()

	opt := (TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}).withDefaults(Config{})
	rng := rand.New(rand.NewSource(1))
	for retry := 1; retry <= 10; retry++ {
		d := backoffDelay(opt, retry, rng)
		if d < 0 || d > time.Second {
			t.Fatalf("backoffDelay(%d) = %v, want within [0, 1s]", retry, d)
		}
	}
}
