package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	fails int // remaining failures
	calls int
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return transport.MessageRef{}, errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), f.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var target = transport.ChatTarget{ChatID: 42}

func TestSendIsSingleAttempt(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fails: 1}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := New(Config{Enabled: true, RetryMax: 3, RatePerSec: 100}, snd, logx.Nop(), bus)

	if _, err := s.Send(context.Background(), transport.Notification{Target: target, Text: "hi"}); err == nil {
		t.Fatal("Send err = nil, want transport error")
	}
	if _, calls := snd.snapshot(); calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if e := <-events; e.Type != eventbus.NotifyFailed {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.NotifyFailed)
	}

	ref, err := s.Send(context.Background(), transport.Notification{Target: target, Text: "hi", Priority: 9})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.MessageID != 1 {
		t.Fatalf("MessageID = %d, want 1", ref.MessageID)
	}
	texts, _ := snd.snapshot()
	if texts[0] != "🚨 hi" {
		t.Fatalf("text = %q, want priority prefix", texts[0])
	}
	if h := s.Snapshot(); len(h) != 1 {
		t.Fatalf("history = %d, want 1", len(h))
	}
}

func TestSendGuards(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	if _, err := disabled.Send(context.Background(), transport.Notification{Target: target}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Send disabled err = %v, want ErrDisabled", err)
	}
	enabled := New(Config{Enabled: true}, &fakeSender{}, logx.Nop(), nil)
	if _, err := enabled.Send(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("Send no target err = %v, want ErrNoTarget", err)
	}
	if err := enabled.Notify(context.Background(), transport.Notification{Target: target}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start err = %v, want ErrStopped", err)
	}
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fails: 2}
	s := New(Config{Enabled: true, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, RatePerSec: 100}, snd, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Target: target, Text: "morning"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { texts, _ := snd.snapshot(); return len(texts) == 1 })
	if _, calls := snd.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNotifyDedup(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := New(Config{Enabled: true, DedupWindow: time.Minute, RatePerSec: 100}, snd, logx.Nop(), nil)
	s.Start(context.Background())

	n := transport.Notification{Target: target, Text: "same"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Notify(context.Background(), transport.Notification{Target: target, Text: "other"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(context.Background())

	texts, _ := snd.snapshot()
	if len(texts) != 2 {
		t.Fatalf("delivered = %v, want 2 distinct", texts)
	}
	if err := s.Notify(context.Background(), n); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop err = %v, want ErrStopped", err)
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		attempt int
		lo, hi  time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		got := retryDelay(cfg, tt.attempt)
		if got < tt.lo || got > tt.hi {
			t.Fatalf("retryDelay(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.lo, tt.hi)
		}
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	a := dedupKey(transport.Notification{Target: target, Text: "x"})
	b := dedupKey(transport.Notification{Target: transport.ChatTarget{ChatID: 42, ThreadID: 7}, Text: "x"})
	if a == b {
		t.Fatal("dedupKey ignores thread id")
	}
	if got := dedupKey(transport.Notification{Key: "greeting:2024-07-01"}); got != "greeting:2024-07-01" {
		t.Fatalf("dedupKey override = %q", got)
	}
}
