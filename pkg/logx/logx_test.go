package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Named("sched")
	log.Info("reminder sent", String("task", "abc"), Int("minutes", 15), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "sched" || m["task"] != "abc" || m["message"] != "reminder sent" {
		t.Fatalf("fields = %v", m)
	}
	if m["minutes"] != float64(15) {
		t.Fatalf("minutes = %v, want 15", m["minutes"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing in %v", m)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("Enabled(info) = true, want false")
	}
	if !log.Enabled(LevelError) {
		t.Fatalf("Enabled(error) = false, want true")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("IsZero() = false, want true")
	}
	l.With(String("a", "b")).Error("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","message":"send failed","time":"x","task":"t1","comp":"notifier"}`))
	want := "[WARN] send failed\n- comp=notifier\n- task=t1"
	if got != want {
		t.Fatalf("formatChatLine() = %q, want %q", got, want)
	}
	if got := formatChatLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("formatChatLine(raw) = %q", got)
	}
}

type recordSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (r *recordSender) SendLog(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func TestServiceChatSinkForwardsWarnings(t *testing.T) {
	rs := &recordSender{got: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}}, rs)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	select {
	case <-rs.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("chat sink did not deliver")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.msgs) != 1 || !strings.HasPrefix(rs.msgs[0], "[WARN] loud") {
		t.Fatalf("chat messages = %q", rs.msgs)
	}
}
