package todo

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusOverdue, true},
		{StatusOverdue, StatusCompleted, true},
		{StatusOverdue, StatusCancelled, true},
		{StatusOverdue, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := Task{Status: StatusOverdue}
	if err := task.Transition(StatusCompleted, at); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if !task.CompletedAt.Equal(at) || !task.UpdatedAt.Equal(at) {
		t.Fatalf("times = (%v, %v), want %v", task.CompletedAt, task.UpdatedAt, at)
	}
	if err := task.Transition(StatusPending, at); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(completed->pending) error = %v, want ErrInvalidTransition", err)
	}
}

func TestDraftNormalize(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxTitleLen+20)
	tests := []struct {
		name    string
		in      Draft
		want    Draft
		wantErr error
	}{
		{name: "defaults priority", in: Draft{Title: "  call mom "}, want: Draft{Title: "call mom", Priority: PriorityMedium}},
		{name: "keeps priority", in: Draft{Title: "x", Priority: PriorityUrgent}, want: Draft{Title: "x", Priority: PriorityUrgent}},
		{name: "truncates runes", in: Draft{Title: long}, want: Draft{Title: strings.Repeat("é", MaxTitleLen), Priority: PriorityMedium}},
		{name: "empty title", in: Draft{Title: "   "}, wantErr: ErrEmptyTitle},
		{name: "bad priority", in: Draft{Title: "x", Priority: "asap"}, wantErr: ErrInvalidPriority},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.in.Normalize()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Normalize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	if p, ok := ParsePriority(" URGENT "); !ok || p != PriorityUrgent {
		t.Fatalf("ParsePriority(URGENT) = (%q, %v), want (urgent, true)", p, ok)
	}
	if _, ok := ParsePriority("soon"); ok {
		t.Fatalf("ParsePriority(soon) ok = true, want false")
	}
}
