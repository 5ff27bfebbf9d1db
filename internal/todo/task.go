// Package todo defines the task model, its lifecycle state machine and the
// repository contracts used by the reminder and agenda layers.
package todo

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLen is the maximum title length in runes.
const MaxTitleLen = 200

var (
	ErrNotFound          = errors.New("task not found")
	ErrEmptyTitle        = errors.New("task title is empty")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("task changed concurrently")
)

type Task struct {
	ID          string
	Title       string
	Description string
	// Due is zero when the task has no due time.
	Due          time.Time
	Priority     Priority
	Status       Status
	ReminderSent bool
	MessageID    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  time.Time
}

func (t Task) HasDue() bool { return !t.Due.IsZero() }

// ShortID is the prefix shown to users for commands that take a task id.
func (t Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// Transition moves the task to status to, stamping the update time.
func (t *Task) Transition(to Status, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = at
	if to == StatusCompleted {
		t.CompletedAt = at
	}
	return nil
}

// Draft is a task as extracted from user input, before it gets an identity.
type Draft struct {
	Title       string
	Description string
	Due         time.Time
	Priority    Priority
}

// Normalize trims fields, applies the default priority and enforces the
// title limits.
func (d Draft) Normalize() (Draft, error) {
	d.Title = TruncateTitle(strings.TrimSpace(d.Title))
	d.Description = strings.TrimSpace(d.Description)
	if d.Title == "" {
		return d, ErrEmptyTitle
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !d.Priority.Valid() {
		return d, fmt.Errorf("%w: %q", ErrInvalidPriority, string(d.Priority))
	}
	return d, nil
}

// New builds a pending task from a draft.
func New(id string, d Draft, now time.Time) (Task, error) {
	d, err := d.Normalize()
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Due:         d.Due,
		Priority:    d.Priority,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// TruncateTitle cuts s to MaxTitleLen runes.
func TruncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= MaxTitleLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxTitleLen])
}
