package reminder

import (
	"context"
	"time"

	"remindbot/internal/todo"
)

// Action is a user choice attached to a delivered reminder.
type Action string

const (
	ActionComplete      Action = "complete"
	ActionStopRecurring Action = "stop"
)

// Recipient addresses the chat that receives reminders.
type Recipient struct {
	ChatID   int64
	ThreadID int
}

// Notice is the content of one reminder delivery, computed at fire time.
type Notice struct {
	TaskID      string
	Title       string
	Description string
	Priority    todo.Priority
	Kind        Kind
	Due         time.Time
	// Minutes until due; negative once overdue. Truncated toward zero.
	Minutes int
}

func (n Notice) Recurring() bool { return n.Kind.Recurring() }

// Compose builds the notice for task t firing as kind k at now.
func Compose(t todo.Task, k Kind, now time.Time) Notice {
	return Notice{
		TaskID:      t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Kind:        k,
		Due:         t.Due,
		Minutes:     int(t.Due.Sub(now) / time.Minute),
	}
}

// ActionsFor lists the actions offered with a reminder. Only priorities
// that nag after the due time get the stop action.
func ActionsFor(p todo.Priority) []Action {
	if p == todo.PriorityUrgent || p == todo.PriorityHigh {
		return []Action{ActionComplete, ActionStopRecurring}
	}
	return []Action{ActionComplete}
}

// Dispatcher delivers reminders to the user.
type Dispatcher interface {
	Send(ctx context.Context, to Recipient, n Notice, actions []Action) error
}

// Record is the audit row kept for each materialized job.
type Record struct {
	ID        int64
	TaskID    string
	Kind      Kind
	FireAt    time.Time
	Every     time.Duration
	Message   string
	Sent      bool
	SentAt    time.Time
	CreatedAt time.Time
}

// RecordStore persists reminder records.
type RecordStore interface {
	AddReminder(ctx context.Context, r Record) (int64, error)
	MarkReminderSent(ctx context.Context, id int64, at time.Time) error
}

// SentFlagger sets a task's coarse reminder_sent flag without touching the
// rest of the row.
type SentFlagger interface {
	SetReminderSent(ctx context.Context, taskID string) error
}

func recordMessage(title string) string { return "Reminder for: " + title }
