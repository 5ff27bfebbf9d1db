// Package audit mirrors lifecycle events from the bus into the bot log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

// Sink is the write side of the bot log.
type Sink interface {
	AppendLog(ctx context.Context, e store.LogEntry) error
}

type Recorder struct {
	sink    Sink
	log     logx.Logger
	timeout time.Duration
}

func New(sink Sink, log logx.Logger) *Recorder {
	return &Recorder{sink: sink, log: log.Named("audit"), timeout: 5 * time.Second}
}

// Run drains events until ctx is done or the channel closes.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Record(ctx, e)
		}
	}
}

// Record writes one event. Events without a log mapping are ignored.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	entry, ok := Entry(e)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.sink.AppendLog(wctx, entry); err != nil {
		r.log.Warn("bot log write failed", logx.String("type", string(entry.Type)), logx.Err(err))
	}
}

// Entry maps a bus event to a bot log row.
func Entry(e eventbus.Event) (store.LogEntry, bool) {
	out := store.LogEntry{At: e.Time}
	switch e.Type {
	case eventbus.TaskCreated, eventbus.TaskCompleted, eventbus.TaskCancelled:
		t, ok := e.Data.(todo.Task)
		if !ok {
			return out, false
		}
		out.TaskID = t.ID
		switch e.Type {
		case eventbus.TaskCreated:
			out.Type = store.LogTaskCreated
			out.Message = "Task created: " + t.Title
		case eventbus.TaskCompleted:
			out.Type = store.LogTaskCompleted
			out.Message = "Task completed: " + t.Title
		default:
			out.Type = store.LogTaskCancelled
			out.Message = "Task cancelled: " + t.Title
		}
		out.Meta = meta(map[string]any{"priority": t.Priority, "status": t.Status})

	case eventbus.ReminderSent:
		ev, ok := e.Data.(reminder.SentEvent)
		if !ok {
			return out, false
		}
		out.Type = store.LogReminderSent
		out.TaskID = ev.TaskID
		out.Message = "Reminder sent for: " + ev.Title
		out.Meta = meta(map[string]any{"kind": ev.Kind, "minutes": ev.Minutes})

	case eventbus.ReminderFailed:
		ev, ok := e.Data.(reminder.SentEvent)
		if !ok {
			return out, false
		}
		out.Type = store.LogError
		out.TaskID = ev.TaskID
		out.Message = fmt.Sprintf("Reminder failed for %s: %s", ev.Title, ev.Error)
		out.Meta = meta(map[string]any{"kind": ev.Kind})

	case eventbus.TasksOverdue:
		ev, ok := e.Data.(reminder.OverdueEvent)
		if !ok {
			return out, false
		}
		out.Type = store.LogTasksOverdue
		out.Message = fmt.Sprintf("Marked %d task(s) as overdue", ev.Count)
		out.Meta = meta(map[string]any{"ids": ev.IDs})

	case eventbus.JobFailed:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return out, false
		}
		out.Type = store.LogError
		out.Message = fmt.Sprintf("Job %s failed: %s", ev.Name, ev.Error)
		out.Meta = meta(map[string]any{"attempts": ev.Attempts})

	case eventbus.ConfigReloaded:
		out.Type = store.LogInfo
		out.Message = "Configuration reloaded"

	default:
		return out, false
	}
	if out.At.IsZero() {
		out.At = time.Now()
	}
	return out, true
}

func meta(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
