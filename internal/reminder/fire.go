package reminder

import (
	"context"
	"errors"

	"remindbot/internal/eventbus"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

// SentEvent is the payload of reminder.sent and reminder.failed events.
type SentEvent struct {
	TaskID  string `json:"task_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Minutes int    `json:"minutes"`
	Error   string `json:"error,omitempty"`
}

// fire is the body of every reminder timer. It never returns an error to
// the executor: a failed delivery is not retried within the same tick.
func (s *Scheduler) fire(ctx context.Context, key JobKey, gen uint64) {
	s.mu.Lock()
	in, ok := s.jobs[key]
	if !ok || in.gen != gen {
		s.mu.Unlock()
		return
	}
	if !key.Kind.Recurring() {
		delete(s.jobs, key)
	}
	recordID := in.recordID
	s.mu.Unlock()

	log := s.d.Log.With(logx.String("task", key.TaskID), logx.String("kind", key.Kind.String()))

	t, err := s.d.Tasks.Get(ctx, key.TaskID)
	if errors.Is(err, todo.ErrNotFound) {
		log.Info("reminder dropped: task gone")
		if key.Kind.Recurring() {
			s.cancelIfCurrent(key, gen)
		}
		return
	}
	if err != nil {
		log.Warn("reminder skipped: task reload failed", logx.Err(err))
		return
	}
	if !t.Status.Open() {
		if key.Kind.Recurring() {
			s.cancelIfCurrent(key, gen)
			log.Debug("recurring reminder stopped", logx.String("status", string(t.Status)))
		}
		return
	}

	n := Compose(t, key.Kind, s.d.Clock.Now())
	ev := SentEvent{TaskID: t.ID, Kind: key.Kind.String(), Title: t.Title, Minutes: n.Minutes}
	if err := s.d.Dispatcher.Send(ctx, s.cfg.Recipient, n, ActionsFor(t.Priority)); err != nil {
		log.Warn("reminder delivery failed", logx.Err(err))
		ev.Error = err.Error()
		s.publish(eventbus.ReminderFailed, ev)
		return
	}

	if recordID != 0 && s.d.Records != nil {
		if err := s.d.Records.MarkReminderSent(ctx, recordID, s.d.Clock.Now()); err != nil {
			log.Warn("reminder record not marked sent", logx.Int64("record", recordID), logx.Err(err))
		}
	}
	if s.d.Flags != nil {
		if err := s.d.Flags.SetReminderSent(ctx, t.ID); err != nil {
			log.Warn("task reminder flag not set", logx.Err(err))
		}
	}
	log.Info("reminder sent", logx.Int("minutes", n.Minutes))
	s.publish(eventbus.ReminderSent, ev)
}

func (s *Scheduler) cancelIfCurrent(key JobKey, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.jobs[key]; ok && in.gen == gen {
		s.cancelLocked(key)
	}
}

func (s *Scheduler) publish(typ string, ev SentEvent) {
	if s.d.Bus != nil {
		s.d.Bus.Publish(eventbus.Event{Type: typ, Time: s.d.Clock.Now(), Data: ev})
	}
}
