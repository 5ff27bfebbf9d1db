package bot

import (
	"context"
	"strconv"

	"remindbot/internal/reminder"
	"remindbot/internal/transport"
)

// Notifier is the delivery surface of notifier.Service.
type Notifier interface {
	Send(ctx context.Context, n transport.Notification) (transport.MessageRef, error)
	Notify(ctx context.Context, n transport.Notification) error
}

// reminderPriority keeps reminders below the notifier's emoji prefixes;
// the reminder text carries its own header.
const reminderPriority = 4

// Dispatcher delivers reminder notices through the notifier with one
// synchronous attempt, so the scheduler sees the real outcome.
type Dispatcher struct {
	n Notifier
}

func NewDispatcher(n Notifier) *Dispatcher { return &Dispatcher{n: n} }

func (d *Dispatcher) Send(ctx context.Context, to reminder.Recipient, n reminder.Notice, actions []reminder.Action) error {
	text, buttons := ReminderMessage(n, actions)
	_, err := d.n.Send(ctx, transport.Notification{
		Priority: reminderPriority,
		Target:   transport.ChatTarget{ChatID: to.ChatID, ThreadID: to.ThreadID},
		Text:     text,
		Options:  &transport.SendOptions{ParseMode: transport.ParseHTML, DisablePreview: true, Buttons: buttons},
		Key:      "reminder:" + n.TaskID + ":" + n.Kind.String() + ":" + strconv.Itoa(n.Minutes),
	})
	return err
}
