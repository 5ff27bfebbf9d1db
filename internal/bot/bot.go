// Package bot implements the chat command surface on top of the agenda
// service and renders reminders for delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/agenda"
	"remindbot/internal/extract"
	"remindbot/internal/todo"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	callbackScope = "task"
	actDone       = "done"
	actStop       = "stop"
	actPick       = "pick"
	actAdd        = "add"

	pickLimit = 10
)

// Agenda is the task surface the bot drives.
type Agenda interface {
	Create(ctx context.Context, d todo.Draft, messageID int) (todo.Task, error)
	Complete(ctx context.Context, id string) (todo.Task, error)
	Cancel(ctx context.Context, id string) (todo.Task, error)
	Edit(ctx context.Context, id string, p agenda.Patch) (todo.Task, error)
	StopReminders(ctx context.Context, id string) (todo.Task, bool, error)
	Resolve(ctx context.Context, ref string) (todo.Task, error)
	Today(ctx context.Context) ([]todo.Task, error)
	Week(ctx context.Context) ([]todo.Task, error)
	Open(ctx context.Context, limit int) ([]todo.Task, error)
	Now() time.Time
	Location() *time.Location
}

type Deps struct {
	Agenda    Agenda
	Extractor extract.Extractor
	Suggester extract.Suggester
	Notifier  Notifier
	Log       logx.Logger
	// Home receives the daily greeting.
	Home transport.ChatTarget
	// CommandTimeout bounds every handler. Zero means one minute.
	CommandTimeout time.Duration
}

type Bot struct {
	d    Deps
	log  logx.Logger
	menu func(ctx context.Context) error
}

func New(d Deps) *Bot {
	if d.CommandTimeout <= 0 {
		d.CommandTimeout = time.Minute
	}
	return &Bot{d: d, log: d.Log.Named("bot")}
}

// Register installs the bot's commands, callbacks and text handler.
func (b *Bot) Register(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetTextHandler(b.handleText)
	b.menu = r.PublishMenu
}

func (b *Bot) Commands() []router.Command {
	t := b.d.CommandTimeout
	return []router.Command{
		{Name: "start", Description: "Get started", Timeout: t, Handle: b.cmdStart},
		{Name: "today", Description: "View today's tasks", Timeout: t, Handle: b.cmdToday},
		{Name: "week", Description: "View this week's tasks", Timeout: t, Handle: b.cmdWeek},
		{Name: "add", Description: "Add a new task", Usage: "/add <task>", Timeout: t, Handle: b.cmdAdd},
		{Name: "complete", Description: "Mark tasks as complete", Aliases: []string{"done"}, Timeout: t, Handle: b.cmdComplete},
		{Name: "schedule", Description: "Get daily schedule suggestions", Timeout: t, Handle: b.cmdSchedule},
		{Name: "due", Description: "Change a task's due time", Usage: "/due <id> <when>", Timeout: t, Handle: b.cmdDue},
		{Name: "priority", Description: "Change a task's priority", Usage: "/priority <id> <low|medium|high|urgent>", Timeout: t, Handle: b.cmdPriority},
		{Name: "cancel", Description: "Cancel a task", Usage: "/cancel <id>", Timeout: t, Handle: b.cmdCancel},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	t := b.d.CommandTimeout
	return []router.CallbackRoute{
		{Scope: callbackScope, Action: actDone, Timeout: t, Handle: b.cbDone},
		{Scope: callbackScope, Action: actStop, Timeout: t, Handle: b.cbStop},
		{Scope: callbackScope, Action: actPick, Timeout: t, Handle: b.cbPick},
		{Scope: callbackScope, Action: actAdd, Timeout: t, Handle: b.cbAdd},
	}
}

func htmlOpts(buttons [][]transport.Button) *transport.SendOptions {
	return &transport.SendOptions{ParseMode: transport.ParseHTML, DisablePreview: true, Buttons: buttons}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Reply(ctx, text, htmlOpts(nil))
	return err
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	if b.menu != nil {
		if err := b.menu(ctx); err != nil {
			req.Logger.Warn("menu update failed", logx.Err(err))
		}
	}
	return reply(ctx, req, welcomeMessage)
}

func (b *Bot) cmdToday(ctx context.Context, req *router.Request) error {
	tasks, err := b.d.Agenda.Today(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	var kb tgui.Keyboard
	kb.Row(tgui.Btn("✅ Complete Task", tgui.Data(callbackScope, actPick, ""))).
		Row(tgui.Btn("➕ Add New Task", tgui.Data(callbackScope, actAdd, "")))
	text := todayMessage(tasks, b.d.Agenda.Location())
	_, err = req.Reply(ctx, text, htmlOpts(kb.Rows()))
	return err
}

func (b *Bot) cmdWeek(ctx context.Context, req *router.Request) error {
	tasks, err := b.d.Agenda.Week(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return reply(ctx, req, weekMessage(tasks, b.d.Agenda.Location()))
}

func (b *Bot) cmdAdd(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return reply(ctx, req, "Please specify a task. Example: <code>/add Call mom at 6 PM</code>")
	}
	d, ok := b.extract(ctx, req.ArgText)
	if !ok {
		d = todo.Draft{Title: req.ArgText, Priority: todo.PriorityMedium}
		t, err := b.d.Agenda.Create(ctx, d, req.MessageID)
		if err != nil {
			return b.createFailed(ctx, req, err)
		}
		return reply(ctx, req, "📝 Added task: <b>"+string(tgui.Esc(t.Title))+"</b>\n🆔 "+string(tgui.Code(t.ShortID())))
	}
	return b.create(ctx, req, d)
}

func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	d, ok := b.extract(ctx, req.Text)
	if !ok {
		return reply(ctx, req, "🤔 I couldn't find a task in that.\n\n"+addHint)
	}
	return b.create(ctx, req, d)
}

// extract runs the extractor; any error counts as "no task".
func (b *Bot) extract(ctx context.Context, text string) (todo.Draft, bool) {
	if b.d.Extractor == nil {
		return todo.Draft{}, false
	}
	d, ok, err := b.d.Extractor.Extract(ctx, text, b.d.Agenda.Now())
	if err != nil {
		b.log.Warn("task extraction failed", logx.Err(err))
		return todo.Draft{}, false
	}
	return d, ok
}

func (b *Bot) create(ctx context.Context, req *router.Request, d todo.Draft) error {
	t, err := b.d.Agenda.Create(ctx, d, req.MessageID)
	if err != nil {
		return b.createFailed(ctx, req, err)
	}
	return reply(ctx, req, createdMessage(t, b.d.Agenda.Now(), b.d.Agenda.Location()))
}

func (b *Bot) createFailed(ctx context.Context, req *router.Request, err error) error {
	if errors.Is(err, todo.ErrEmptyTitle) {
		_ = reply(ctx, req, "❌ The task needs a title.")
		return nil
	}
	_ = reply(ctx, req, "❌ Sorry, I couldn't create that task. Could you try rephrasing it?")
	return err
}

func (b *Bot) cmdComplete(ctx context.Context, req *router.Request) error {
	tasks, err := b.d.Agenda.Open(ctx, pickLimit)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(tasks) == 0 {
		return reply(ctx, req, "🎉 No pending tasks! You're all caught up!")
	}
	text, buttons := pickMessage(tasks, b.d.Agenda.Location())
	_, err = req.Reply(ctx, text, htmlOpts(buttons))
	return err
}

func (b *Bot) cmdSchedule(ctx context.Context, req *router.Request) error {
	tasks, err := b.d.Agenda.Today(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(tasks) == 0 {
		return reply(ctx, req, "No tasks for today. How about planning tomorrow? 📅")
	}
	plan, err := b.d.Suggester.Suggest(ctx, tasks, b.d.Agenda.Now())
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return reply(ctx, req, "🗓️ <b>Suggested Schedule for Today:</b>\n\n"+string(tgui.Esc(plan)))
}

// splitRef splits "<id> <rest>" arguments.
func splitRef(args string) (string, string) {
	args = strings.TrimSpace(args)
	i := strings.IndexAny(args, " \t")
	if i < 0 {
		return args, ""
	}
	return args[:i], strings.TrimSpace(args[i+1:])
}

func (b *Bot) cmdDue(ctx context.Context, req *router.Request) error {
	ref, when := splitRef(req.ArgText)
	if ref == "" || when == "" {
		return reply(ctx, req, "Usage: <code>/due &lt;id&gt; &lt;when&gt;</code>, e.g. <code>/due 1a2b3c4d tomorrow 5pm</code>")
	}
	due, ok := extract.ParseWhen(when, b.d.Agenda.Now())
	if !ok {
		return reply(ctx, req, "❌ I couldn't understand that time. Try \"tomorrow 5pm\" or \"in 2 hours\".")
	}
	t, err := b.edit(ctx, ref, agenda.Patch{Due: &due})
	if err != nil {
		return b.editFailed(ctx, req, err)
	}
	return reply(ctx, req, "⏰ Rescheduled: <b>"+string(tgui.Esc(t.Title))+"</b>\nDue: "+t.Due.In(b.d.Agenda.Location()).Format(DueLayout))
}

func (b *Bot) cmdPriority(ctx context.Context, req *router.Request) error {
	ref, level := splitRef(req.ArgText)
	p, ok := todo.ParsePriority(level)
	if ref == "" || !ok {
		return reply(ctx, req, "Usage: <code>/priority &lt;id&gt; low|medium|high|urgent</code>")
	}
	t, err := b.edit(ctx, ref, agenda.Patch{Priority: &p})
	if err != nil {
		return b.editFailed(ctx, req, err)
	}
	return reply(ctx, req, fmt.Sprintf("%s Priority of <b>%s</b> is now %s", emoji(t.Priority), tgui.Esc(t.Title), priorityLabel(t.Priority)))
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	ref, _ := splitRef(req.ArgText)
	if ref == "" {
		return reply(ctx, req, "Usage: <code>/cancel &lt;id&gt;</code>")
	}
	t, err := b.d.Agenda.Resolve(ctx, ref)
	if err != nil {
		return b.editFailed(ctx, req, err)
	}
	if t, err = b.d.Agenda.Cancel(ctx, t.ID); err != nil {
		return b.editFailed(ctx, req, err)
	}
	return reply(ctx, req, "🗑️ Cancelled: <b>"+string(tgui.Esc(t.Title))+"</b>")
}

func (b *Bot) edit(ctx context.Context, ref string, p agenda.Patch) (todo.Task, error) {
	t, err := b.d.Agenda.Resolve(ctx, ref)
	if err != nil {
		return todo.Task{}, err
	}
	return b.d.Agenda.Edit(ctx, t.ID, p)
}

// userError maps known task errors to a reply. ok is false for unexpected
// errors.
func userError(err error) (string, bool) {
	switch {
	case errors.Is(err, todo.ErrNotFound):
		return "❌ Task not found.", true
	case errors.Is(err, agenda.ErrAmbiguous):
		return "❌ That id matches more than one task; use more characters.", true
	case errors.Is(err, agenda.ErrNotEditable), errors.Is(err, todo.ErrInvalidTransition):
		return "ℹ️ That task is already closed.", true
	case errors.Is(err, todo.ErrEmptyTitle):
		return "❌ The task needs a title.", true
	}
	return "", false
}

func (b *Bot) editFailed(ctx context.Context, req *router.Request, err error) error {
	if msg, ok := userError(err); ok {
		_ = reply(ctx, req, msg)
		return nil
	}
	return b.fail(ctx, req, err)
}

func (b *Bot) fail(ctx context.Context, req *router.Request, err error) error {
	_ = reply(ctx, req, "⚠️ Something went wrong. Please try again.")
	return err
}

func (b *Bot) cbDone(ctx context.Context, req *router.Request) error {
	t, err := b.d.Agenda.Complete(ctx, req.Payload)
	if err != nil {
		if msg, ok := userError(err); ok {
			return req.Edit(ctx, msg, nil)
		}
		return err
	}
	return req.Edit(ctx, "✅ Completed: <b>"+string(tgui.Esc(t.Title))+"</b>\n\nGreat job! 🎉", htmlOpts(nil))
}

func (b *Bot) cbStop(ctx context.Context, req *router.Request) error {
	t, _, err := b.d.Agenda.StopReminders(ctx, req.Payload)
	if err != nil {
		if msg, ok := userError(err); ok {
			return req.Edit(ctx, msg, nil)
		}
		_ = req.Edit(ctx, "❌ Error stopping reminders.", nil)
		return err
	}
	text := "🔕 <b>Reminders Stopped</b>\n\nNo more recurring reminders for: <b>" + string(tgui.Esc(t.Title)) + "</b>\n\nYou can still complete it using /complete."
	return req.Edit(ctx, text, htmlOpts(nil))
}

func (b *Bot) cbPick(ctx context.Context, req *router.Request) error {
	return b.cmdComplete(ctx, req)
}

func (b *Bot) cbAdd(ctx context.Context, req *router.Request) error {
	return req.Edit(ctx, addHint, nil)
}

// Greet sends the daily greeting with today's open task count.
func (b *Bot) Greet(ctx context.Context) error {
	if !b.d.Home.Valid() {
		return nil
	}
	tasks, err := b.d.Agenda.Today(ctx)
	if err != nil {
		return fmt.Errorf("load today's tasks: %w", err)
	}
	return b.d.Notifier.Notify(ctx, transport.Notification{
		Priority: reminderPriority,
		Target:   b.d.Home,
		Text:     greetingMessage(len(tasks)),
		Options:  htmlOpts(nil),
		Key:      "greeting:" + b.d.Agenda.Now().Format("2006-01-02"),
	})
}
