package bot

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/todo"
	"remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

// DueLayout is how due times are shown in replies.
const DueLayout = "January 02, 2006 at 03:04 PM"

var priorityEmoji = map[todo.Priority]string{
	todo.PriorityLow:    "🟢",
	todo.PriorityMedium: "🟡",
	todo.PriorityHigh:   "🟠",
	todo.PriorityUrgent: "🔴",
}

func emoji(p todo.Priority) string {
	if e, ok := priorityEmoji[p]; ok {
		return e
	}
	return "🟡"
}

func priorityLabel(p todo.Priority) string {
	s := string(p)
	if s == "" {
		return "Medium"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func reminderHeader(n reminder.Notice) string {
	if n.Recurring() {
		if n.Priority == todo.PriorityUrgent {
			return "🚨 <b>URGENT - STILL PENDING!</b>"
		}
		return "🔔 <b>HIGH PRIORITY - STILL PENDING!</b>"
	}
	switch n.Kind {
	case reminder.KindUrgent30, reminder.KindUrgent15, reminder.KindUrgent5:
		return "🚨 <b>URGENT REMINDER!</b>"
	case reminder.KindHigh15:
		return "🔔 <b>HIGH PRIORITY REMINDER!</b>"
	default:
		return "⏰ <b>Reminder!</b>"
	}
}

func minutesLine(m int) string {
	switch {
	case m > 0:
		return fmt.Sprintf("⏱️ Due in %d minutes!", m)
	case m < 0:
		return fmt.Sprintf("⚠️ Overdue by %d minutes!", -m)
	default:
		return "⏱️ Due NOW!"
	}
}

// ReminderMessage renders a reminder notice as HTML with its action
// buttons.
func ReminderMessage(n reminder.Notice, actions []reminder.Action) (string, [][]transport.Button) {
	lines := []tgui.H{
		tgui.H(reminderHeader(n) + " " + emoji(n.Priority)),
		"",
		"📝 " + tgui.Esc(n.Title),
	}
	if n.Description != "" {
		lines = append(lines, "💭 "+tgui.Esc(n.Description))
	}
	lines = append(lines, tgui.H(minutesLine(n.Minutes)), "")
	if n.Recurring() {
		lines = append(lines, "Please complete this important task! 🎯")
	} else {
		lines = append(lines, "Good luck! You've got this! 💪")
	}

	var kb tgui.Keyboard
	for _, a := range actions {
		switch a {
		case reminder.ActionComplete:
			kb.Row(tgui.Btn("✅ Mark Complete", tgui.Data(callbackScope, actDone, n.TaskID)))
		case reminder.ActionStopRecurring:
			kb.Row(tgui.Btn("🔕 Stop Reminders", tgui.Data(callbackScope, actStop, n.TaskID)))
		}
	}
	return joinLines(lines), kb.Rows()
}

// joinLines keeps blank entries as paragraph breaks.
func joinLines(lines []tgui.H) string {
	ss := make([]string, len(lines))
	for i, l := range lines {
		ss[i] = string(l)
	}
	return strings.Join(ss, "\n")
}

func createdMessage(t todo.Task, now time.Time, loc *time.Location) string {
	lines := []tgui.H{"✅ <b>Task Added:</b>", "", "📝 " + tgui.Esc(t.Title)}
	if t.Description != "" {
		lines = append(lines, "💭 "+tgui.Esc(t.Description))
	}
	if t.HasDue() {
		lines = append(lines, tgui.H("⏰ Due: "+t.Due.In(loc).Format(DueLayout)))
	}
	lines = append(lines,
		tgui.H("🔥 Priority: "+priorityLabel(t.Priority)),
		"🆔 "+tgui.Code(t.ShortID()),
	)
	if t.HasDue() && sameDay(t.Due, now, loc) {
		lines = append(lines, "", "💪 You've got this! I'll remind you before it's due.")
	}
	return joinLines(lines)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func clockOf(t todo.Task, loc *time.Location, layout, none string) string {
	if !t.HasDue() {
		return none
	}
	return t.Due.In(loc).Format(layout)
}

func todayMessage(tasks []todo.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "📅 <b>Today's Schedule</b>\n\nNo tasks scheduled for today! Enjoy your free time or add some tasks. 😊"
	}
	var b strings.Builder
	b.WriteString("📅 <b>Today's Schedule</b>\n\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s <b>%s</b> - %s", i+1, emoji(t.Priority), tgui.Esc(t.Title), clockOf(t, loc, "15:04", "No time set"))
		if t.Status == todo.StatusOverdue {
			b.WriteString(" (overdue)")
		}
		b.WriteString("\n")
		if t.Description != "" {
			b.WriteString("   ↳ " + string(tgui.Esc(t.Description)) + "\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func weekMessage(tasks []todo.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "📋 <b>This Week's Tasks</b>\n\nNo tasks scheduled for this week!"
	}
	var b strings.Builder
	b.WriteString("📋 <b>This Week's Tasks</b>\n")
	current := ""
	for _, t := range tasks {
		day := clockOf(t, loc, "Monday, January 02", "No date")
		if day != current {
			current = day
			b.WriteString("\n<b>" + day + "</b>\n")
		}
		fmt.Fprintf(&b, "  %s %s - %s\n", emoji(t.Priority), tgui.Esc(t.Title), clockOf(t, loc, "15:04", "No time"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func pickMessage(tasks []todo.Task, loc *time.Location) (string, [][]transport.Button) {
	var b strings.Builder
	b.WriteString("✅ <b>Select a task to complete:</b>\n\n")
	var kb tgui.Keyboard
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, tgui.Esc(t.Title), clockOf(t, loc, "01/02 15:04", "No time"))
		kb.Row(tgui.Btn("✅ "+tgui.TruncRunes(t.Title, 30), tgui.Data(callbackScope, actDone, t.ID)))
	}
	return strings.TrimRight(b.String(), "\n"), kb.Rows()
}

func greetingMessage(count int) string {
	msg := "🌅 <b>Good morning!</b> A fresh day, a fresh start.\n\n"
	switch count {
	case 0:
		return msg + "🆓 Your schedule is clear today! What would you like to accomplish? Just tell me your plans and I'll help you stay organized."
	case 1:
		return msg + "📋 You have 1 task scheduled for today. Type /today to see it or just tell me what else you'd like to add! 😊"
	default:
		return msg + fmt.Sprintf("📋 You have %d tasks scheduled for today. Type /today to see them or just tell me what else you'd like to add! 😊", count)
	}
}

const welcomeMessage = `🤖 <b>Welcome to your Personal Assistant!</b>

I'm here to help you stay organized and productive.

📝 <b>Task Management:</b>
• Add tasks naturally: "Remind me to call John at 3 PM"
• View today's tasks: /today
• View this week: /week
• Complete tasks: /complete
• Change a task: /due, /priority, /cancel

⏰ <b>Smart Reminders:</b>
• Standard tasks get a reminder 15 minutes before they are due
• High and urgent tasks keep nudging you until they are done
• Daily morning check-ins

🗓️ <b>Scheduling:</b>
• Get schedule suggestions: /schedule

Just start chatting with me naturally! 😊`

const addHint = `📝 Just tell me what you need to do! For example:

• "Remind me to call John at 3 PM"
• "HIGH PRIORITY: Submit report tomorrow at 5 PM"
• "URGENT: Buy groceries today"`
