package eventbus

// Event types published by remindbot components.
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskCompleted = "task.completed"
	TaskCancelled = "task.cancelled"
	TasksOverdue  = "tasks.overdue"

	ReminderSent   = "reminder.sent"
	ReminderFailed = "reminder.failed"

	JobStarted  = "job.started"
	JobFinished = "job.finished"
	JobFailed   = "job.failed"
	JobSkipped  = "job.skipped"
	JobDropped  = "job.dropped"

	ConfigReloaded = "config.reloaded"
)

// Notifier lifecycle.
const (
	NotifySent    = "notifier.sent"
	NotifyFailed  = "notifier.failed"
	NotifyDropped = "notifier.dropped"
	NotifyDeduped = "notifier.deduped"
)
