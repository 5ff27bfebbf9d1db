// Package store persists tasks, reminder records and the bot log.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

// Config selects the backend.
//
// Driver values:
//   - "sqlite": SQLite database at Path
//   - "file": in-memory store snapshotted to the JSON file at Path
//   - "memory": in-memory only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

type LogType string

const (
	LogInfo          LogType = "info"
	LogError         LogType = "error"
	LogWarning       LogType = "warning"
	LogTaskCreated   LogType = "task_created"
	LogTaskCompleted LogType = "task_completed"
	LogTaskCancelled LogType = "task_cancelled"
	LogReminderSent  LogType = "reminder_sent"
	LogTasksOverdue  LogType = "tasks_overdue"
)

// LogEntry is one row of the bot activity log.
type LogEntry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Type    LogType   `json:"type"`
	Message string    `json:"message"`
	TaskID  string    `json:"task_id,omitempty"`
	Meta    string    `json:"meta,omitempty"`
}

type Store interface {
	todo.Store
	reminder.RecordStore
	reminder.SentFlagger

	ListReminders(ctx context.Context, taskID string) ([]reminder.Record, error)
	AppendLog(ctx context.Context, e LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)
	Close() error
}

var ErrClosed = errors.New("store closed")

// Open initializes the configured backend. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage.path is required for the file driver")
		}
		return openMemory(cfg.Path, log)
	case "memory":
		return openMemory("", log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// validPrefix guards FindByPrefix against LIKE metacharacters.
func validPrefix(p string) bool {
	if p == "" {
		return false
	}
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r == '-':
		default:
			return false
		}
	}
	return true
}
