package todo

import (
	"context"
	"time"
)

// Repository is the persistence contract the reminder core depends on.
// Get returns ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	Update(ctx context.Context, t Task) error
	// ListDueBefore returns tasks with the given status and a due time
	// strictly before ts, ordered by due time.
	ListDueBefore(ctx context.Context, ts time.Time, status Status) ([]Task, error)
}

// BatchUpdater moves many tasks between statuses in one statement. Rows no
// longer in from are left untouched; the number of changed rows is returned.
type BatchUpdater interface {
	UpdateStatusBatch(ctx context.Context, ids []string, from, to Status, at time.Time) (int, error)
}

// ConditionalUpdater writes a task only while its stored status still
// equals from. A row in another status yields ErrConflict.
type ConditionalUpdater interface {
	UpdateIf(ctx context.Context, t Task, from Status) error
}

// Lister serves the read-side views.
type Lister interface {
	// ListDueBetween returns tasks due in [from, to) in any of statuses,
	// ordered by due time.
	ListDueBetween(ctx context.Context, from, to time.Time, statuses ...Status) ([]Task, error)
	// ListByStatus returns up to limit tasks in any of statuses ordered by
	// due time, undated tasks last. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, limit int, statuses ...Status) ([]Task, error)
	// FindByPrefix returns tasks whose id starts with prefix.
	FindByPrefix(ctx context.Context, prefix string) ([]Task, error)
}

// Store is the full task store.
type Store interface {
	Repository
	BatchUpdater
	ConditionalUpdater
	Lister
}
