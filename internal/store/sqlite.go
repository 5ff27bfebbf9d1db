package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.Named("store")}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, title, description, due_at, priority, status, reminder_sent, message_id, created_at, updated_at, completed_at`

func (s *sqliteStore) Create(ctx context.Context, t todo.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullStr(t.Description), nullMillis(t.Due), string(t.Priority), string(t.Status),
		boolInt(t.ReminderSent), t.MessageID, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), nullMillis(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (todo.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Task{}, todo.ErrNotFound
	}
	return t, err
}

const updateTask = `UPDATE tasks SET
	title = ?, description = ?, due_at = ?, priority = ?, status = ?,
	reminder_sent = ?, message_id = ?, updated_at = ?, completed_at = ?
	WHERE id = ?`

func taskArgs(t todo.Task) []any {
	return []any{
		t.Title, nullStr(t.Description), nullMillis(t.Due), string(t.Priority), string(t.Status),
		boolInt(t.ReminderSent), t.MessageID, t.UpdatedAt.UnixMilli(), nullMillis(t.CompletedAt),
		t.ID,
	}
}

func (s *sqliteStore) Update(ctx context.Context, t todo.Task) error {
	res, err := s.db.ExecContext(ctx, updateTask, taskArgs(t)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return mustAffect(res)
}

func (s *sqliteStore) UpdateIf(ctx context.Context, t todo.Task, from todo.Status) error {
	res, err := s.db.ExecContext(ctx, updateTask+` AND status = ?`, append(taskArgs(t), string(from))...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	cur, err := s.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, not %s", todo.ErrConflict, t.ID, cur.Status, from)
}

func (s *sqliteStore) ListDueBefore(ctx context.Context, ts time.Time, status todo.Status) ([]todo.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND due_at IS NOT NULL AND due_at < ?
		 ORDER BY due_at, created_at`,
		string(status), ts.UnixMilli())
}

func (s *sqliteStore) ListDueBetween(ctx context.Context, from, to time.Time, statuses ...todo.Status) ([]todo.Task, error) {
	in, args := statusIn(statuses)
	args = append(args, from.UnixMilli(), to.UnixMilli())
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status IN (`+in+`) AND due_at IS NOT NULL AND due_at >= ? AND due_at < ?
		 ORDER BY due_at, created_at`,
		args...)
}

func (s *sqliteStore) ListByStatus(ctx context.Context, limit int, statuses ...todo.Status) ([]todo.Task, error) {
	if limit <= 0 {
		limit = -1
	}
	in, args := statusIn(statuses)
	args = append(args, limit)
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status IN (`+in+`)
		 ORDER BY due_at IS NULL, due_at, created_at
		 LIMIT ?`,
		args...)
}

func (s *sqliteStore) FindByPrefix(ctx context.Context, prefix string) ([]todo.Task, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if !validPrefix(prefix) {
		return nil, nil
	}
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id LIKE ? ORDER BY created_at`,
		prefix+"%")
}

func (s *sqliteStore) UpdateStatusBatch(ctx context.Context, ids []string, from, to todo.Status, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+3)
	args = append(args, string(to), at.UnixMilli(), string(from))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ? AND id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("batch status update: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) SetReminderSent(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET reminder_sent = 1 WHERE id = ?`, taskID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) AddReminder(ctx context.Context, r reminder.Record) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(task_id, kind, fire_at, every_ms, message, sent, sent_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.TaskID, r.Kind.String(), r.FireAt.UnixMilli(), r.Every.Milliseconds(), r.Message,
		boolInt(r.Sent), nullMillis(r.SentAt), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("add reminder: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) MarkReminderSent(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET sent = 1, sent_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) ListReminders(ctx context.Context, taskID string) ([]reminder.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, kind, fire_at, every_ms, message, sent, sent_at, created_at
		 FROM reminders WHERE task_id = ? ORDER BY fire_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Record
	for rows.Next() {
		var (
			r             reminder.Record
			kind          string
			fireAt, every int64
			created       int64
			sent          int
			sentAt        sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &kind, &fireAt, &every, &r.Message, &sent, &sentAt, &created); err != nil {
			return nil, err
		}
		r.Kind, _ = reminder.ParseKind(kind)
		r.FireAt = fromMillis(fireAt)
		r.Every = time.Duration(every) * time.Millisecond
		r.Sent = sent != 0
		if sentAt.Valid {
			r.SentAt = fromMillis(sentAt.Int64)
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_logs(at, type, message, task_id, meta) VALUES(?,?,?,?,?)`,
		e.At.UnixMilli(), string(e.Type), e.Message, nullStr(e.TaskID), nullStr(e.Meta))
	return err
}

func (s *sqliteStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, type, message, task_id, meta FROM bot_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e            LogEntry
			at           int64
			typ          string
			taskID, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &typ, &e.Message, &taskID, &meta); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		e.Type = LogType(typ)
		e.TaskID = taskID.String
		e.Meta = meta.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]todo.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []todo.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (todo.Task, error) {
	var (
		t                  todo.Task
		desc               sql.NullString
		due, completed     sql.NullInt64
		prio, status       string
		sent               int
		created, updatedAt int64
	)
	if err := sc.Scan(&t.ID, &t.Title, &desc, &due, &prio, &status, &sent, &t.MessageID, &created, &updatedAt, &completed); err != nil {
		return todo.Task{}, err
	}
	t.Description = desc.String
	if due.Valid {
		t.Due = fromMillis(due.Int64)
	}
	t.Priority = todo.Priority(prio)
	t.Status = todo.Status(status)
	t.ReminderSent = sent != 0
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updatedAt)
	if completed.Valid {
		t.CompletedAt = fromMillis(completed.Int64)
	}
	return t, nil
}

func statusIn(statuses []todo.Status) (string, []any) {
	if len(statuses) == 0 {
		statuses = []todo.Status{todo.StatusPending}
	}
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ","), args
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return todo.ErrNotFound
	}
	return nil
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
