// Package store persists the desktop task board in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskrails/internal/domain"
)

// SQLiteTaskStore implements domain.TaskStore using SQLite. Reads run
// concurrently under WAL; every write goes through one writer lock.
type SQLiteTaskStore struct {
	db  *sql.DB
	wmu sync.Mutex
	now func() time.Time
}

// NewSQLiteTaskStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteTaskStore(dbPath string) (*SQLiteTaskStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create task db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task db: %w", err)
	}
	return &SQLiteTaskStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'todo',
			phase       TEXT NOT NULL DEFAULT '',
			priority    TEXT NOT NULL DEFAULT '',
			assignee    TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS activity (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_task ON activity(task_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

// CountTasks returns the number of tasks on the board.
func (s *SQLiteTaskStore) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of tasks per status.
func (s *SQLiteTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// CreateTask inserts t. An empty ID is filled in; an empty status defaults
// to todo.
func (s *SQLiteTaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return domain.NewDomainError("TaskStore.CreateTask", domain.ErrInvalidInput, "title is required")
	}
	if t.Status == "" {
		t.Status = domain.TaskTodo
	}
	if !t.Status.Valid() {
		return domain.NewDomainError("TaskStore.CreateTask", domain.ErrInvalidTaskStatus, string(t.Status))
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, phase, priority, assignee, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Phase, t.Priority, t.Assignee,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := insertActivity(ctx, tx, t.ID, "created", t.Title, now); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTask returns the task with the given id.
func (s *SQLiteTaskStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, phase, priority, assignee, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("TaskStore.GetTask", domain.ErrTaskNotFound, id)
	}
	return t, err
}

// ListTasks returns tasks ordered by creation time. An empty status lists
// every task.
func (s *SQLiteTaskStore) ListTasks(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT id, title, description, status, phase, priority, assignee, created_at, updated_at FROM tasks`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task to status and records comment in the
// activity log.
func (s *SQLiteTaskStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, comment string) error {
	if !status.Valid() {
		return domain.NewDomainError("TaskStore.UpdateTaskStatus", domain.ErrInvalidTaskStatus,
			fmt.Sprintf("%q is not one of todo, doing, done", status))
	}
	now := s.now().UTC()

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update task: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("TaskStore.UpdateTaskStatus", domain.ErrTaskNotFound, id)
	}

	detail := string(status)
	if comment != "" {
		detail += ": " + comment
	}
	if err := insertActivity(ctx, tx, id, "status", detail, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Activity is one entry of a task's history.
type Activity struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// ListActivity returns the history of a task, oldest first.
func (s *SQLiteTaskStore) ListActivity(ctx context.Context, taskID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT task_id, kind, detail, created_at FROM activity WHERE task_id = ? ORDER BY id", taskID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var created string
		if err := rows.Scan(&a.TaskID, &a.Kind, &a.Detail, &created); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func insertActivity(ctx context.Context, tx *sql.Tx, taskID, kind, detail string, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO activity (task_id, kind, detail, created_at) VALUES (?, ?, ?, ?)",
		taskID, kind, detail, at.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var status, createdStr, updatedStr string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Phase, &t.Priority, &t.Assignee, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &t, nil
}

var _ domain.TaskStore = (*SQLiteTaskStore)(nil)
