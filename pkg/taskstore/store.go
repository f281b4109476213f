package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Store persists tasks in SQLite. Every mutating operation runs its
// read-check-write sequence inside a single transaction so concurrent
// mutations of the same task id resolve to one committed winner.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// New opens (creating if necessary) the task database
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Task store initialized")

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed);
	`)
	return err
}

// Create inserts a new task for the given user and returns the stored record
func (s *Store) Create(ctx context.Context, userID, title string, description *string) (*Task, error) {
	ctx, span := tracing.StartSpan(ctx, "taskdeck.taskstore", "taskstore.create",
		attribute.String("user_id", userID))
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordStoreQuery("create", time.Since(start)) }()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		userID, title, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	s.logger.Debug().Int64("task_id", id).Str("user_id", userID).Msg("Task created")

	return &Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Get loads a task by id regardless of owner
func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery("get", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// List returns the user's tasks filtered by status, ordered by id ascending
// (creation order).
func (s *Store) List(ctx context.Context, userID string, status Status) ([]Task, error) {
	ctx, span := tracing.StartSpan(ctx, "taskdeck.taskstore", "taskstore.list",
		attribute.String("user_id", userID),
		attribute.String("status", string(status)))
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordStoreQuery("list", time.Since(start)) }()

	query := `SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE user_id = ?`
	args := []interface{}{userID}

	switch status {
	case StatusCompleted:
		query += " AND completed = 1"
	case StatusPending:
		query += " AND completed = 0"
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		var t Task
		var completed int
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Completed = completed != 0
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetCompleted sets the completion flag of the user's task and refreshes
// updated_at. The existence and ownership checks run in the same transaction
// as the write.
func (s *Store) SetCompleted(ctx context.Context, id int64, userID string, completed bool) (*Task, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery("set_completed", time.Since(start)) }()

	return s.mutate(ctx, id, userID, func(tx *sql.Tx, task *Task) error {
		now := time.Now().UTC()
		flag := 0
		if completed {
			flag = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ?`,
			flag, now, id,
		); err != nil {
			return err
		}
		task.Completed = completed
		task.UpdatedAt = now
		return nil
	})
}

// Update applies a partial update to the user's task. Nil fields are left
// unchanged; updated_at is always refreshed.
func (s *Store) Update(ctx context.Context, id int64, userID string, fields UpdateFields) (*Task, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery("update", time.Since(start)) }()

	return s.mutate(ctx, id, userID, func(tx *sql.Tx, task *Task) error {
		now := time.Now().UTC()
		if fields.Title != nil {
			task.Title = *fields.Title
		}
		if fields.Description != nil {
			task.Description = fields.Description
		}
		task.UpdatedAt = now
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
			task.Title, task.Description, now, id,
		)
		return err
	})
}

// Delete removes the user's task and returns the pre-deletion snapshot
func (s *Store) Delete(ctx context.Context, id int64, userID string) (*Task, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery("delete", time.Since(start)) }()

	return s.mutate(ctx, id, userID, func(tx *sql.Tx, task *Task) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}

// mutate runs the read-check-write sequence for one task inside a single
// transaction. The callback receives the loaded task and may modify it to
// shape the returned record.
func (s *Store) mutate(ctx context.Context, id int64, userID string, fn func(tx *sql.Tx, task *Task) error) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotOwner
	}

	if err := fn(tx, task); err != nil {
		return nil, fmt.Errorf("failed to mutate task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return task, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var completed int
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &completed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Completed = completed != 0
	return &t, nil
}
