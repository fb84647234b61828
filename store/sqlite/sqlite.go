// Package sqlite persists MiroFlow task-run state using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	miroflow "github.com/MiroMindAI/MiroFlow"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs when it opens and on every save. If not set, no logs
// are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements miroflow.TaskStore backed by a local SQLite file. The
// full task state is kept as a JSON document alongside the queryable
// columns, so a row parses back into a miroflow.TaskState losslessly.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ miroflow.TaskStore = (*Store)(nil)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a single
// shared connection pool with SetMaxOpenConns(1) so that all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused by
// concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: task store opened", "path", dbPath)
	return s
}

// Init creates the task_runs table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS task_runs (
		task_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		final_boxed_answer TEXT,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init: %w", err)
	}
	return nil
}

// SaveTaskState upserts the full task state under its task id.
func (s *Store) SaveTaskState(ctx context.Context, state miroflow.TaskState) error {
	start := time.Now()
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: marshal task state: %w", err)
	}
	var endTime any
	if !state.EndTime.IsZero() {
		endTime = state.EndTime.Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO task_runs
		(task_id, status, start_time, end_time, final_boxed_answer, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			final_boxed_answer = excluded.final_boxed_answer,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.TaskID, state.Status, state.StartTime.Unix(), endTime,
		state.FinalBoxedAnswer, string(doc), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save task state: %w", err)
	}
	s.logger.Debug("sqlite: task state saved", "task_id", state.TaskID, "took", time.Since(start))
	return nil
}

// GetTaskState loads one task state by id.
func (s *Store) GetTaskState(ctx context.Context, taskID string) (miroflow.TaskState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM task_runs WHERE task_id = ?`, taskID).Scan(&doc)
	if err != nil {
		return miroflow.TaskState{}, fmt.Errorf("sqlite: get task state: %w", err)
	}
	var state miroflow.TaskState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return miroflow.TaskState{}, fmt.Errorf("sqlite: decode task state: %w", err)
	}
	return state, nil
}

// ListTaskStates returns up to limit task states, most recently updated
// first.
func (s *Store) ListTaskStates(ctx context.Context, limit int) ([]miroflow.TaskState, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM task_runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list task states: %w", err)
	}
	defer rows.Close()

	var states []miroflow.TaskState
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan task state: %w", err)
		}
		var state miroflow.TaskState
		if err := json.Unmarshal([]byte(doc), &state); err != nil {
			return nil, fmt.Errorf("sqlite: decode task state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
