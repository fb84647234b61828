// Package postgres persists MiroFlow task-run state using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	miroflow "github.com/MiroMindAI/MiroFlow"
)

// Store implements miroflow.TaskStore backed by PostgreSQL. The full task
// state is kept as a JSONB document alongside the queryable columns.
type Store struct {
	pool *pgxpool.Pool
}

var _ miroflow.TaskStore = (*Store)(nil)

// New creates a Store around an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the task_runs table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS task_runs (
		task_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		final_boxed_answer TEXT,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
	return nil
}

// SaveTaskState upserts the full task state under its task id.
func (s *Store) SaveTaskState(ctx context.Context, state miroflow.TaskState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal task state: %w", err)
	}
	var endTime *time.Time
	if !state.EndTime.IsZero() {
		endTime = &state.EndTime
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO task_runs
		(task_id, status, start_time, end_time, final_boxed_answer, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			final_boxed_answer = EXCLUDED.final_boxed_answer,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		state.TaskID, state.Status, state.StartTime, endTime,
		state.FinalBoxedAnswer, doc, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: save task state: %w", err)
	}
	return nil
}

// GetTaskState loads one task state by id.
func (s *Store) GetTaskState(ctx context.Context, taskID string) (miroflow.TaskState, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM task_runs WHERE task_id = $1`, taskID).Scan(&doc)
	if err != nil {
		return miroflow.TaskState{}, fmt.Errorf("postgres: get task state: %w", err)
	}
	var state miroflow.TaskState
	if err := json.Unmarshal(doc, &state); err != nil {
		return miroflow.TaskState{}, fmt.Errorf("postgres: decode task state: %w", err)
	}
	return state, nil
}

// ListTaskStates returns up to limit task states, most recently updated
// first.
func (s *Store) ListTaskStates(ctx context.Context, limit int) ([]miroflow.TaskState, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM task_runs ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list task states: %w", err)
	}
	defer rows.Close()

	var states []miroflow.TaskState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan task state: %w", err)
		}
		var state miroflow.TaskState
		if err := json.Unmarshal(doc, &state); err != nil {
			return nil, fmt.Errorf("postgres: decode task state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}
