package miroflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StepLog is one append-only structured log entry of a run.
type StepLog struct {
	StepName string `json:"step_name"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

// SessionHistory is a persisted snapshot of one agent session.
type SessionHistory struct {
	SystemPrompt   string    `json:"system_prompt"`
	MessageHistory []Message `json:"message_history"`
}

// TaskState is the persisted per-task record. It is written atomically on
// every save so the file parses even when the run is interrupted.
type TaskState struct {
	TaskID             string                    `json:"task_id"`
	Status             string                    `json:"status"`
	StartTime          time.Time                 `json:"start_time"`
	EndTime            time.Time                 `json:"end_time,omitzero"`
	FinalBoxedAnswer   string                    `json:"final_boxed_answer,omitempty"`
	GroundTruth        string                    `json:"ground_truth,omitempty"`
	JudgeResult        string                    `json:"judge_result,omitempty"`
	MainHistory        SessionHistory            `json:"main_agent_message_history"`
	SubHistorySessions map[string]SessionHistory `json:"sub_agent_message_history_sessions"`
	StepLogs           []StepLog                 `json:"step_logs"`
	PerformanceSummary string                    `json:"performance_summary,omitempty"`
	Error              string                    `json:"error,omitempty"`
}

// TaskStore persists task state snapshots; the store subpackages provide
// SQLite and PostgreSQL implementations.
type TaskStore interface {
	SaveTaskState(ctx context.Context, state TaskState) error
}

// TaskTracer is the append-only structured event log of one run. Every
// Save writes the whole state to a JSON file via temp-file rename, and
// optionally mirrors it to a TaskStore.
type TaskTracer struct {
	mu    sync.Mutex
	state TaskState
	path  string
	store TaskStore
	log   *slog.Logger

	currentSubSession string
}

// TracerOption configures a TaskTracer.
type TracerOption func(*TaskTracer)

// TracerWithStore mirrors every save into the given store.
func TracerWithStore(s TaskStore) TracerOption {
	return func(t *TaskTracer) { t.store = s }
}

// TracerWithLogger sets the tracer's structured logger.
func TracerWithLogger(l *slog.Logger) TracerOption {
	return func(t *TaskTracer) { t.log = l }
}

// NewTaskTracer creates a tracer persisting to path. An empty path disables
// file persistence (state is still held in memory and mirrored to a store
// when configured).
func NewTaskTracer(taskID, path string, opts ...TracerOption) *TaskTracer {
	t := &TaskTracer{
		state: TaskState{
			TaskID:             taskID,
			Status:             "running",
			StartTime:          time.Now(),
			SubHistorySessions: map[string]SessionHistory{},
		},
		path: path,
		log:  nopLogger(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// LogStep appends a structured step entry. Status defaults to "info".
func (t *TaskTracer) LogStep(stepName, message, status string) {
	if t == nil {
		return
	}
	if status == "" {
		status = "info"
	}
	t.mu.Lock()
	t.state.StepLogs = append(t.state.StepLogs, StepLog{StepName: stepName, Message: message, Status: status})
	t.mu.Unlock()
	t.log.Debug("step", "name", stepName, "status", status)
}

// SetMainHistory records the main agent's session snapshot.
func (t *TaskTracer) SetMainHistory(systemPrompt string, history []Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.state.MainHistory = SessionHistory{SystemPrompt: systemPrompt, MessageHistory: cloneMessages(history)}
	t.mu.Unlock()
}

// StartSubSession registers a fresh sub-agent session and makes it current.
// Returns the stable session id.
func (t *TaskTracer) StartSubSession(agentName, task string) string {
	if t == nil {
		return ""
	}
	id := agentName + "_" + NewID()
	t.mu.Lock()
	t.currentSubSession = id
	t.state.SubHistorySessions[id] = SessionHistory{}
	t.mu.Unlock()
	t.LogStep("sub_agent_session_start", "Started "+agentName+": "+truncate(task, 200), "")
	return id
}

// SetSubHistory records the current sub-agent session snapshot.
func (t *TaskTracer) SetSubHistory(systemPrompt string, history []Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.currentSubSession != "" {
		t.state.SubHistorySessions[t.currentSubSession] = SessionHistory{
			SystemPrompt:   systemPrompt,
			MessageHistory: cloneMessages(history),
		}
	}
	t.mu.Unlock()
}

// EndSubSession closes the current sub-agent session.
func (t *TaskTracer) EndSubSession(agentName string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.currentSubSession = ""
	t.mu.Unlock()
	t.LogStep("sub_agent_session_end", agentName+" session closed", "")
}

// InSubSession reports whether a sub-agent session is currently active.
func (t *TaskTracer) InSubSession() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSubSession != ""
}

// SetStatus updates the run status ("running", "completed", "failed") and
// stamps the end time for terminal states.
func (t *TaskTracer) SetStatus(status string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.state.Status = status
	if status != "running" {
		t.state.EndTime = time.Now()
	}
	t.mu.Unlock()
}

// SetFinalAnswer records the extracted boxed answer.
func (t *TaskTracer) SetFinalAnswer(boxed string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.state.FinalBoxedAnswer = boxed
	t.mu.Unlock()
}

// SetError records a run-level error message.
func (t *TaskTracer) SetError(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.state.Error = msg
	t.mu.Unlock()
}

// State returns a copy of the current task state.
func (t *TaskTracer) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state
	st.StepLogs = append([]StepLog(nil), t.state.StepLogs...)
	sessions := make(map[string]SessionHistory, len(t.state.SubHistorySessions))
	for k, v := range t.state.SubHistorySessions {
		sessions[k] = v
	}
	st.SubHistorySessions = sessions
	return st
}

// Save persists the current snapshot: an atomic temp-file rename for the
// JSON file, then the store mirror. Persistence failures are logged, never
// propagated; losing a snapshot must not fail the run.
func (t *TaskTracer) Save(ctx context.Context) {
	if t == nil {
		return
	}
	state := t.State()

	if t.path != "" {
		if err := writeJSONAtomic(t.path, state); err != nil {
			t.log.Warn("task state save failed", "path", t.path, "error", err)
		}
	}
	if t.store != nil {
		if err := t.store.SaveTaskState(ctx, state); err != nil {
			t.log.Warn("task state store mirror failed", "error", err)
		}
	}
}

// writeJSONAtomic writes v to path through a same-directory temp file and
// rename, so readers never observe a partial file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".task-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func cloneMessages(history []Message) []Message {
	return append([]Message(nil), history...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// nopLogger returns a logger that discards all output.
func nopLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
