package miroflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestTaskTracerSaveParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.json")
	tr := NewTaskTracer("task-1", path)
	ctx := context.Background()

	tr.LogStep("step_one", "did a thing", "")
	tr.SetMainHistory("system", []Message{UserMessage("hello")})
	tr.Save(ctx)

	// Every save must leave a parseable file, even mid-run.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var state TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("persisted state does not parse: %v", err)
	}
	if state.TaskID != "task-1" || state.Status != "running" {
		t.Errorf("state: %+v", state)
	}
	if len(state.StepLogs) != 1 || state.StepLogs[0].StepName != "step_one" {
		t.Errorf("step logs: %+v", state.StepLogs)
	}
	if state.StepLogs[0].Status != "info" {
		t.Errorf("default status: %q", state.StepLogs[0].Status)
	}
	if state.MainHistory.SystemPrompt != "system" {
		t.Errorf("main history: %+v", state.MainHistory)
	}

	// A later save overwrites atomically with the new snapshot.
	tr.SetStatus("completed")
	tr.SetFinalAnswer("42")
	tr.Save(ctx)
	data, _ = os.ReadFile(path)
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if state.Status != "completed" || state.FinalBoxedAnswer != "42" {
		t.Errorf("final state: %+v", state)
	}
	if state.EndTime.IsZero() {
		t.Error("terminal status must stamp the end time")
	}
}

func TestTaskTracerSubSessions(t *testing.T) {
	tr := NewTaskTracer("task-2", "")
	id := tr.StartSubSession("agent-browsing", "find X")
	if id == "" {
		t.Fatal("expected a session id")
	}
	if !tr.InSubSession() {
		t.Error("expected an active sub session")
	}
	tr.SetSubHistory("sub system", []Message{UserMessage("find X")})
	tr.EndSubSession("agent-browsing")
	if tr.InSubSession() {
		t.Error("session still active after end")
	}

	state := tr.State()
	session, ok := state.SubHistorySessions[id]
	if !ok {
		t.Fatalf("session %q not recorded", id)
	}
	if session.SystemPrompt != "sub system" || len(session.MessageHistory) != 1 {
		t.Errorf("session: %+v", session)
	}
}

type countingStore struct {
	mu    sync.Mutex
	saves int
	last  TaskState
}

func (c *countingStore) SaveTaskState(_ context.Context, state TaskState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.last = state
	return nil
}

func TestTaskTracerStoreMirror(t *testing.T) {
	store := &countingStore{}
	tr := NewTaskTracer("task-3", "", TracerWithStore(store))
	tr.LogStep("s", "m", "")
	tr.Save(context.Background())
	tr.Save(context.Background())

	if store.saves != 2 {
		t.Errorf("store saves: %d", store.saves)
	}
	if store.last.TaskID != "task-3" {
		t.Errorf("mirrored state: %+v", store.last)
	}
}

func TestNilTaskTracerIsSafe(t *testing.T) {
	var tr *TaskTracer
	tr.LogStep("a", "b", "")
	tr.SetMainHistory("s", nil)
	tr.SetStatus("failed")
	tr.Save(context.Background())
	if tr.InSubSession() {
		t.Error("nil tracer reports an active session")
	}
}
