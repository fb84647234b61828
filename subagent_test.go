package miroflow

import (
	"strings"
	"testing"
)

func TestSubAgentToolDefs(t *testing.T) {
	defs := SubAgentToolDefs(map[string]SubAgentConfig{
		"agent-browsing": {MaxTurns: 5},
		"agent-coding":   {MaxTurns: 5},
	})
	if len(defs) != 2 {
		t.Fatalf("got %d defs, want 2", len(defs))
	}
	// Deterministic ordering regardless of map iteration.
	if defs[0].Name != "agent-browsing" || defs[1].Name != "agent-coding" {
		t.Errorf("ordering: %q, %q", defs[0].Name, defs[1].Name)
	}
	tool := defs[0].Tools[0]
	if tool.Name != "execute_subtask" {
		t.Errorf("tool name: %q", tool.Name)
	}
	if !strings.Contains(tool.Description, "browsing") {
		t.Errorf("description does not name the agent: %q", tool.Description)
	}
	if !strings.Contains(string(tool.Schema), `"task"`) {
		t.Errorf("schema missing task parameter: %s", tool.Schema)
	}

	if defs := SubAgentToolDefs(nil); defs != nil {
		t.Errorf("no sub agents must yield no defs, got %v", defs)
	}
}

func TestSubAgentTask(t *testing.T) {
	call := ToolCall{Arguments: map[string]any{"task": "find X"}}
	if got := subAgentTask(call); got != "find X" {
		t.Errorf("got %q", got)
	}

	call = ToolCall{Arguments: map[string]any{"query": "y"}}
	if got := subAgentTask(call); !strings.Contains(got, `"query"`) {
		t.Errorf("fallback must render the arguments, got %q", got)
	}
}

func TestIsSubAgentCall(t *testing.T) {
	if !isSubAgentCall("agent-browsing") {
		t.Error("agent-browsing must route to the invoker")
	}
	if isSubAgentCall("srvA") || isSubAgentCall("agent") {
		t.Error("non agent-* servers must not route to the invoker")
	}
}
