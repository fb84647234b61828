package miroflow

import (
	"strings"
	"testing"
)

func TestDefaultUpdateMessageHistorySingleResult(t *testing.T) {
	history := []Message{UserMessage("task")}
	got := DefaultUpdateMessageHistory(history, []ToolResultEntry{
		{CallID: "c1", Text: "only result"},
	}, false)

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	last := got[len(got)-1]
	if last.Role != RoleUser {
		t.Errorf("merged message role: %s", last.Role)
	}
	if last.Text() != "only result" {
		t.Errorf("single result must merge verbatim, got %q", last.Text())
	}
}

func TestDefaultUpdateMessageHistoryMultipleResults(t *testing.T) {
	got := DefaultUpdateMessageHistory(nil, []ToolResultEntry{
		{CallID: "c1", Text: "first"},
		{CallID: "c2", Text: "second"},
	}, false)
	text := got[0].Text()

	if !strings.HasPrefix(text, "I have processed 2 valid tool calls in this turn.") {
		t.Errorf("missing count header: %q", text)
	}
	i1 := strings.Index(text, "Valid tool call 1 result:\nfirst")
	i2 := strings.Index(text, "Valid tool call 2 result:\nsecond")
	if i1 < 0 || i2 < 0 || i2 < i1 {
		t.Errorf("sections missing or out of order: %q", text)
	}
}

func TestDefaultUpdateMessageHistoryExceeded(t *testing.T) {
	got := DefaultUpdateMessageHistory(nil, []ToolResultEntry{
		{CallID: "c1", Text: "a"},
		{CallID: "c2", Text: "b"},
	}, true)
	text := got[0].Text()
	if !strings.HasPrefix(text, "You made too many tool calls. I can only afford to process 2 valid tool calls in this turn.") {
		t.Errorf("missing cap notice: %q", text)
	}
}

func TestDefaultUpdateMessageHistoryFailedSection(t *testing.T) {
	got := DefaultUpdateMessageHistory(nil, []ToolResultEntry{
		{CallID: "c1", Text: "fine"},
		{CallID: FailedCallID, Text: "re-think hint"},
	}, false)
	text := got[0].Text()
	if !strings.Contains(text, "I have processed 1 valid tool calls in this turn.") {
		t.Errorf("failed entries must not count as valid: %q", text)
	}
	if !strings.Contains(text, "Failed tool call 1 result:\nre-think hint") {
		t.Errorf("missing failed section: %q", text)
	}
}

func TestDefaultSummaryPromptMerge(t *testing.T) {
	history := []Message{
		UserMessage("task"),
		AssistantMessage("calling tools"),
		UserMessage("tool results here"),
	}
	prompt := DefaultSummaryPromptMerge(&history, "summarize now")
	if !strings.Contains(prompt, "tool results here") || !strings.Contains(prompt, "summarize now") {
		t.Errorf("trailing user text not folded into prompt: %q", prompt)
	}
	if len(history) != 2 {
		t.Errorf("trailing user message must be dropped, history has %d", len(history))
	}

	// No trailing user message: prompt unchanged.
	history2 := []Message{UserMessage("task"), AssistantMessage("answer")}
	prompt2 := DefaultSummaryPromptMerge(&history2, "summarize now")
	if prompt2 != "summarize now" || len(history2) != 2 {
		t.Errorf("unexpected merge without trailing user message: %q", prompt2)
	}
}
