package miroflow

import (
	"context"
	"fmt"
)

// StreamCallback receives observer-facing partial text during an LLM call.
// The client drives it with accumulated buffer content roughly every 100ms
// (see StreamPacer). The return value reports whether the consumer wants
// further deltas; false means the stream was intercepted and the client
// should stop forwarding text while still assembling the full response.
type StreamCallback func(ctx context.Context, messageID, delta string, isLast bool) bool

// LLMResponse is the provider-shaped response object. The engine never
// inspects it directly; it is only passed between LLMClient methods.
type LLMResponse any

// CreateMessageRequest carries everything an LLMClient needs for one round.
type CreateMessageRequest struct {
	SystemPrompt   string
	History        []Message
	ToolDefs       []ServerDef
	KeepToolResult int
	StepID         int
	AgentType      string
	Stream         StreamCallback
}

// ToolResultEntry pairs a call id with the formatted result text merged into
// the synthetic user message after a tool-dispatch phase. FailedCallID marks
// entries fabricated for malformed calls.
type ToolResultEntry struct {
	CallID string
	Text   string
}

// FailedCallID is the call id of synthetic results for malformed tool calls.
const FailedCallID = "FAILED"

// LLMClient is the message-completion contract the engine consumes. A
// provider adapter implements it; the engine never implements one itself.
//
// CreateMessage must stream (driving req.Stream) and return the final
// assembled response. A context-window overflow must surface as a
// *ContextLimitError so the engine can switch to the summary phase.
type LLMClient interface {
	CreateMessage(ctx context.Context, req CreateMessageRequest) (LLMResponse, error)

	// ProcessLLMResponse appends the assistant message to history and
	// returns the assistant text plus a flag signalling that no tools will
	// be called (the model produced a final answer).
	ProcessLLMResponse(resp LLMResponse, history *[]Message, agentType string) (string, bool)

	// ExtractToolCalls returns the parser input for this response.
	ExtractToolCalls(resp LLMResponse, assistantText string) ToolCallSource

	// UpdateMessageHistory merges the turn's tool results into a single
	// user message appended to history. DefaultUpdateMessageHistory is the
	// canonical policy.
	UpdateMessageHistory(history []Message, results []ToolResultEntry, exceeded bool) []Message

	// HandleMaxTurnsReachedSummaryPrompt may fold the history's trailing
	// user text into the summary prompt. DefaultSummaryPromptMerge is the
	// canonical policy.
	HandleMaxTurnsReachedSummaryPrompt(history *[]Message, prompt string) string

	// Usage returns a point-in-time snapshot of the client's rolling token
	// counters.
	Usage() Usage
}

// DefaultUpdateMessageHistory is the canonical tool-result merge policy.
// A single result becomes the user message verbatim. Multiple results are
// merged into a structured block with per-call sections, led by a count
// header or, when the per-turn cap was exceeded, a cap notice.
func DefaultUpdateMessageHistory(history []Message, results []ToolResultEntry, exceeded bool) []Message {
	var valid, failed []ToolResultEntry
	for _, r := range results {
		if r.CallID == FailedCallID {
			failed = append(failed, r)
		} else {
			valid = append(valid, r)
		}
	}

	var parts []string
	if len(valid)+len(failed) > 1 {
		if exceeded {
			parts = append(parts, fmt.Sprintf(
				"You made too many tool calls. I can only afford to process %d valid tool calls in this turn.", len(valid)))
		} else {
			parts = append(parts, fmt.Sprintf(
				"I have processed %d valid tool calls in this turn.", len(valid)))
		}
		for i, r := range valid {
			parts = append(parts, fmt.Sprintf("Valid tool call %d result:\n%s", i+1, r.Text))
		}
		for i, r := range failed {
			parts = append(parts, fmt.Sprintf("Failed tool call %d result:\n%s", i+1, r.Text))
		}
	} else {
		for _, r := range valid {
			parts = append(parts, r.Text)
		}
		for _, r := range failed {
			parts = append(parts, r.Text)
		}
	}

	merged := ""
	for i, p := range parts {
		if i > 0 {
			merged += "\n\n"
		}
		merged += p
	}
	return append(history, UserMessage(merged))
}

// DefaultSummaryPromptMerge is the canonical max-turns prompt handling:
// when the history ends with a user message (unconsumed tool results), its
// text is pulled into the summary prompt and the message is dropped, so the
// model sees the results exactly once.
func DefaultSummaryPromptMerge(history *[]Message, summaryPrompt string) string {
	h := *history
	if len(h) > 0 && h[len(h)-1].Role == RoleUser {
		last := h[len(h)-1]
		*history = h[:len(h)-1]
		return last.Text() + "\n\n-----------------\n\n" + summaryPrompt
	}
	return summaryPrompt
}
