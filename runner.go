package miroflow

import (
	"context"
	"errors"
	"strings"
	"time"
)

// defaultLLMCallTimeout is the caller-side bound on one LLM round.
const defaultLLMCallTimeout = 300 * time.Second

// summaryStepID marks summary-phase LLM calls in the trace.
const summaryStepID = 999

// turnToolCalls is the tool-call outcome of one LLM round. contextLimit
// marks the distinguishable overflow signal; parsed is false when the call
// failed before extraction.
type turnToolCalls struct {
	contextLimit bool
	parsed       bool
	valid        []ToolCall
	malformed    []MalformedToolCall
}

func (t turnToolCalls) empty() bool {
	return len(t.valid) == 0 && len(t.malformed) == 0
}

// annotateMessageIDs prefixes unlabelled user messages with a short opaque
// id to defeat provider cache reuse across unrelated conversations.
func annotateMessageIDs(history []Message) {
	for i := range history {
		if history[i].Role != RoleUser {
			continue
		}
		text := history[i].Text()
		if strings.HasPrefix(text, "[msg_") {
			continue
		}
		history[i].SetText("[" + newMessageID() + "] " + text)
	}
}

// persistHistory snapshots the session into the task log, routed by kind.
func (o *Orchestrator) persistHistory(ctx context.Context, session *AgentSession) {
	if o.taskLog == nil {
		return
	}
	if session.Kind == AgentMain {
		o.taskLog.SetMainHistory(session.SystemPrompt, session.History)
	} else {
		o.taskLog.SetSubHistory(session.SystemPrompt, session.History)
	}
	o.taskLog.Save(ctx)
}

// runLLMCall performs one LLM round: compose and persist history, call the
// client with streaming, append the assistant message, extract and parse
// tool calls, persist again.
//
// The returned text is empty exactly when the turn must abort; shouldBreak
// mirrors the client's "no tools will be called" signal; the turnToolCalls
// carries either the parsed calls or the context-limit marker.
func (o *Orchestrator) runLLMCall(
	ctx context.Context,
	client LLMClient,
	session *AgentSession,
	toolDefs []ServerDef,
	stepID int,
	purpose string,
	stream StreamCallback,
) (string, bool, turnToolCalls) {
	stepSlug := strings.ReplaceAll(strings.ToLower(purpose), " ", "_")

	if o.cfg.MainAgent.AddMessageID {
		annotateMessageIDs(session.History)
	}

	o.persistHistory(ctx, session)

	callCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	resp, err := client.CreateMessage(callCtx, CreateMessageRequest{
		SystemPrompt:   session.SystemPrompt,
		History:        session.History,
		ToolDefs:       toolDefs,
		KeepToolResult: o.cfg.MainAgent.KeepToolResult,
		StepID:         stepID,
		AgentType:      string(session.Kind),
		Stream:         stream,
	})

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		o.emitter.Emit(ctx, &Event{Type: EventShowError, Data: EventData{
			Error: "LLM Response Error: " + purpose + " timed out",
		}})
		o.taskLog.LogStep(stepSlug+"_timeout", purpose+" timed out", "failed")
		return "", true, turnToolCalls{}
	default:
		var cle *ContextLimitError
		if errors.As(err, &cle) {
			o.taskLog.LogStep(stepSlug+"_context_limit", purpose+" context limit exceeded: "+cle.Message, "warning")
			return "", true, turnToolCalls{contextLimit: true}
		}
		o.emitter.Emit(ctx, &Event{Type: EventShowError, Data: EventData{
			Error: "LLM Response Error: " + purpose + " " + err.Error(),
		}})
		o.taskLog.LogStep(stepSlug+"_error", purpose+" failed: "+err.Error(), "failed")
		return "", true, turnToolCalls{}
	}

	assistantText, shouldBreak := client.ProcessLLMResponse(resp, &session.History, string(session.Kind))

	o.persistHistory(ctx, session)

	if assistantText == "" {
		o.taskLog.LogStep(stepSlug+"_failed", purpose+" returned no valid response", "failed")
		return "", true, turnToolCalls{}
	}

	src := client.ExtractToolCalls(resp, assistantText)
	valid, malformed := ParseToolCalls(src)

	o.taskLog.LogStep(stepSlug+"_success", purpose+" completed successfully", "")
	return assistantText, shouldBreak, turnToolCalls{parsed: true, valid: valid, malformed: malformed}
}

// interceptStream is the per-turn streaming callback: assistant deltas pass
// through the key-token interceptor and surface as tool_call show_text
// events. Returns false once markup is detected so the client stops
// forwarding text.
func (o *Orchestrator) interceptStream(ctx context.Context, messageID, delta string, isLast bool) bool {
	chunk, ok := o.interceptor.Process(delta, isLast)
	if !ok {
		return true
	}
	if o.interceptor.ContainsForbidden(chunk) {
		return false
	}
	o.emitter.Emit(ctx, &Event{Type: EventToolCall, Data: EventData{
		ToolCallID: messageID,
		ToolName:   "show_text",
		DeltaInput: map[string]any{"text": chunk},
	}})
	return true
}

// finalMessageStream is the summary-phase streaming callback for the main
// agent: intercepted deltas surface as message events instead of tool_call
// show_text.
func (o *Orchestrator) finalMessageStream(ctx context.Context, messageID, delta string, isLast bool) bool {
	chunk, ok := o.interceptor.Process(delta, isLast)
	if !ok {
		return true
	}
	if o.interceptor.ContainsForbidden(chunk) {
		return false
	}
	o.emitter.Emit(ctx, &Event{Type: EventMessage, Data: EventData{
		MessageID: messageID,
		Delta:     &MessageDelta{Content: chunk},
	}})
	return true
}
