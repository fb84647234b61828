package miroflow

import (
	"context"
	"sync"
)

// EventType identifies the kind of lifecycle event pushed to the observer.
type EventType string

const (
	EventStartOfWorkflow EventType = "start_of_workflow"
	EventEndOfWorkflow   EventType = "end_of_workflow"
	EventStartOfAgent    EventType = "start_of_agent"
	EventEndOfAgent      EventType = "end_of_agent"
	EventStartOfLLM      EventType = "start_of_llm"
	EventEndOfLLM        EventType = "end_of_llm"
	EventMessage         EventType = "message"
	EventToolCall        EventType = "tool_call"
	EventUsageInfo       EventType = "usage_info"
	EventShowError       EventType = "show_error"
)

// UsageScene discriminates where a usage_info event was captured.
type UsageScene string

const (
	SceneToolCall     UsageScene = "tool_call"
	SceneMainAgentEnd UsageScene = "main_agent_end"
	SceneSubAgentEnd  UsageScene = "sub_agent_end"
)

// MessageDelta carries an incremental chunk of observer-facing text.
type MessageDelta struct {
	Content string `json:"content"`
}

// EventData is the per-event payload. Fields are populated according to the
// event type; unused fields marshal away.
type EventData struct {
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Input       []Message      `json:"input,omitempty"`
	AgentName   string         `json:"agent_name,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Delta       *MessageDelta  `json:"delta,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	DeltaInput  map[string]any `json:"delta_input,omitempty"`
	Scene       UsageScene     `json:"scene,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Event is one element of the push stream: {event: <type>, data: {...}}.
type Event struct {
	Type EventType `json:"event"`
	Data EventData `json:"data"`
}

// Emitter pushes lifecycle events to a bounded channel with a single writer
// (the run) and a single reader (the observer). When the channel is full the
// producer blocks; events are never dropped. A nil *Emitter is valid and
// makes every emission a no-op, which is how runs without an observer
// operate.
type Emitter struct {
	ch     chan *Event
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter whose channel holds up to buf events before
// the producer blocks.
func NewEmitter(buf int) *Emitter {
	if buf < 1 {
		buf = 1
	}
	return &Emitter{ch: make(chan *Event, buf)}
}

// Events returns the observer side of the stream. A nil element is the
// end-of-stream sentinel; the channel is closed immediately after it.
func (e *Emitter) Events() <-chan *Event {
	return e.ch
}

// Emit sends ev to the observer, blocking when the channel is full.
// Emission never surfaces an error to business logic: a cancelled context or
// a closed emitter silently discards the event.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

// Close emits the nil end-of-stream sentinel and closes the channel.
// Closing twice is a no-op.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.ch <- nil
	close(e.ch)
}
