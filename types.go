package miroflow

import (
	"encoding/json"
	"time"
)

// --- Chat protocol types ---

// Role identifies who produced a message in a session history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind discriminates the typed parts of a structured message.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentFile  ContentKind = "file"
)

// ContentPart is one typed element of a structured message body.
type ContentPart struct {
	Kind ContentKind `json:"type"`
	Text string      `json:"text,omitempty"`
	// Payload carries image or file data for non-text parts.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one chat-history element. Content holds the typed parts; plain
// string messages are represented as a single text part. The first message
// of a history is always user; histories alternate in logical turns, where
// an assistant turn carrying tool calls is followed by exactly one user
// message aggregating all of that turn's tool results.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

// AssistantMessage builds a plain-text assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	switch len(m.Content) {
	case 0:
		return ""
	case 1:
		return m.Content[0].Text
	}
	var out string
	for _, p := range m.Content {
		out += p.Text
	}
	return out
}

// SetText replaces the first text part's content, or appends one when the
// message has no text part.
func (m *Message) SetText(text string) {
	for i := range m.Content {
		if m.Content[i].Kind == ContentText {
			m.Content[i].Text = text
			return
		}
	}
	m.Content = append(m.Content, ContentPart{Kind: ContentText, Text: text})
}

// --- Tool call types ---

// ToolCall is a structured request by the model to invoke a tool.
// CallID is set for native-tool-call responses and empty for the XML-tag
// variant. Raw preserves the unparsed source for diagnostics.
type ToolCall struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	CallID     string         `json:"id,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// MalformedToolCall records a tool-call block the parser could not accept.
type MalformedToolCall struct {
	Err     string `json:"error"`
	Content string `json:"content"`
}

// ToolResult is the outcome of one dispatched tool call. Exactly one of
// Result or Error is meaningful.
type ToolResult struct {
	ServerName string        `json:"server_name"`
	ToolName   string        `json:"tool_name"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	CallTime   time.Time     `json:"call_time"`
}

// --- Tool definitions ---

// ToolDef describes a single callable tool on a server.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ServerDef groups the tools exposed by one tool server.
type ServerDef struct {
	Name  string    `json:"name"`
	Tools []ToolDef `json:"tools"`
}

// --- Usage accounting ---

// Usage holds per-agent rolling token counters. The LLM client owns and
// mutates them; the engine reads point-in-time snapshots.
type Usage struct {
	InputTokens     int            `json:"input_tokens"`
	CachedTokens    int            `json:"cached_tokens"`
	OutputTokens    int            `json:"output_tokens"`
	ReasoningTokens int            `json:"reasoning_tokens"`
	ToolCalls       map[string]int `json:"tool_call_count_by_name,omitempty"`
}

// --- Agent sessions ---

// AgentKind distinguishes the top-level agent from nested delegates.
type AgentKind string

const (
	AgentMain AgentKind = "main"
	AgentSub  AgentKind = "sub"
)

// AgentSession is the mutable state of one bounded agent run. The history
// buffer is owned exclusively by the enclosing loop and mutated only from
// that scope.
type AgentSession struct {
	Kind                AgentKind
	Name                string
	SessionID           string
	SystemPrompt        string
	History             []Message
	TurnIndex           int
	MaxTurns            int
	MaxToolCallsPerTurn int
	TaskFailed          bool
}
