package miroflow

import (
	"context"
	"sync"
	"time"
)

// scriptedResponse is one pre-programmed LLM round for the scripted client.
type scriptedResponse struct {
	Text   string
	Err    error
	Source *ToolCallSource // nil: parse Text as XML-tagged blocks
}

// scriptedClient plays back a fixed sequence of responses, implementing the
// LLMClient contract with the canonical history policies. Shared by the
// loop, summary, and orchestrator tests.
type scriptedClient struct {
	mu        sync.Mutex
	responses []scriptedResponse
	index     int
	usage     Usage
	requests  []CreateMessageRequest
	// streamText, when true, drives the request's stream callback with the
	// response text before returning.
	streamText bool
}

func (c *scriptedClient) CreateMessage(ctx context.Context, req CreateMessageRequest) (LLMResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if c.index >= len(c.responses) {
		c.mu.Unlock()
		return nil, &ContextLimitError{Message: "script exhausted"}
	}
	resp := c.responses[c.index]
	c.index++
	c.usage.InputTokens += 100
	c.usage.OutputTokens += 10
	c.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	if c.streamText && req.Stream != nil {
		req.Stream(ctx, "msg_test0000", resp.Text, false)
		req.Stream(ctx, "msg_test0000", "", true)
	}
	return &resp, nil
}

func (c *scriptedClient) ProcessLLMResponse(resp LLMResponse, history *[]Message, agentType string) (string, bool) {
	r := resp.(*scriptedResponse)
	if r.Text == "" {
		return "", true
	}
	*history = append(*history, AssistantMessage(r.Text))
	return r.Text, false
}

func (c *scriptedClient) ExtractToolCalls(resp LLMResponse, assistantText string) ToolCallSource {
	r := resp.(*scriptedResponse)
	if r.Source != nil {
		return *r.Source
	}
	return ToolCallSource{Text: assistantText}
}

func (c *scriptedClient) UpdateMessageHistory(history []Message, results []ToolResultEntry, exceeded bool) []Message {
	return DefaultUpdateMessageHistory(history, results, exceeded)
}

func (c *scriptedClient) HandleMaxTurnsReachedSummaryPrompt(history *[]Message, prompt string) string {
	return DefaultSummaryPromptMerge(history, prompt)
}

func (c *scriptedClient) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// recordedCall captures one registry execution for assertions.
type recordedCall struct {
	ServerName string
	ToolName   string
	Arguments  map[string]any
}

// fakeRegistry serves canned results keyed by tool name and records every
// execution.
type fakeRegistry struct {
	mu      sync.Mutex
	defs    []ServerDef
	results map[string]ToolResult
	errs    map[string]error
	calls   []recordedCall
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		defs: []ServerDef{{
			Name: "srvA",
			Tools: []ToolDef{
				{Name: "echo", Description: "Echo the input"},
				{Name: "scrape", Description: "Fetch a URL"},
			},
		}},
		results: map[string]ToolResult{},
		errs:    map[string]error{},
	}
}

func (f *fakeRegistry) GetAllToolDefinitions(ctx context.Context) ([]ServerDef, error) {
	return f.defs, nil
}

func (f *fakeRegistry) ExecuteToolCall(ctx context.Context, serverName, toolName string, arguments map[string]any) (ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{ServerName: serverName, ToolName: toolName, Arguments: arguments})
	result, ok := f.results[toolName]
	err := f.errs[toolName]
	f.mu.Unlock()
	if err != nil {
		return ToolResult{}, err
	}
	if !ok {
		result = ToolResult{Result: "ok"}
	}
	return result, nil
}

func (f *fakeRegistry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newTestOrchestrator wires an orchestrator with instant retry sleeps and a
// generously buffered emitter so tests never block on the stream.
func newTestOrchestrator(client LLMClient, registry ToolRegistry, cfg Config, opts ...OrchestratorOption) (*Orchestrator, *Emitter) {
	emitter := NewEmitter(1024)
	opts = append([]OrchestratorOption{WithEmitter(emitter)}, opts...)
	o := NewOrchestrator(client, registry, cfg, opts...)
	o.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	return o, emitter
}

// collectEvents drains the emitter until the nil sentinel or channel close.
func collectEvents(emitter *Emitter) []*Event {
	var events []*Event
	for ev := range emitter.Events() {
		if ev == nil {
			break
		}
		events = append(events, ev)
	}
	return events
}

// countEvents tallies events by type.
func countEvents(events []*Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// testConfig returns a small-budget config used across the loop tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MainAgent.MaxTurns = 5
	cfg.MainAgent.MaxToolCallsPerTurn = 10
	return cfg
}

// mcpBlock renders a canonical XML tool-call block for test responses.
func mcpBlock(server, tool, args string) string {
	return "<use_mcp_tool><server_name>" + server + "</server_name><tool_name>" + tool +
		"</tool_name><arguments>" + args + "</arguments></use_mcp_tool>"
}
