package miroflow

import (
	"context"
	"log/slog"
	"time"
)

// HelperFunc is a lightweight completion call used for hint generation and
// final-answer extraction. The caller supplies it (typically backed by a
// small helper model); the engine never implements one.
type HelperFunc func(ctx context.Context, prompt string) (string, error)

// TaskSpec describes one task handed to Run.
type TaskSpec struct {
	TaskID       string
	Description  string
	FileName     string
	ExtraContext string
	// History carries prior conversation turns for multi-turn sessions.
	History []HistoryTurn
}

// Orchestrator is the top-level façade of a run: it builds the initial
// message, drives the main agent loop, generates the final summary, and
// emits the surrounding workflow events. One Orchestrator serves one run at
// a time; independent runs use independent instances sharing no mutable
// state.
type Orchestrator struct {
	client        LLMClient
	subClient     LLMClient
	registry      ToolRegistry
	subRegistries map[string]ToolRegistry
	cfg           Config

	emitter     *Emitter
	taskLog     *TaskTracer
	interceptor *KeyTokenInterceptor
	logger      *slog.Logger
	helper      HelperFunc
	llmTimeout  time.Duration
	sleep       func(ctx context.Context, d time.Duration) bool
	toolDefs    []ServerDef

	currentAgentID string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEmitter attaches the event stream. Without one, emission is a no-op.
func WithEmitter(e *Emitter) OrchestratorOption {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithTaskLog attaches the persisted task tracer.
func WithTaskLog(t *TaskTracer) OrchestratorOption {
	return func(o *Orchestrator) { o.taskLog = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSubAgentClient routes sub-agent LLM calls to a distinct client. When
// set, a separate usage_info(sub_agent_end) event is emitted at run end.
func WithSubAgentClient(c LLMClient) OrchestratorOption {
	return func(o *Orchestrator) { o.subClient = c }
}

// WithSubAgentRegistry gives the named sub-agent its own tool slice.
// Sub-agents without one share the main registry.
func WithSubAgentRegistry(name string, reg ToolRegistry) OrchestratorOption {
	return func(o *Orchestrator) { o.subRegistries[name] = reg }
}

// WithHelperModel supplies the completion call behind hint generation and
// final-answer extraction.
func WithHelperModel(h HelperFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.helper = h }
}

// WithLLMTimeout overrides the caller-side bound on each LLM round.
func WithLLMTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.llmTimeout = d }
}

// WithForbiddenTokens overrides the interceptor's forbidden-token set.
func WithForbiddenTokens(tokens ...string) OrchestratorOption {
	return func(o *Orchestrator) { o.interceptor = NewKeyTokenInterceptor(tokens...) }
}

// WithToolDefinitions pre-supplies the main agent's tool definitions,
// skipping registry discovery.
func WithToolDefinitions(defs []ServerDef) OrchestratorOption {
	return func(o *Orchestrator) { o.toolDefs = defs }
}

// NewOrchestrator wires an orchestrator around the consumed contracts.
func NewOrchestrator(client LLMClient, registry ToolRegistry, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		subClient:     client,
		registry:      registry,
		subRegistries: map[string]ToolRegistry{},
		cfg:           cfg,
		interceptor:   NewKeyTokenInterceptor("<use_mcp_tool>"),
		logger:        nopLogger(),
		llmTimeout:    defaultLLMCallTimeout,
		sleep:         realSleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) promptOpts() PromptOptions {
	return PromptOptions{ChineseContext: o.cfg.MainAgent.ChineseContext}
}

// --- event stream helpers ---

func (o *Orchestrator) startWorkflow(ctx context.Context, workflowID, userInput string) string {
	if workflowID == "" {
		workflowID = NewID()
	}
	o.emitter.Emit(ctx, &Event{Type: EventStartOfWorkflow, Data: EventData{
		WorkflowID: workflowID,
		Input:      []Message{UserMessage(userInput)},
	}})
	return workflowID
}

func (o *Orchestrator) endWorkflow(ctx context.Context, workflowID string) {
	o.emitter.Emit(ctx, &Event{Type: EventEndOfWorkflow, Data: EventData{WorkflowID: workflowID}})
	o.emitter.Close()
}

// startAgent emits start_of_agent and returns the fresh agent id that the
// matching end event must reference.
func (o *Orchestrator) startAgent(ctx context.Context, agentName, displayName string) string {
	agentID := NewID()
	o.emitter.Emit(ctx, &Event{Type: EventStartOfAgent, Data: EventData{
		AgentName:   agentName,
		DisplayName: displayName,
		AgentID:     agentID,
	}})
	return agentID
}

func (o *Orchestrator) endAgent(ctx context.Context, agentName, agentID string) {
	o.emitter.Emit(ctx, &Event{Type: EventEndOfAgent, Data: EventData{
		AgentName: agentName,
		AgentID:   agentID,
	}})
}

func (o *Orchestrator) startLLM(ctx context.Context, agentName, displayName string) {
	o.emitter.Emit(ctx, &Event{Type: EventStartOfLLM, Data: EventData{
		AgentName:   agentName,
		DisplayName: displayName,
	}})
}

func (o *Orchestrator) endLLM(ctx context.Context, agentName string) {
	o.emitter.Emit(ctx, &Event{Type: EventEndOfLLM, Data: EventData{AgentName: agentName}})
}

func (o *Orchestrator) usageInfo(ctx context.Context, agentName string, usage Usage, scene UsageScene) {
	o.emitter.Emit(ctx, &Event{Type: EventUsageInfo, Data: EventData{
		AgentName: agentName,
		Scene:     scene,
		Usage:     &usage,
	}})
}

// mainDelegate routes an agent-* tool call from the main loop into a nested
// sub-agent run, closing and reopening the surrounding main-agent events so
// the sub-agent's stream nests properly.
func (o *Orchestrator) mainDelegate(ctx context.Context, serverName string, call ToolCall) (string, error) {
	o.endLLM(ctx, "main")
	o.endAgent(ctx, "main", o.currentAgentID)

	summary, err := o.runSubAgent(ctx, serverName, call)

	o.currentAgentID = o.startAgent(ctx, "main", "Summarizing")
	o.startLLM(ctx, "main", "Summarizing")
	return summary, err
}

// Run executes one task end to end and returns the framed final summary and
// the extracted boxed answer. Every terminal path emits a complete event
// stream ending with end_of_workflow and closes the emitter.
func (o *Orchestrator) Run(ctx context.Context, task TaskSpec) (string, string, error) {
	workflowID := o.startWorkflow(ctx, task.TaskID, task.Description)
	o.logger.Info("starting task", "task_id", workflowID)

	initialMsg, taskDescription, err := ProcessInput(task.Description, task.FileName)
	if err != nil {
		o.taskLog.SetError(err.Error())
		o.taskLog.SetStatus("failed")
		o.taskLog.Save(ctx)
		o.emitter.Emit(ctx, &Event{Type: EventShowError, Data: EventData{Error: err.Error()}})
		o.endWorkflow(ctx, workflowID)
		return "", "", err
	}

	taskGuidance := ""
	if o.cfg.MainAgent.ChineseContext {
		taskGuidance = chineseTaskGuidance
	}
	initialMsg.SetText(initialMsg.Text() + taskGuidance)

	if o.cfg.MainAgent.InputProcess.HintGeneration && o.helper != nil {
		hint, herr := o.helper(ctx, HintPrompt(taskDescription, o.cfg.MainAgent.ChineseContext))
		if herr != nil {
			o.logger.Error("hint generation failed", "error", herr)
			o.taskLog.LogStep("hint_generation", "[ERROR] Hint generation failed: "+herr.Error(), "failed")
		} else if hint != "" {
			initialMsg.SetText(initialMsg.Text() + hintNotesHeader + hint)
		}
	}

	if len(task.History) > 0 {
		initialMsg = UserMessage(MakeMultiTurnPrompt(task.History, taskDescription))
	}

	toolDefs := o.toolDefs
	if toolDefs == nil {
		toolDefs, err = o.registry.GetAllToolDefinitions(ctx)
		if err != nil {
			o.taskLog.LogStep("get_main_tool_definitions", "[ERROR] "+err.Error(), "failed")
		}
		toolDefs = append(toolDefs, SubAgentToolDefs(o.cfg.SubAgents)...)
	}
	if len(toolDefs) == 0 {
		o.logger.Warn("no tool definitions found; the model cannot use any tools")
	}
	o.taskLog.LogStep("get_main_tool_definitions", renderToolServers(toolDefs), "")

	promptClass := o.cfg.MainAgent.PromptClass
	if promptClass == "" {
		promptClass = "main"
	}
	prompts, err := NewPromptProvider(promptClass)
	if err != nil {
		o.taskLog.SetError(err.Error())
		o.taskLog.SetStatus("failed")
		o.taskLog.Save(ctx)
		o.emitter.Emit(ctx, &Event{Type: EventShowError, Data: EventData{Error: err.Error()}})
		o.endWorkflow(ctx, workflowID)
		return "", "", err
	}

	opts := o.promptOpts()
	opts.ExtraContext = task.ExtraContext

	session := &AgentSession{
		Kind:                AgentMain,
		Name:                "main",
		SystemPrompt:        prompts.SystemPrompt(toolDefs, opts),
		History:             []Message{initialMsg},
		MaxTurns:            o.cfg.MainAgent.MaxTurns,
		MaxToolCallsPerTurn: o.cfg.MainAgent.MaxToolCallsPerTurn,
	}

	o.currentAgentID = o.startAgent(ctx, "main", "")
	o.startLLM(ctx, "main", "")

	o.runAgentLoop(ctx, session, loopEnv{
		client:   o.client,
		registry: o.registry,
		toolDefs: toolDefs,
		delegate: o.mainDelegate,
		stream:   o.interceptStream,
	})

	o.endLLM(ctx, "main")
	o.endAgent(ctx, "main", o.currentAgentID)

	o.taskLog.LogStep("final_summary", "Generating final summary", "")
	reporterID := o.startAgent(ctx, "reporter", "")
	o.startLLM(ctx, "reporter", "")

	finalAnswerText := o.runSummaryWithRetry(ctx, session, o.client, prompts, toolDefs,
		"Final summary generation", taskDescription+taskGuidance, o.finalMessageStream)

	if o.cfg.MainAgent.OutputProcess.FinalAnswerExtraction && o.helper != nil {
		extracted, xerr := o.helper(ctx, AnswerExtractionPrompt(taskDescription, finalAnswerText))
		if xerr != nil {
			o.logger.Error("final answer extraction failed", "error", xerr)
			o.taskLog.LogStep("final_answer_extraction", "[ERROR] Final answer extraction failed: "+xerr.Error(), "failed")
		} else if extracted != "" {
			session.History = append(session.History, AssistantMessage("LLM extracted final answer:\n"+extracted))
			finalAnswerText = finalAnswerText + "\n\nLLM Extracted Answer:\n" + extracted
		}
	}

	o.persistHistory(ctx, session)

	o.taskLog.LogStep("format_output", "Formatting final output", "")
	mainUsage := o.client.Usage()
	usages := []UsageSummary{{AgentName: "main", Usage: mainUsage}}
	subUsed := o.subClient != o.client
	var subUsage Usage
	if subUsed {
		subUsage = o.subClient.Usage()
		usages = append(usages, UsageSummary{AgentName: "sub_agent", Usage: subUsage})
	}
	finalSummary, boxed := FormatFinalSummary(finalAnswerText, usages...)

	o.endLLM(ctx, "reporter")
	o.endAgent(ctx, "reporter", reporterID)

	o.usageInfo(ctx, "main", mainUsage, SceneMainAgentEnd)
	if subUsed {
		o.usageInfo(ctx, "sub_agent", subUsage, SceneSubAgentEnd)
	}

	o.endWorkflow(ctx, workflowID)

	o.taskLog.SetFinalAnswer(boxed)
	if session.TaskFailed {
		o.taskLog.SetStatus("failed")
	} else {
		o.taskLog.SetStatus("completed")
	}
	o.taskLog.Save(ctx)
	o.logger.Info("task finished", "task_id", workflowID, "failed", session.TaskFailed)

	return finalSummary, boxed, nil
}
