package miroflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// subAgentTask extracts the delegated task description from a tool call's
// arguments: the conventional "task" field when present, otherwise the whole
// argument object rendered as JSON.
func subAgentTask(call ToolCall) string {
	if task, ok := call.Arguments["task"].(string); ok && task != "" {
		return task
	}
	raw, err := json.Marshal(call.Arguments)
	if err != nil {
		return call.Raw
	}
	return string(raw)
}

// runSubAgent executes a delegated tool call as a self-contained agent loop
// and returns the sub-agent's final summary as the tool result. The
// sub-agent runs synchronously: the main loop's current turn suspends until
// it completes, and its events nest between the surrounding agent events.
func (o *Orchestrator) runSubAgent(ctx context.Context, serverName string, call ToolCall) (string, error) {
	subCfg, ok := o.cfg.SubAgents[serverName]
	if !ok {
		return "", fmt.Errorf("sub-agent %s not found in configuration", serverName)
	}

	promptClass := subCfg.PromptClass
	if promptClass == "" {
		promptClass = "sub"
	}
	prompts, err := NewPromptProvider(promptClass)
	if err != nil {
		return "", err
	}

	taskDescription := subAgentTask(call) + subAgentTaskSuffix
	display := strings.TrimPrefix(serverName, SubAgentServerPrefix)
	o.logger.Debug("starting sub agent", "name", serverName, "task", truncate(taskDescription, 120))

	subAgentID := o.startAgent(ctx, display, "")
	o.startLLM(ctx, display, "")

	sessionID := o.taskLog.StartSubSession(serverName, taskDescription)

	registry := o.subRegistries[serverName]
	if registry == nil {
		registry = o.registry
	}
	toolDefs, err := registry.GetAllToolDefinitions(ctx)
	if err != nil {
		o.taskLog.LogStep(serverName+"_tool_definitions_failed", err.Error(), "failed")
		toolDefs = nil
	}
	o.taskLog.LogStep("get_sub_"+serverName+"_tool_definitions", fmt.Sprintf("%d servers", len(toolDefs)), "")
	if len(toolDefs) == 0 {
		o.taskLog.LogStep(serverName+"_no_tools",
			"No tool definitions available for "+serverName, "warning")
	}

	session := &AgentSession{
		Kind:                AgentSub,
		Name:                serverName,
		SessionID:           sessionID,
		SystemPrompt:        prompts.SystemPrompt(toolDefs, o.promptOpts()),
		History:             []Message{UserMessage(taskDescription)},
		MaxTurns:            subCfg.MaxTurns,
		MaxToolCallsPerTurn: subCfg.MaxToolCallsPerTurn,
	}

	o.runAgentLoop(ctx, session, loopEnv{
		client:   o.subClient,
		registry: registry,
		toolDefs: toolDefs,
		stream:   o.interceptStream,
	})

	o.taskLog.LogStep("sub_agent_final_summary",
		"Generating sub agent "+serverName+" final summary", "")
	o.emitter.Emit(ctx, &Event{Type: EventToolCall, Data: EventData{
		ToolCallID: NewID(),
		ToolName:   "Partial Summary",
		ToolInput:  map[string]any{},
	}})

	summary := o.runSummaryWithRetry(ctx, session, o.subClient, prompts, toolDefs,
		"Sub agent "+serverName+" final summary", taskDescription, o.interceptStream)

	if summary == SummarySentinel {
		o.taskLog.LogStep("sub_agent_final_answer",
			"Failed to generate sub agent "+serverName+" final answer", "failed")
	} else {
		o.taskLog.LogStep("sub_agent_final_answer",
			"Sub agent "+serverName+" final answer generated successfully", "")
	}

	o.persistHistory(ctx, session)
	o.taskLog.EndSubSession(serverName)
	o.taskLog.LogStep("sub_agent_completed", "Sub agent "+serverName+" completed", "")

	o.endLLM(ctx, display)
	o.endAgent(ctx, display, subAgentID)

	return summary, nil
}

// SubAgentToolDefs exposes configured sub-agents as pseudo tool servers so
// the main system prompt can advertise them alongside real tools.
func SubAgentToolDefs(subAgents map[string]SubAgentConfig) []ServerDef {
	names := make([]string, 0, len(subAgents))
	for name := range subAgents {
		names = append(names, name)
	}
	// Deterministic prompt text across runs.
	sort.Strings(names)

	var defs []ServerDef
	for _, name := range names {
		display := strings.TrimPrefix(name, SubAgentServerPrefix)
		defs = append(defs, ServerDef{
			Name: name,
			Tools: []ToolDef{{
				Name: "execute_subtask",
				Description: fmt.Sprintf(
					"Delegate a self-contained subtask to the %s agent. It runs its own tool-augmented session and returns a summary of its findings.", display),
				Schema: json.RawMessage(`{"type":"object","properties":{"task":{"type":"string","description":"Natural language description of the subtask"}},"required":["task"]}`),
			}},
		})
	}
	return defs
}
