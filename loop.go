package miroflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// toolCallTimeout is the hard upper bound on one tool dispatch. Tool
// registries enforce their own finer bounds beneath it.
const toolCallTimeout = 600 * time.Second

// loopEnv carries everything one agent loop needs beyond its session.
type loopEnv struct {
	client   LLMClient
	registry ToolRegistry
	toolDefs []ServerDef
	// delegate routes agent-* tool calls into a nested agent run; nil for
	// sub-agent loops, which may not delegate further.
	delegate func(ctx context.Context, serverName string, call ToolCall) (string, error)
	stream   StreamCallback
}

// runAgentLoop drives one bounded agent session until the model stops
// calling tools, the turn budget runs out, or an LLM failure aborts the
// turn. The caller runs the summary phase afterwards; session.TaskFailed
// records whether this loop ended on a failure path.
func (o *Orchestrator) runAgentLoop(ctx context.Context, session *AgentSession, env loopEnv) {
	maxTurns := effectiveMaxTurns(session.MaxTurns)
	agentSlug := "main_agent"
	if session.Kind == AgentSub {
		agentSlug = "sub_agent"
	}

	for session.TurnIndex < maxTurns {
		session.TurnIndex++
		o.logger.Debug("agent turn", "agent", session.Name, "turn", session.TurnIndex)
		if o.taskLog != nil {
			o.taskLog.Save(ctx)
		}

		purpose := fmt.Sprintf("Main agent turn %d", session.TurnIndex)
		if session.Kind == AgentSub {
			purpose = fmt.Sprintf("Sub agent %s turn %d", session.Name, session.TurnIndex)
		}

		assistantText, shouldBreak, tc := o.runLLMCall(ctx, env.client, session, env.toolDefs, session.TurnIndex, purpose, env.stream)

		if assistantText == "" {
			if tc.contextLimit {
				o.taskLog.LogStep(agentSlug+"_context_limit_reached",
					session.Name+" context limit reached, jumping to summary", "warning")
			} else {
				o.taskLog.LogStep(agentSlug+"_llm_call_failed", "LLM call failed", "failed")
			}
			session.TaskFailed = true
			return
		}
		if shouldBreak {
			o.taskLog.LogStep(agentSlug+"_early_termination",
				fmt.Sprintf("%s terminated early on turn %d", session.Name, session.TurnIndex), "")
			return
		}
		if !tc.parsed || tc.empty() {
			o.taskLog.LogStep(agentSlug+"_no_tool_calls",
				fmt.Sprintf("No tool calls found, ending on turn %d", session.TurnIndex), "")
			return
		}

		entries, exceeded := o.dispatchToolCalls(ctx, session, env, tc)
		session.History = env.client.UpdateMessageHistory(session.History, entries, exceeded)
	}

	// Budget exhausted without a final answer.
	if !session.TaskFailed {
		session.TaskFailed = true
	}
	o.taskLog.LogStep(agentSlug+"_max_turns_reached",
		fmt.Sprintf("%s reached maximum turns (%d)", session.Name, maxTurns), "warning")
}

// dispatchToolCalls executes one turn's tool calls in list order and returns
// the formatted result entries plus whether the per-turn cap was exceeded.
// Calls whose server name carries the agent- prefix are routed to the
// delegate and never reach the registry; malformed calls become a synthetic
// re-think entry under the FAILED id.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, session *AgentSession, env loopEnv, tc turnToolCalls) ([]ToolResultEntry, bool) {
	maxCalls := session.MaxToolCallsPerTurn
	selected := tc.valid
	exceeded := len(selected) > maxCalls
	if exceeded {
		o.logger.Warn("tool call cap exceeded", "agent", session.Name, "requested", len(selected), "cap", maxCalls)
		selected = selected[:maxCalls]
	}

	var entries []ToolResultEntry
	for _, call := range selected {
		result := o.dispatchOne(ctx, session, env, call)
		entries = append(entries, ToolResultEntry{
			CallID: call.CallID,
			Text:   FormatToolResultForUser(result),
		})
	}

	if len(tc.malformed) > 0 {
		rethink := ToolResult{
			ServerName: "re-think",
			ToolName:   "re-think",
			Result: fmt.Sprintf(
				"Your tool call format was incorrect, and the tool invocation failed, error_message: %s; please review it carefully and try calling again.",
				tc.malformed[0].Err),
		}
		entries = append(entries, ToolResultEntry{CallID: FailedCallID, Text: FormatToolResultForUser(rethink)})
	}

	return entries, exceeded
}

// dispatchOne executes a single tool call and converts every failure mode
// into a ToolResult; no error escapes the dispatch phase.
func (o *Orchestrator) dispatchOne(ctx context.Context, session *AgentSession, env loopEnv, call ToolCall) ToolResult {
	start := time.Now()

	if isSubAgentCall(call.ServerName) {
		if env.delegate == nil {
			return ToolResult{
				ServerName: call.ServerName,
				ToolName:   call.ToolName,
				Error:      fmt.Sprintf("unknown tool server %q: agent delegation is not available here", call.ServerName),
				Duration:   time.Since(start),
				CallTime:   start,
			}
		}
		summary, err := env.delegate(ctx, call.ServerName, call)
		if err != nil {
			return ToolResult{
				ServerName: call.ServerName,
				ToolName:   call.ToolName,
				Error:      err.Error(),
				Duration:   time.Since(start),
				CallTime:   start,
			}
		}
		return ToolResult{
			ServerName: call.ServerName,
			ToolName:   call.ToolName,
			Result:     summary,
			Duration:   time.Since(start),
			CallTime:   start,
		}
	}

	if restrictedScrapeURL(call.ToolName, call.Arguments) {
		return ToolResult{
			ServerName: call.ServerName,
			ToolName:   call.ToolName,
			Error:      "Access to this dataset-hosting URL is restricted. Please rely on other sources.",
			Duration:   time.Since(start),
			CallTime:   start,
		}
	}

	o.taskLog.LogStep(string(session.Kind)+"_tool_call_start",
		fmt.Sprintf("Executing %s on %s", call.ToolName, call.ServerName), "")

	toolCallID := NewID()
	o.emitter.Emit(ctx, &Event{Type: EventToolCall, Data: EventData{
		ToolCallID: toolCallID,
		ToolName:   call.ToolName,
		ToolInput:  call.Arguments,
	}})

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	result, err := env.registry.ExecuteToolCall(callCtx, call.ServerName, call.ToolName, call.Arguments)
	cancel()

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "[ERROR]: Tool execution timeout"
		}
		result = ToolResult{
			ServerName: call.ServerName,
			ToolName:   call.ToolName,
			Error:      "Tool call failed: " + msg,
		}
	} else {
		result.ServerName = call.ServerName
		result.ToolName = call.ToolName
	}
	result.Duration = time.Since(start)
	result.CallTime = start

	if call.ToolName == "scrape" && result.Result != "" {
		result.Result = TruncateScrapeResult(result.Result, o.cfg.ScrapeMaxLength)
	}

	shown := result.Result
	if shown == "" {
		shown = result.Error
	}
	o.emitter.Emit(ctx, &Event{Type: EventToolCall, Data: EventData{
		ToolCallID: toolCallID,
		ToolName:   call.ToolName,
		ToolInput:  map[string]any{"result": shown},
	}})
	o.emitter.Emit(ctx, &Event{Type: EventUsageInfo, Data: EventData{
		AgentName: session.Name,
		Scene:     SceneToolCall,
		ToolName:  call.ToolName,
	}})

	if result.Error != "" {
		o.taskLog.LogStep(string(session.Kind)+"_tool_call_failed",
			fmt.Sprintf("Tool %s failed after %dms: %s", call.ToolName, result.Duration.Milliseconds(), result.Error), "failed")
	} else {
		o.taskLog.LogStep(string(session.Kind)+"_tool_call_success",
			fmt.Sprintf("Tool %s executed successfully in %dms", call.ToolName, result.Duration.Milliseconds()), "")
	}

	return result
}

// isSubAgentCall reports whether a server name addresses a sub-agent.
func isSubAgentCall(serverName string) bool {
	return len(serverName) >= len(SubAgentServerPrefix) && serverName[:len(SubAgentServerPrefix)] == SubAgentServerPrefix
}
