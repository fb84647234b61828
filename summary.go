package miroflow

import (
	"context"
	"fmt"
	"time"
)

// SummarySentinel is returned when summary generation exhausts every retry
// and every prunable history pair.
const SummarySentinel = "[ERROR] Unable to generate final summary due to context limit or network issues. You should try again."

// summaryRetrySpacing separates inner retries of a failed summary call.
const summaryRetrySpacing = 60 * time.Second

// summaryInnerRetries bounds transient-failure retries per pruning round.
const summaryInnerRetries = 5

// runSummaryWithRetry produces the session-ending summary, tolerating
// context-limit failures by dropping the most recent assistant/user dialogue
// pair and retrying. Any pruning marks the task failed (information was
// lost). On total failure the fixed sentinel is returned.
func (o *Orchestrator) runSummaryWithRetry(
	ctx context.Context,
	session *AgentSession,
	client LLMClient,
	prompts PromptProvider,
	toolDefs []ServerDef,
	purpose string,
	taskDescription string,
	stream StreamCallback,
) string {
	agentType := string(session.Kind)
	retryCount := 0

	for {
		summaryPrompt := prompts.SummaryPrompt(taskDescription, session.TaskFailed, o.promptOpts())
		summaryPrompt = client.HandleMaxTurnsReachedSummaryPrompt(&session.History, summaryPrompt)
		session.History = append(session.History, UserMessage(summaryPrompt))

		var text string
		var tc turnToolCalls
		for attempt := 0; attempt < summaryInnerRetries; attempt++ {
			text, _, tc = o.runLLMCall(ctx, client, session, toolDefs, summaryStepID, purpose, stream)
			if text != "" || tc.contextLimit {
				break
			}
			o.taskLog.LogStep(agentType+"_summary_retry",
				fmt.Sprintf("LLM summary call failed, attempt %d/%d, retrying after %s...",
					attempt+1, summaryInnerRetries, summaryRetrySpacing), "warning")
			if !o.sleep(ctx, summaryRetrySpacing) {
				break
			}
		}

		if text != "" {
			return text
		}

		// Context limit (or exhausted retries): drop the appended summary
		// prompt plus the most recent assistant message, then rebuild.
		retryCount++
		if n := len(session.History); n > 0 && session.History[n-1].Role == RoleUser {
			session.History = session.History[:n-1]
		}
		if n := len(session.History); n > 0 && session.History[n-1].Role == RoleAssistant {
			session.History = session.History[:n-1]
		}
		session.TaskFailed = true

		if len(session.History) <= 2 {
			o.logger.Warn("summary pruning exhausted the history", "agent", session.Name)
			break
		}
		o.taskLog.LogStep(agentType+"_summary_context_retry",
			fmt.Sprintf("Removed assistant-user pair, retry %d, task marked as failed", retryCount), "warning")
	}

	o.taskLog.LogStep(agentType+"_summary_failed",
		"Summary failed after several attempts (removing all possible messages)", "failed")
	return SummarySentinel
}

// realSleep waits for d unless ctx is cancelled first; returns false on
// cancellation. The orchestrator's sleep hook defaults to it.
func realSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
