package observer

import (
	"context"
	"time"

	miroflow "github.com/MiroMindAI/MiroFlow"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedClient wraps a miroflow.LLMClient with OTEL instrumentation.
// Only CreateMessage crosses the network; the history-shaping methods
// delegate untouched.
type ObservedClient struct {
	inner miroflow.LLMClient
	inst  *Instruments
}

// WrapClient returns an instrumented client emitting traces and metrics for
// every LLM round.
func WrapClient(inner miroflow.LLMClient, inst *Instruments) *ObservedClient {
	return &ObservedClient{inner: inner, inst: inst}
}

func (o *ObservedClient) CreateMessage(ctx context.Context, req miroflow.CreateMessageRequest) (miroflow.LLMResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.create_message", trace.WithAttributes(
		AttrLLMAgentType.String(req.AgentType),
		AttrLLMStepID.Int(req.StepID),
	))
	defer span.End()
	start := time.Now()

	before := o.inner.Usage()
	resp, err := o.inner.CreateMessage(ctx, req)
	after := o.inner.Usage()

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrLLMStatus.String(status),
		AttrTokensInput.Int(after.InputTokens-before.InputTokens),
		AttrTokensOutput.Int(after.OutputTokens-before.OutputTokens),
	)

	attrs := metric.WithAttributes(
		AttrLLMMethod.String("create_message"),
		AttrLLMAgentType.String(req.AgentType),
		AttrLLMStatus.String(status),
	)
	o.inst.LLMRequests.Add(ctx, 1, attrs)
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)
	o.recordTokens(ctx, req.AgentType, before, after)

	return resp, err
}

// recordTokens adds the per-call token deltas, broken out by kind.
func (o *ObservedClient) recordTokens(ctx context.Context, agentType string, before, after miroflow.Usage) {
	kinds := []struct {
		kind  string
		delta int
	}{
		{"input", after.InputTokens - before.InputTokens},
		{"cached", after.CachedTokens - before.CachedTokens},
		{"output", after.OutputTokens - before.OutputTokens},
		{"reasoning", after.ReasoningTokens - before.ReasoningTokens},
	}
	for _, k := range kinds {
		if k.delta <= 0 {
			continue
		}
		o.inst.TokenUsage.Add(ctx, int64(k.delta), metric.WithAttributes(
			AttrLLMAgentType.String(agentType),
			AttrTokenKind.String(k.kind),
		))
	}
}

func (o *ObservedClient) ProcessLLMResponse(resp miroflow.LLMResponse, history *[]miroflow.Message, agentType string) (string, bool) {
	return o.inner.ProcessLLMResponse(resp, history, agentType)
}

func (o *ObservedClient) ExtractToolCalls(resp miroflow.LLMResponse, assistantText string) miroflow.ToolCallSource {
	return o.inner.ExtractToolCalls(resp, assistantText)
}

func (o *ObservedClient) UpdateMessageHistory(history []miroflow.Message, results []miroflow.ToolResultEntry, exceeded bool) []miroflow.Message {
	return o.inner.UpdateMessageHistory(history, results, exceeded)
}

func (o *ObservedClient) HandleMaxTurnsReachedSummaryPrompt(history *[]miroflow.Message, prompt string) string {
	return o.inner.HandleMaxTurnsReachedSummaryPrompt(history, prompt)
}

func (o *ObservedClient) Usage() miroflow.Usage {
	return o.inner.Usage()
}

var _ miroflow.LLMClient = (*ObservedClient)(nil)
