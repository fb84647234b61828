package observer

import (
	"context"
	"time"

	miroflow "github.com/MiroMindAI/MiroFlow"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRegistry wraps a miroflow.ToolRegistry with OTEL instrumentation.
type ObservedRegistry struct {
	inner miroflow.ToolRegistry
	inst  *Instruments
}

// WrapRegistry returns an instrumented registry emitting a span and metrics
// for every tool execution.
func WrapRegistry(inner miroflow.ToolRegistry, inst *Instruments) *ObservedRegistry {
	return &ObservedRegistry{inner: inner, inst: inst}
}

func (o *ObservedRegistry) GetAllToolDefinitions(ctx context.Context) ([]miroflow.ServerDef, error) {
	return o.inner.GetAllToolDefinitions(ctx)
}

func (o *ObservedRegistry) ExecuteToolCall(ctx context.Context, serverName, toolName string, arguments map[string]any) (miroflow.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolServer.String(serverName),
		AttrToolName.String(toolName),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.ExecuteToolCall(ctx, serverName, toolName, arguments)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Error != "":
		status = "tool_error"
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Result)),
	)

	attrs := metric.WithAttributes(
		AttrToolServer.String(serverName),
		AttrToolName.String(toolName),
		AttrToolStatus.String(status),
	)
	o.inst.ToolExecutions.Add(ctx, 1, attrs)
	o.inst.ToolDuration.Record(ctx, durationMs, attrs)

	return result, err
}

var _ miroflow.ToolRegistry = (*ObservedRegistry)(nil)
