// Package miroflow is a hierarchical agent orchestration engine.
//
// It drives a large language model through iterative, tool-augmented
// reasoning: a main agent issues tool calls, some of which delegate to
// specialized sub-agents that run their own bounded LLM-tool loops and
// return a summary as the tool result. The engine manages turn budgets,
// tool-call multiplexing, context-limit recovery, token accounting, and a
// push-based event stream for external observers.
//
// The engine consumes two external contracts and implements neither:
//
//   - LLMClient: message completion with streaming and usage accounting.
//   - ToolRegistry: named remote tools addressed by (server, tool, arguments).
//
// A run is wired together through the Orchestrator:
//
//	emitter := miroflow.NewEmitter(64)
//	orc := miroflow.NewOrchestrator(client, registry, cfg,
//		miroflow.WithEmitter(emitter),
//		miroflow.WithTaskLog(taskLog),
//	)
//	go consume(emitter.Events())
//	summary, boxed, err := orc.Run(ctx, task)
//
// The observer subpackage wraps LLMClient and ToolRegistry with
// OpenTelemetry instrumentation; the store subpackages persist task state.
package miroflow
