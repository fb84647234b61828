package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for MiroFlow observability spans and metrics.
var (
	AttrLLMMethod    = attribute.Key("llm.method")
	AttrLLMAgentType = attribute.Key("llm.agent_type")
	AttrLLMStepID    = attribute.Key("llm.step_id")
	AttrLLMStatus    = attribute.Key("llm.status")

	AttrTokensInput     = attribute.Key("llm.tokens.input")
	AttrTokensOutput    = attribute.Key("llm.tokens.output")
	AttrTokensCached    = attribute.Key("llm.tokens.cached")
	AttrTokensReasoning = attribute.Key("llm.tokens.reasoning")
	AttrTokenKind       = attribute.Key("llm.token_kind")

	AttrToolServer       = attribute.Key("tool.server")
	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")
)
