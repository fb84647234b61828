package miroflow

// ContextLimitError is the distinguishable sentinel an LLMClient must return
// when the provider signals a context-window overflow. It is the only LLM
// failure the engine handles specially: the agent transitions to the summary
// phase and the summary generator prunes history until the call fits.
type ContextLimitError struct {
	Message string
}

func (e *ContextLimitError) Error() string {
	return "context limit exceeded: " + e.Message
}
