package miroflow

import (
	"github.com/google/uuid"
)

// NewID generates a globally unique opaque identifier, used for workflow
// ids, agent ids, and tool-call ids in the event stream.
func NewID() string {
	return uuid.NewString()
}

// newMessageID generates a short random message id in the common LLM API
// shape (msg_ + 8 hex chars). Prefixing user messages with it defeats
// provider-side cache reuse across unrelated conversations.
func newMessageID() string {
	return "msg_" + uuid.NewString()[:8]
}
