package miroflow

import "strings"

// KeyTokenInterceptor withholds any streamed suffix that could grow into one
// of a fixed set of forbidden tokens (tool-call markup such as
// "<use_mcp_tool>"), so partial markup never reaches the observer-facing
// stream. The token set is fixed per session.
//
// Applied to any chunking of a stream, the concatenation of emitted text
// equals the result of processing the whole stream at once with isLast=true.
type KeyTokenInterceptor struct {
	tokens []string
	buffer string
}

// NewKeyTokenInterceptor creates an interceptor for the given forbidden
// tokens.
func NewKeyTokenInterceptor(tokens ...string) *KeyTokenInterceptor {
	return &KeyTokenInterceptor{tokens: tokens}
}

// ContainsForbidden reports whether text contains any forbidden token.
func (k *KeyTokenInterceptor) ContainsForbidden(text string) bool {
	for _, t := range k.tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// Process appends delta to the internal buffer and returns the longest
// prefix that is safe to forward. ok is false when nothing can be emitted
// yet. On isLast the buffer is flushed: text before a forbidden token is
// emitted, the token and everything after it is discarded.
func (k *KeyTokenInterceptor) Process(delta string, isLast bool) (string, bool) {
	k.buffer += delta

	if isLast {
		result := k.buffer
		k.buffer = ""
		for _, t := range k.tokens {
			if pos := strings.Index(result, t); pos >= 0 {
				if pos > 0 {
					return result[:pos], true
				}
				return "", false
			}
		}
		if result == "" {
			return "", false
		}
		return result, true
	}

	// The whole buffer may still grow into a forbidden token.
	for _, t := range k.tokens {
		if len(k.buffer) < len(t) && strings.HasPrefix(t, k.buffer) {
			return "", false
		}
	}

	// A complete forbidden token inside the buffer: emit the text before it,
	// retain the token and everything after.
	for _, t := range k.tokens {
		if pos := strings.Index(k.buffer, t); pos >= 0 {
			if pos > 0 {
				result := k.buffer[:pos]
				k.buffer = k.buffer[pos:]
				return result, true
			}
			return "", false
		}
	}

	// Retain the longest suffix that could still grow into a forbidden
	// token; everything before it is safe to emit.
	safeEnd := len(k.buffer)
scan:
	for i := 1; i < len(k.buffer); i++ {
		suffix := k.buffer[i:]
		for _, t := range k.tokens {
			if len(suffix) < len(t) && strings.HasPrefix(t, suffix) {
				safeEnd = i
				break scan
			}
		}
	}
	if safeEnd == 0 {
		return "", false
	}
	result := k.buffer[:safeEnd]
	k.buffer = k.buffer[safeEnd:]
	return result, true
}
