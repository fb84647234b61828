package miroflow

import (
	"context"
	"time"
)

// retryRegistry wraps a ToolRegistry and retries transport-level failures of
// ExecuteToolCall with exponential backoff: 5s, 10s, 20s, ... between
// attempts. Surface errors carried inside a ToolResult pass through
// untouched; only an error return is retried.
type retryRegistry struct {
	inner       ToolRegistry
	maxAttempts int
	baseDelay   time.Duration
}

// RetryOption configures a retryRegistry.
type RetryOption func(*retryRegistry)

// RetryMaxAttempts sets the maximum number of attempts (default: 5).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryRegistry) { r.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt (default: 5s).
// Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryRegistry) { r.baseDelay = d }
}

// WithToolRetry wraps reg with automatic retry on transport errors.
// Compose with any ToolRegistry:
//
//	reg = miroflow.WithToolRetry(mcpRegistry)
//	reg = miroflow.WithToolRetry(mcpRegistry, miroflow.RetryMaxAttempts(3))
func WithToolRetry(reg ToolRegistry, opts ...RetryOption) ToolRegistry {
	r := &retryRegistry{
		inner:       reg,
		maxAttempts: 5,
		baseDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryRegistry) GetAllToolDefinitions(ctx context.Context) ([]ServerDef, error) {
	return r.inner.GetAllToolDefinitions(ctx)
}

func (r *retryRegistry) ExecuteToolCall(ctx context.Context, serverName, toolName string, arguments map[string]any) (ToolResult, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		result, err := r.inner.ExecuteToolCall(ctx, serverName, toolName, arguments)
		if err == nil {
			return result, nil
		}
		last = err
		if ctx.Err() != nil {
			return ToolResult{}, last
		}
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(r.baseDelay * (1 << i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ToolResult{}, last
			case <-timer.C:
			}
		}
	}
	return ToolResult{}, last
}

var _ ToolRegistry = (*retryRegistry)(nil)
