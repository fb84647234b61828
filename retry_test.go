package miroflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyRegistry fails a fixed number of times before succeeding.
type flakyRegistry struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyRegistry) GetAllToolDefinitions(ctx context.Context) ([]ServerDef, error) {
	return nil, nil
}

func (f *flakyRegistry) ExecuteToolCall(ctx context.Context, serverName, toolName string, arguments map[string]any) (ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return ToolResult{}, errors.New("transport down")
	}
	return ToolResult{Result: "up"}, nil
}

func TestWithToolRetryRecovers(t *testing.T) {
	inner := &flakyRegistry{failures: 2}
	reg := WithToolRetry(inner, RetryBaseDelay(time.Millisecond))

	result, err := reg.ExecuteToolCall(context.Background(), "srv", "tool", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Result != "up" || inner.calls != 3 {
		t.Errorf("result %q after %d calls", result.Result, inner.calls)
	}
}

func TestWithToolRetryExhausts(t *testing.T) {
	inner := &flakyRegistry{failures: 100}
	reg := WithToolRetry(inner, RetryBaseDelay(time.Millisecond), RetryMaxAttempts(3))

	_, err := reg.ExecuteToolCall(context.Background(), "srv", "tool", nil)
	if err == nil {
		t.Fatal("expected the last error")
	}
	if inner.calls != 3 {
		t.Errorf("attempts: %d, want 3", inner.calls)
	}
}

func TestWithToolRetrySurfaceErrorsPassThrough(t *testing.T) {
	registry := newFakeRegistry()
	registry.results["echo"] = ToolResult{Error: "tool-level failure"}
	reg := WithToolRetry(registry, RetryBaseDelay(time.Millisecond))

	result, err := reg.ExecuteToolCall(context.Background(), "srvA", "echo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "tool-level failure" {
		t.Errorf("surface error rewritten: %+v", result)
	}
	if registry.callCount() != 1 {
		t.Errorf("surface errors must not retry, got %d calls", registry.callCount())
	}
}

func TestWithToolRetryHonoursCancellation(t *testing.T) {
	inner := &flakyRegistry{failures: 100}
	reg := WithToolRetry(inner, RetryBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := reg.ExecuteToolCall(ctx, "srv", "tool", nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}
