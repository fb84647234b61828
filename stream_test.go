package miroflow

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStreamPacerFlushesOnFinish(t *testing.T) {
	var got []string
	var sawLast bool
	cb := func(_ context.Context, _, delta string, isLast bool) bool {
		if isLast {
			sawLast = true
		} else {
			got = append(got, delta)
		}
		return true
	}

	// A long interval means at most the first push flushes before Finish.
	p := NewStreamPacer(cb, time.Hour)
	ctx := context.Background()
	p.Push(ctx, "hel")
	p.Push(ctx, "lo")
	if len(got) > 1 {
		t.Fatalf("flushed %d times before the interval elapsed", len(got))
	}
	p.Finish(ctx)

	if strings.Join(got, "") != "hello" {
		t.Errorf("concatenation: %q", strings.Join(got, ""))
	}
	if !sawLast {
		t.Error("final flush must signal isLast")
	}
}

func TestStreamPacerStopsWhenIntercepted(t *testing.T) {
	calls := 0
	cb := func(_ context.Context, _, delta string, isLast bool) bool {
		if !isLast {
			calls++
		}
		return false // consumer intercepted the stream
	}
	p := NewStreamPacer(cb, time.Nanosecond)
	ctx := context.Background()
	p.Push(ctx, "one")
	time.Sleep(2 * time.Nanosecond)
	p.Push(ctx, "two")
	p.Push(ctx, "three")
	p.Finish(ctx)

	if calls != 1 {
		t.Errorf("deltas after interception: got %d calls, want 1", calls)
	}
}

func TestStreamPacerNilCallback(t *testing.T) {
	p := NewStreamPacer(nil, 0)
	ctx := context.Background()
	p.Push(ctx, "x")
	p.Finish(ctx) // must not panic
}
