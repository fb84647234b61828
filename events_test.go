package miroflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(8)
	ctx := context.Background()
	e.Emit(ctx, &Event{Type: EventStartOfWorkflow})
	e.Emit(ctx, &Event{Type: EventMessage})
	e.Emit(ctx, &Event{Type: EventEndOfWorkflow})
	e.Close()

	var types []EventType
	for ev := range e.Events() {
		if ev == nil {
			break
		}
		types = append(types, ev.Type)
	}
	want := []EventType{EventStartOfWorkflow, EventMessage, EventEndOfWorkflow}
	if len(types) != len(want) {
		t.Fatalf("got %d events, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}
}

func TestEmitterNilSentinelThenClose(t *testing.T) {
	e := NewEmitter(2)
	e.Emit(context.Background(), &Event{Type: EventMessage})
	e.Close()

	ev, ok := <-e.Events()
	if !ok || ev == nil {
		t.Fatal("expected the emitted event first")
	}
	ev, ok = <-e.Events()
	if !ok || ev != nil {
		t.Fatal("expected the nil sentinel")
	}
	_, ok = <-e.Events()
	if ok {
		t.Fatal("expected channel closure after the sentinel")
	}
}

func TestEmitterCloseIdempotent(t *testing.T) {
	e := NewEmitter(2)
	e.Close()
	e.Close() // must not panic
	e.Emit(context.Background(), &Event{Type: EventMessage}) // discarded, must not panic
}

func TestNilEmitterIsNoop(t *testing.T) {
	var e *Emitter
	e.Emit(context.Background(), &Event{Type: EventMessage})
	e.Close()
}

func TestEmitterBackpressure(t *testing.T) {
	e := NewEmitter(1)
	ctx := context.Background()
	e.Emit(ctx, &Event{Type: EventMessage}) // fills the buffer

	done := make(chan struct{})
	go func() {
		e.Emit(ctx, &Event{Type: EventToolCall}) // must block until consumed
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second emit completed without a consumer; events could be dropped")
	case <-time.After(50 * time.Millisecond):
	}

	<-e.Events() // free one slot
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked emit never completed after consumption")
	}
}

func TestEmitterCancelledContextDiscards(t *testing.T) {
	e := NewEmitter(1)
	ctx := context.Background()
	e.Emit(ctx, &Event{Type: EventMessage})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		e.Emit(cancelled, &Event{Type: EventToolCall})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit with cancelled context must not block forever")
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := Event{Type: EventStartOfAgent, Data: EventData{AgentName: "main", AgentID: "a1"}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["event"] != "start_of_agent" {
		t.Errorf("event field: %v", decoded["event"])
	}
	payload, _ := decoded["data"].(map[string]any)
	if payload["agent_name"] != "main" || payload["agent_id"] != "a1" {
		t.Errorf("data payload: %v", payload)
	}
}
