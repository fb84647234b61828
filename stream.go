package miroflow

import (
	"context"
	"time"
)

// defaultStreamInterval is the pacing between observer-facing flushes of
// accumulated stream text.
const defaultStreamInterval = 100 * time.Millisecond

// StreamPacer buffers raw provider deltas and drives a StreamCallback with
// accumulated content at a fixed cadence. LLM clients push every delta as it
// arrives; the pacer flushes at most once per interval plus a final flush,
// so observers see smooth chunks instead of per-token noise.
type StreamPacer struct {
	cb        StreamCallback
	messageID string
	interval  time.Duration
	buffer    string
	lastEmit  time.Time
	active    bool
}

// NewStreamPacer creates a pacer around cb. A zero interval uses the
// default 100ms cadence.
func NewStreamPacer(cb StreamCallback, interval time.Duration) *StreamPacer {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &StreamPacer{
		cb:        cb,
		messageID: NewID(),
		interval:  interval,
		active:    true,
	}
}

// Push appends delta and flushes when the pacing interval has elapsed.
func (p *StreamPacer) Push(ctx context.Context, delta string) {
	if p.cb == nil || delta == "" {
		return
	}
	p.buffer += delta
	if !p.active {
		return
	}
	now := time.Now()
	if now.Sub(p.lastEmit) < p.interval {
		return
	}
	p.active = p.cb(ctx, p.messageID, p.buffer, false)
	p.buffer = ""
	p.lastEmit = now
}

// Finish flushes any buffered text and signals the end of the stream.
func (p *StreamPacer) Finish(ctx context.Context) {
	if p.cb == nil {
		return
	}
	if p.buffer != "" && p.active {
		p.active = p.cb(ctx, p.messageID, p.buffer, false)
		p.buffer = ""
	}
	p.cb(ctx, p.messageID, "", true)
}
