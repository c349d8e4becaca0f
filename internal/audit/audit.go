package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is the canonical audit record for rate-limit and trust decisions.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	LimitType  string            `json:"limit_type,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink consumes the rate_limited, lockout_triggered, ip_* and
// store_unavailable events raised by the limiter. The dispatcher calls Emit
// from one goroutine; sinks shared across services must lock.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events. It backs the dispatcher when no sink is set.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands decisions to an in-process consumer such as a test or an
// alerting loop. A full channel applies backpressure to the dispatcher until
// ctx ends, at which point the event is lost.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side; it is never closed.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes each lockout, denial and trust change as one JSON
// line, ready for a log shipper. Lines from concurrent emitters never
// interleave.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}
