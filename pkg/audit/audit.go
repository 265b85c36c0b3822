// Package audit provides the audit event stream: one event per state
// transition, role change, or mint, appended to an injectable sink. The
// core emits best-effort and never blocks on a sink's consumption.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	EventLockCreated   EventType = "LOCK_CREATED"
	EventLockCompleted EventType = "LOCK_COMPLETED"
	EventLockRefunded  EventType = "LOCK_REFUNDED"
	EventLockCancelled EventType = "LOCK_CANCELLED"
	EventRoleGranted   EventType = "ROLE_GRANTED"
	EventRoleRevoked   EventType = "ROLE_REVOKED"
	EventMintPerformed EventType = "MINT_PERFORMED"
	EventPoolAdjusted  EventType = "POOL_ADJUSTED"
	EventInitialized   EventType = "INITIALIZED"
)

// Event is a structured audit record.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Actor     string            `json:"actor"`
	Subject   string            `json:"subject"`
	Amount    uint64            `json:"amount,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events. Implementations must tolerate concurrent
// callers; errors are reported to the caller, which logs and moves on.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// writerSink writes one JSON event per line to a configurable Writer.
type writerSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink creates a Sink writing JSON lines to w. A nil writer falls
// back to os.Stdout.
func NewWriterSink(w io.Writer) Sink {
	if w == nil {
		w = os.Stdout
	}
	return &writerSink{writer: w}
}

func (s *writerSink) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.writer.Write(append(raw, '\n'))
	return err
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(ctx context.Context, ev Event) error { return nil }

// MultiSink fans events out to several sinks; the first error wins but all
// sinks are attempted.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
