// Package eventlog records audit events for device lifecycle operations:
// adds, deletes, identity changes. Events fan out to one or more sinks, a
// JSON-lines file with size-based rotation and/or database rows.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Severity grades an event for operator filtering.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one audit record. DeviceID is zero for events not tied to a
// persisted device (e.g. rejected adds).
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  int64     `json:"device_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// New builds an event with a fresh correlation ID and the current time.
func New(deviceID int64, severity Severity, message string) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Severity:  severity,
		Message:   message,
	}
}

// Sink accepts audit events. Implementations must be safe for concurrent
// use.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Sinks
// ─────────────────────────────────────────────────────────────────────────────

// NopSink discards everything. Useful as a default so callers never need a
// nil check.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }

// EventStore is the persistence capability a StoreSink writes through.
type EventStore interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// StoreSink records events as database rows.
type StoreSink struct {
	store EventStore
}

// NewStoreSink wraps store as a Sink.
func NewStoreSink(store EventStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(ctx context.Context, ev Event) error {
	return s.store.InsertEvent(ctx, ev)
}

// MultiSink records to every sink and reports the joined errors; one failing
// sink never blocks the others from seeing the event.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
