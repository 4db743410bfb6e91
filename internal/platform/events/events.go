// Package events publishes stream lifecycle events (scheduled, live,
// completed, orphaned resources) to an audit sink.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	StreamScheduled      Type = "stream.scheduled"
	StreamLinked         Type = "stream.linked"
	StreamDiscovered     Type = "stream.discovered"
	StreamLive           Type = "stream.live"
	StreamCompleted      Type = "stream.completed"
	StreamStatusOverride Type = "stream.status_overridden"
	IngestOrphaned       Type = "ingest.orphaned"
	OrphanCleaned        Type = "ingest.cleaned"
)

// Event is a single audit record.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	StreamKey string            `json:"stream_key,omitempty"`
	Status    string            `json:"status,omitempty"`
	At        time.Time         `json:"at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// New returns an event with a fresh id and the current UTC time.
func New(t Type, streamKey, status string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		StreamKey: streamKey,
		Status:    status,
		At:        time.Now().UTC(),
	}
}

// With returns a copy of e carrying the extra attribute.
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attrs)+1)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attrs = attrs
	return e
}

// Sink receives events. Publish failures are the caller's to log; they never
// abort the operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink that logs every event at info level.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	attrs := []any{
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.Time("at", e.At),
	}
	if e.StreamKey != "" {
		attrs = append(attrs, slog.String("stream_key", e.StreamKey))
	}
	if e.Status != "" {
		attrs = append(attrs, slog.String("status", e.Status))
	}
	for k, v := range e.Attrs {
		attrs = append(attrs, slog.String(k, v))
	}
	s.log.InfoContext(ctx, "lifecycle event", attrs...)
	return nil
}

// Nop discards events.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, Event) error { return nil }
