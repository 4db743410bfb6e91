package livestream

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a stream record.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusScheduled, StatusLive, StatusCompleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus converts user input to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// StreamRecord is the registry's unit of truth for one stream.
//
// Invariants, checked by Validate before every write:
//   - StreamKey is non-empty and never changes once stored.
//   - live implies ActualStart set and ActualEnd nil.
//   - completed implies ActualStart and ActualEnd set.
//   - without ExternalBroadcastID a record is scheduled, unless Linked.
type StreamRecord struct {
	StreamKey      string     `json:"stream_key" dynamodbav:"stream_key"`
	Title          string     `json:"title" dynamodbav:"title"`
	Description    string     `json:"description" dynamodbav:"description"`
	Status         Status     `json:"status" dynamodbav:"status"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty" dynamodbav:"scheduled_start,omitempty"`
	ActualStart    *time.Time `json:"actual_start,omitempty" dynamodbav:"actual_start,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty" dynamodbav:"actual_end,omitempty"`

	ExternalBroadcastID string `json:"external_broadcast_id,omitempty" dynamodbav:"external_broadcast_id,omitempty"`
	ExternalStreamID    string `json:"external_stream_id,omitempty" dynamodbav:"external_stream_id,omitempty"`
	ExternalIngestKey   string `json:"external_ingest_key,omitempty" dynamodbav:"external_ingest_key,omitempty"`

	ViewerCount int64  `json:"viewer_count" dynamodbav:"viewer_count"`
	AccessTier  string `json:"access_tier,omitempty" dynamodbav:"access_tier,omitempty"`
	Instructor  string `json:"instructor,omitempty" dynamodbav:"instructor,omitempty"`
	Linked      bool   `json:"linked" dynamodbav:"linked"`
	WatchURL    string `json:"watch_url,omitempty" dynamodbav:"watch_url,omitempty"`
	EmbedURL    string `json:"embed_url,omitempty" dynamodbav:"embed_url,omitempty"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Validate checks the record invariants.
func (r StreamRecord) Validate() error {
	if strings.TrimSpace(r.StreamKey) == "" {
		return invalid("stream key is empty")
	}
	if !r.Status.Valid() {
		return invalid(fmt.Sprintf("unknown status %q", r.Status))
	}

	switch r.Status {
	case StatusLive:
		if r.ActualStart == nil {
			return invalid("live record has no actual start")
		}
		if r.ActualEnd != nil {
			return invalid("live record has an actual end")
		}
	case StatusCompleted:
		if r.ActualStart == nil || r.ActualEnd == nil {
			return invalid("completed record needs actual start and end")
		}
	}

	if r.ExternalBroadcastID == "" && r.Status != StatusScheduled && !r.Linked {
		return invalid("record without a broadcast id must be scheduled")
	}
	return nil
}

// Clone returns a deep copy of r.
func (r StreamRecord) Clone() StreamRecord {
	c := r
	c.ScheduledStart = cloneTime(r.ScheduledStart)
	c.ActualStart = cloneTime(r.ActualStart)
	c.ActualEnd = cloneTime(r.ActualEnd)
	return c
}

// sameContent compares everything except the bookkeeping timestamps.
func (r StreamRecord) sameContent(o StreamRecord) bool {
	a, b := r, o
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.ScheduledStart, a.ActualStart, a.ActualEnd = nil, nil, nil
	b.ScheduledStart, b.ActualStart, b.ActualEnd = nil, nil, nil
	return a == b &&
		timeEqual(r.ScheduledStart, o.ScheduledStart) &&
		timeEqual(r.ActualStart, o.ActualStart) &&
		timeEqual(r.ActualEnd, o.ActualEnd)
}

// normalize puts every timestamp in UTC at millisecond precision so records
// compare equal after a round trip through any store.
func (r *StreamRecord) normalize() {
	r.ScheduledStart = normTimePtr(r.ScheduledStart)
	r.ActualStart = normTimePtr(r.ActualStart)
	r.ActualEnd = normTimePtr(r.ActualEnd)
	r.CreatedAt = normTime(r.CreatedAt)
	r.UpdatedAt = normTime(r.UpdatedAt)
}

func normTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

func normTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normTime(*t)
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
