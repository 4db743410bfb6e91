package livestream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"livesync/internal/platform/events"
	"livesync/internal/youtube"
)

// CleanupQueue holds external resources that compensation could not delete.
// The poller drains it on every pass; whatever still fails stays queued.
// The queue lives in process memory, so a restart forgets it. Every entry is
// also logged and published as an ingest.orphaned event when added.
type CleanupQueue struct {
	mu      sync.Mutex
	pending map[youtube.Resource]int
	events  events.Sink
	log     *slog.Logger
}

// NewCleanupQueue returns an empty queue. sink may be nil.
func NewCleanupQueue(sink events.Sink, log *slog.Logger) *CleanupQueue {
	if sink == nil {
		sink = events.Nop{}
	}
	return &CleanupQueue{
		pending: make(map[youtube.Resource]int),
		events:  sink,
		log:     log,
	}
}

// Add queues resources for deletion. streamKey is recorded on the event and
// may be empty.
func (q *CleanupQueue) Add(ctx context.Context, streamKey string, rs ...youtube.Resource) {
	q.mu.Lock()
	added := make([]youtube.Resource, 0, len(rs))
	for _, r := range rs {
		if _, ok := q.pending[r]; ok {
			continue
		}
		q.pending[r] = 0
		added = append(added, r)
	}
	q.mu.Unlock()

	for _, r := range added {
		q.log.Warn("external resource queued for cleanup",
			slog.String("resource", r.String()),
			slog.String("stream_key", streamKey))
		publish(ctx, q.events, q.log, events.New(events.IngestOrphaned, streamKey, "").
			With("kind", r.Kind).
			With("resource_id", r.ID))
	}
}

// Pending returns a snapshot of the queued resources.
func (q *CleanupQueue) Pending() []youtube.Resource {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]youtube.Resource, 0, len(q.pending))
	for r := range q.pending {
		out = append(out, r)
	}
	return out
}

// Drain tries to delete every queued resource once. It returns how many
// were deleted and how many attempts failed.
func (q *CleanupQueue) Drain(ctx context.Context, adapter BroadcastAdapter) (cleaned, failed int) {
	for _, r := range q.Pending() {
		if err := adapter.Delete(ctx, r); err != nil && !alreadyGone(err) {
			q.mu.Lock()
			q.pending[r]++
			attempts := q.pending[r]
			q.mu.Unlock()
			q.log.Warn("cleanup attempt failed",
				slog.String("resource", r.String()),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()))
			failed++
			continue
		}

		q.mu.Lock()
		delete(q.pending, r)
		q.mu.Unlock()
		cleaned++

		q.log.Info("orphaned resource deleted", slog.String("resource", r.String()))
		publish(ctx, q.events, q.log, events.New(events.OrphanCleaned, "", "").
			With("kind", r.Kind).
			With("resource_id", r.ID))
	}
	return cleaned, failed
}

func alreadyGone(err error) bool {
	apiErr, ok := youtube.AsExternalAPIError(err)
	return ok && apiErr.StatusCode == http.StatusNotFound
}
