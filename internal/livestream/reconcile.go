package livestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livesync/internal/platform/events"
	"livesync/internal/platform/metrics"
	"livesync/internal/youtube"
)

// maxStaleChecks bounds the detail lookups for overdue scheduled records in
// one pass.
const maxStaleChecks = 20

// SyncReport summarises one reconciliation pass.
type SyncReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Active     int       `json:"active"`
	Upcoming   int       `json:"upcoming"`
	WentLive   []string  `json:"went_live,omitempty"`
	Completed  []string  `json:"completed,omitempty"`
	Discovered []string  `json:"discovered,omitempty"`
	Updated    []string  `json:"updated,omitempty"`
	Cleaned    int       `json:"cleaned,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
}

// Reconciler re-derives registry state from the external listings.
type Reconciler struct {
	reg      *Registry
	adapter  BroadcastAdapter
	cleanup  *CleanupQueue
	events   events.Sink
	log      *slog.Logger
	metrics  *metrics.Metrics
	defaults Defaults
	now      func() time.Time
}

// Run performs one reconciliation pass:
//
//  1. list active broadcasts; a failure here aborts the pass
//  2. mark active broadcasts live, creating records for unknown ones
//  3. complete live records that are no longer active
//  4. upsert upcoming broadcasts as scheduled without regressing live or
//     completed records
//  5. complete overdue scheduled records whose broadcast reports an end
//  6. retry cleanup of orphaned external resources
//
// Errors on single broadcasts are logged, recorded in the report and skipped.
// Every write is an idempotent upsert by stream key, so passes may overlap.
func (rc *Reconciler) Run(ctx context.Context) (report SyncReport, err error) {
	report = SyncReport{StartedAt: rc.now().UTC()}
	defer func() {
		report.FinishedAt = rc.now().UTC()
		rc.metrics.ObserveSyncPass(report.FinishedAt.Sub(report.StartedAt).Seconds(), len(report.Errors))
	}()

	active, err := rc.adapter.ListActiveBroadcasts(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "list_active: "+err.Error())
		return report, fmt.Errorf("list active broadcasts: %w", err)
	}
	report.Active = len(active)

	activeIDs := make(map[string]bool, len(active))
	for _, b := range active {
		activeIDs[b.ID] = true
		rc.syncActive(ctx, b, &report)
	}

	rc.completeInactive(ctx, activeIDs, &report)

	upcomingIDs := make(map[string]bool)
	upcoming, err := rc.adapter.ListUpcomingBroadcasts(ctx)
	if err != nil {
		rc.fail(ctx, &report, "list_upcoming", "", err)
	} else {
		report.Upcoming = len(upcoming)
		for _, b := range upcoming {
			upcomingIDs[b.ID] = true
			rc.syncUpcoming(ctx, b, &report)
		}
	}

	rc.completeStale(ctx, activeIDs, upcomingIDs, &report)

	if rc.cleanup != nil {
		cleaned, _ := rc.cleanup.Drain(ctx, rc.adapter)
		report.Cleaned = cleaned
	}

	rc.log.Debug("sync pass finished",
		slog.Int("active", report.Active),
		slog.Int("upcoming", report.Upcoming),
		slog.Int("went_live", len(report.WentLive)),
		slog.Int("completed", len(report.Completed)),
		slog.Int("discovered", len(report.Discovered)),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

func (rc *Reconciler) syncActive(ctx context.Context, b youtube.Broadcast, report *SyncReport) {
	current, err := rc.reg.Get(ctx, b.ID)
	if err != nil && !IsNotFound(err) {
		rc.fail(ctx, report, "registry_get", b.ID, err)
		return
	}
	if err == nil && current.Status == StatusLive {
		rc.refreshLive(ctx, b, report)
		return
	}

	detail, err := rc.adapter.GetBroadcast(ctx, b.ID)
	if err != nil {
		rc.fail(ctx, report, "get_video", b.ID, err)
		return
	}
	if detail.Ended() {
		return
	}

	var (
		created bool
		from    Status
	)
	rec, wrote, err := rc.reg.Upsert(ctx, b.ID, func(rec *StreamRecord, found bool) error {
		if found && rec.Status == StatusLive {
			return SkipWrite
		}
		created = !found
		from = rec.Status

		start := firstTime(detail.ActualStart, b.ActualStart)
		if start == nil {
			start = timePtr(rc.now())
		}
		rec.Status = StatusLive
		rec.ActualStart = start
		rec.ActualEnd = nil
		rec.ExternalBroadcastID = b.ID
		rec.ViewerCount = viewers(b, detail)
		if !found {
			rec.Title = firstString(b.Title, detail.Title)
			rec.Description = firstString(b.Description, detail.Description)
			rec.ScheduledStart = firstTime(b.ScheduledStart, detail.ScheduledStart)
			rc.defaults.apply(rec)
		}
		fillURLs(rec, b.ID)
		return nil
	})
	if err != nil {
		rc.fail(ctx, report, "registry_upsert", b.ID, err)
		return
	}
	if !wrote {
		return
	}

	report.WentLive = append(report.WentLive, b.ID)
	ev := events.New(events.StreamLive, rec.StreamKey, string(rec.Status))
	if created {
		ev = ev.With("discovered", "true")
	}
	if from == StatusCompleted {
		// a completed record whose broadcast is still active, e.g. after
		// EndBroadcast failed to complete it upstream
		ev = ev.With("reopened", "true")
		rc.log.WarnContext(ctx, "completed stream reopened by active broadcast",
			slog.String("stream_key", rec.StreamKey))
	}
	rc.transition(ctx, rec, ev)
}

// refreshLive updates the viewer count of a live record and adopts the
// broadcast id onto a linked record that had none.
func (rc *Reconciler) refreshLive(ctx context.Context, b youtube.Broadcast, report *SyncReport) {
	_, wrote, err := rc.reg.Upsert(ctx, b.ID, func(rec *StreamRecord, found bool) error {
		if !found || rec.Status != StatusLive {
			return SkipWrite
		}
		if b.ViewerCount > 0 {
			rec.ViewerCount = b.ViewerCount
		}
		if rec.ExternalBroadcastID == "" {
			rec.ExternalBroadcastID = b.ID
		}
		return nil
	})
	if err != nil {
		rc.fail(ctx, report, "registry_upsert", b.ID, err)
		return
	}
	if wrote {
		report.Updated = append(report.Updated, b.ID)
	}
}

func (rc *Reconciler) completeInactive(ctx context.Context, activeIDs map[string]bool, report *SyncReport) {
	live, err := rc.reg.ListByStatus(ctx, StatusLive)
	if err != nil {
		rc.fail(ctx, report, "registry_list", "", err)
		return
	}

	for _, cur := range live {
		if activeIDs[cur.StreamKey] || (cur.ExternalBroadcastID != "" && activeIDs[cur.ExternalBroadcastID]) {
			continue
		}
		// linked without a broadcast id: the provider never told us it was
		// live, so its absence says nothing
		if cur.Linked && cur.ExternalBroadcastID == "" {
			continue
		}

		rec, wrote, err := rc.reg.Upsert(ctx, cur.StreamKey, func(rec *StreamRecord, found bool) error {
			if !found || rec.Status != StatusLive {
				return SkipWrite
			}
			now := rc.now()
			rec.Status = StatusCompleted
			if rec.ActualStart == nil {
				rec.ActualStart = timePtr(now)
			}
			rec.ActualEnd = timePtr(now)
			return nil
		})
		if err != nil {
			rc.fail(ctx, report, "registry_upsert", cur.StreamKey, err)
			continue
		}
		if wrote {
			report.Completed = append(report.Completed, rec.StreamKey)
			rc.transition(ctx, rec, events.New(events.StreamCompleted, rec.StreamKey, string(rec.Status)))
		}
	}
}

func (rc *Reconciler) syncUpcoming(ctx context.Context, b youtube.Broadcast, report *SyncReport) {
	if b.ScheduledStart == nil {
		return
	}

	var created bool
	rec, wrote, err := rc.reg.Upsert(ctx, b.ID, func(rec *StreamRecord, found bool) error {
		if found && rec.Status != StatusScheduled {
			return SkipWrite
		}
		created = !found

		rec.Status = StatusScheduled
		rec.ScheduledStart = b.ScheduledStart
		rec.ExternalBroadcastID = b.ID
		if b.Title != "" {
			rec.Title = b.Title
		}
		if b.Description != "" {
			rec.Description = b.Description
		}
		if !found {
			rc.defaults.apply(rec)
		}
		fillURLs(rec, b.ID)
		return nil
	})
	if err != nil {
		rc.fail(ctx, report, "registry_upsert", b.ID, err)
		return
	}
	if !wrote {
		return
	}

	if created {
		report.Discovered = append(report.Discovered, rec.StreamKey)
		rc.transition(ctx, rec, events.New(events.StreamDiscovered, rec.StreamKey, string(rec.Status)))
		return
	}
	report.Updated = append(report.Updated, rec.StreamKey)
}

// completeStale looks up scheduled records that should have started but are
// neither active nor upcoming, and completes those the provider reports as
// ended.
func (rc *Reconciler) completeStale(ctx context.Context, activeIDs, upcomingIDs map[string]bool, report *SyncReport) {
	scheduled, err := rc.reg.ListByStatus(ctx, StatusScheduled)
	if err != nil {
		rc.fail(ctx, report, "registry_list", "", err)
		return
	}

	now := rc.now()
	checked := 0
	for _, cur := range scheduled {
		id := cur.ExternalBroadcastID
		if id == "" || activeIDs[id] || upcomingIDs[id] {
			continue
		}
		if cur.ScheduledStart == nil || cur.ScheduledStart.After(now) {
			continue
		}
		if checked >= maxStaleChecks {
			break
		}
		checked++

		detail, err := rc.adapter.GetBroadcast(ctx, id)
		if errors.Is(err, youtube.ErrBroadcastNotFound) {
			rc.log.Debug("scheduled broadcast no longer exists", slog.String("stream_key", cur.StreamKey))
			continue
		}
		if err != nil {
			rc.fail(ctx, report, "get_video", id, err)
			continue
		}
		if !detail.Ended() {
			continue
		}

		rec, wrote, err := rc.reg.Upsert(ctx, cur.StreamKey, func(rec *StreamRecord, found bool) error {
			if !found || rec.Status != StatusScheduled {
				return SkipWrite
			}
			rec.Status = StatusCompleted
			rec.ActualStart = firstTime(detail.ActualStart, detail.ActualEnd)
			rec.ActualEnd = detail.ActualEnd
			if detail.ViewerCount > 0 {
				rec.ViewerCount = detail.ViewerCount
			}
			return nil
		})
		if err != nil {
			rc.fail(ctx, report, "registry_upsert", cur.StreamKey, err)
			continue
		}
		if wrote {
			report.Completed = append(report.Completed, rec.StreamKey)
			rc.transition(ctx, rec, events.New(events.StreamCompleted, rec.StreamKey, string(rec.Status)).
				With("observed", "detail"))
		}
	}
}

func (rc *Reconciler) transition(ctx context.Context, rec StreamRecord, ev events.Event) {
	rc.metrics.IncTransition(string(rec.Status), "sync")
	rc.log.Info("stream status changed",
		slog.String("stream_key", rec.StreamKey),
		slog.String("status", string(rec.Status)),
		slog.String("event", string(ev.Type)))
	publish(ctx, rc.events, rc.log, ev)
}

func (rc *Reconciler) fail(ctx context.Context, report *SyncReport, op, id string, err error) {
	msg := op + ": " + err.Error()
	if id != "" {
		msg = op + " " + id + ": " + err.Error()
	}
	report.Errors = append(report.Errors, msg)
	rc.log.WarnContext(ctx, "sync step failed",
		slog.String("op", op),
		slog.String("stream_key", id),
		slog.String("error", err.Error()))
}

func publish(ctx context.Context, sink events.Sink, log *slog.Logger, ev events.Event) {
	if err := sink.Publish(ctx, ev); err != nil {
		log.Warn("publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("stream_key", ev.StreamKey),
			slog.String("error", err.Error()))
	}
}

func viewers(listing, detail youtube.Broadcast) int64 {
	if listing.ViewerCount > 0 {
		return listing.ViewerCount
	}
	return detail.ViewerCount
}

func fillURLs(rec *StreamRecord, id string) {
	if rec.WatchURL == "" {
		rec.WatchURL = youtube.WatchURL(id)
	}
	if rec.EmbedURL == "" {
		rec.EmbedURL = youtube.EmbedURL(id)
	}
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return cloneTime(t)
		}
	}
	return nil
}

func firstString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
