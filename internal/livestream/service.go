package livestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"livesync/internal/platform/events"
	"livesync/internal/platform/logger"
	"livesync/internal/platform/metrics"
	"livesync/internal/youtube"
)

const (
	maxSeriesCount        = 52
	defaultSeriesInterval = 7 * 24 * time.Hour
)

// Defaults are the descriptive fields given to records that arrive without
// them (discovery, or commands that leave them blank).
type Defaults struct {
	AccessTier string
	Instructor string
}

func (d Defaults) apply(rec *StreamRecord) {
	if rec.AccessTier == "" {
		rec.AccessTier = d.AccessTier
	}
	if rec.Instructor == "" {
		rec.Instructor = d.Instructor
	}
}

// Deps are the optional collaborators of a Service. Zero values pick
// working defaults.
type Deps struct {
	Tasks    *TaskRunner
	Events   events.Sink
	Cleanup  *CleanupQueue
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Defaults Defaults
	Now      func() time.Time
}

// Service implements the stream commands on top of the Registry and the
// external adapter. HTTP handlers never reach the adapter except through it.
type Service struct {
	reg      *Registry
	adapter  BroadcastAdapter
	rc       *Reconciler
	tasks    *TaskRunner
	events   events.Sink
	cleanup  *CleanupQueue
	log      *slog.Logger
	metrics  *metrics.Metrics
	defaults Defaults
	now      func() time.Time
}

// NewService wires a Service. deps may be the zero value.
func NewService(reg *Registry, adapter BroadcastAdapter, deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Tasks == nil {
		deps.Tasks = NewTaskRunner(deps.Log, deps.Metrics)
	}
	if deps.Cleanup == nil {
		deps.Cleanup = NewCleanupQueue(deps.Events, deps.Log)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Service{
		reg:      reg,
		adapter:  adapter,
		tasks:    deps.Tasks,
		events:   deps.Events,
		cleanup:  deps.Cleanup,
		log:      deps.Log,
		metrics:  deps.Metrics,
		defaults: deps.Defaults,
		now:      deps.Now,
	}
	s.rc = &Reconciler{
		reg:      reg,
		adapter:  adapter,
		cleanup:  deps.Cleanup,
		events:   deps.Events,
		log:      deps.Log.With(slog.String("component", "reconciler")),
		metrics:  deps.Metrics,
		defaults: deps.Defaults,
		now:      deps.Now,
	}
	return s
}

// Reconciler returns the reconciler the service uses for ForceSync, for
// driving a Poller.
func (s *Service) Reconciler() *Reconciler {
	return s.rc
}

// Tasks returns the background task runner.
func (s *Service) Tasks() *TaskRunner {
	return s.tasks
}

// Cleanup returns the queue of orphaned external resources.
func (s *Service) Cleanup() *CleanupQueue {
	return s.cleanup
}

// ScheduleRequest is the input of ScheduleBroadcast.
type ScheduleRequest struct {
	Title       string
	Description string
	// ScheduledStart is stored and sent upstream in UTC, truncated to the
	// millisecond.
	ScheduledStart time.Time
	AccessTier     string
	Instructor     string
}

// ScheduleBroadcast creates the external broadcast and ingest, then records
// the stream as scheduled under the broadcast id.
func (s *Service) ScheduleBroadcast(ctx context.Context, req ScheduleRequest) (StreamRecord, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return StreamRecord{}, invalidRequest("title is required")
	}
	if req.ScheduledStart.IsZero() {
		return StreamRecord{}, invalidRequest("scheduled start is required")
	}
	// the provider and the registry see the same instant
	start := normTime(req.ScheduledStart)

	p, err := s.adapter.CreateScheduledBroadcast(ctx, title, req.Description, start)
	if err != nil {
		var pe *youtube.PartialCreateError
		if errors.As(err, &pe) && len(pe.Leftover) > 0 {
			s.metrics.AddOrphanedResources(len(pe.Leftover))
			s.cleanup.Add(ctx, "", pe.Leftover...)
		}
		return StreamRecord{}, fmt.Errorf("create broadcast: %w", err)
	}

	rec, _, err := s.reg.Upsert(ctx, p.BroadcastID, func(rec *StreamRecord, found bool) error {
		rec.Title = title
		rec.Description = req.Description
		rec.Status = StatusScheduled
		rec.ScheduledStart = timePtr(start)
		rec.ExternalBroadcastID = p.BroadcastID
		rec.ExternalStreamID = p.StreamID
		rec.ExternalIngestKey = p.IngestKey
		rec.AccessTier = req.AccessTier
		rec.Instructor = req.Instructor
		s.defaults.apply(rec)
		fillURLs(rec, p.BroadcastID)
		return nil
	})
	if err != nil {
		// the broadcast exists upstream; the next pass discovers it
		s.log.Error("broadcast created but not recorded",
			slog.String("broadcast_id", p.BroadcastID),
			slog.String("error", err.Error()))
		return StreamRecord{}, err
	}

	s.metrics.IncTransition(string(rec.Status), "command")
	s.log.Info("broadcast scheduled",
		slog.String("stream_key", rec.StreamKey),
		slog.Time("scheduled_start", *rec.ScheduledStart))
	publish(ctx, s.events, s.log, events.New(events.StreamScheduled, rec.StreamKey, string(rec.Status)))
	return rec, nil
}

// LinkRequest is the input of LinkExternalStream.
type LinkRequest struct {
	URL         string
	Title       string
	Description string
	AccessTier  string
	Instructor  string
}

// LinkExternalStream records an already-running external stream as live
// without calling the external API. The record is keyed by the video id
// parsed from the URL.
func (s *Service) LinkExternalStream(ctx context.Context, req LinkRequest) (StreamRecord, error) {
	id, err := ParseStreamID(req.URL)
	if err != nil {
		return StreamRecord{}, err
	}

	var changedStatus bool
	rec, _, err := s.reg.Upsert(ctx, id, func(rec *StreamRecord, found bool) error {
		if title := strings.TrimSpace(req.Title); title != "" {
			rec.Title = title
		} else if rec.Title == "" {
			rec.Title = id
		}
		if req.Description != "" {
			rec.Description = req.Description
		}
		if req.AccessTier != "" {
			rec.AccessTier = req.AccessTier
		}
		if req.Instructor != "" {
			rec.Instructor = req.Instructor
		}
		s.defaults.apply(rec)

		if rec.Status != StatusLive {
			changedStatus = true
			rec.Status = StatusLive
			rec.ActualStart = timePtr(s.now())
			rec.ActualEnd = nil
		}
		if !found {
			rec.Linked = true
		}
		fillURLs(rec, id)
		return nil
	})
	if err != nil {
		return StreamRecord{}, err
	}

	if changedStatus {
		s.metrics.IncTransition(string(rec.Status), "command")
		publish(ctx, s.events, s.log, events.New(events.StreamLinked, rec.StreamKey, string(rec.Status)))
	}
	s.log.Info("external stream linked", slog.String("stream_key", rec.StreamKey))
	return rec, nil
}

// ForceSync runs one reconciliation pass and waits for it.
func (s *Service) ForceSync(ctx context.Context) (SyncReport, error) {
	return s.rc.Run(ctx)
}

// ForceSyncAsync starts a reconciliation pass in the background and returns
// its task id.
func (s *Service) ForceSyncAsync() (string, error) {
	return s.tasks.Go("force_sync", func(ctx context.Context) (any, error) {
		report, err := s.rc.Run(ctx)
		return report, err
	})
}

// GetStream returns the record for key.
func (s *Service) GetStream(ctx context.Context, key string) (StreamRecord, error) {
	return s.reg.Get(ctx, key)
}

// ListStreams returns every record, or those in status when it is not empty.
func (s *Service) ListStreams(ctx context.Context, status string) ([]StreamRecord, error) {
	if status == "" {
		return s.reg.List(ctx)
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.reg.ListByStatus(ctx, st)
}

// ListUpcoming returns scheduled records starting in [from, to). A zero from
// means now; a zero to leaves the range open.
func (s *Service) ListUpcoming(ctx context.Context, from, to time.Time) ([]StreamRecord, error) {
	if from.IsZero() {
		from = s.now()
	}
	if !to.IsZero() && !to.After(from) {
		return nil, invalidRequest("to must be after from")
	}

	recs, err := s.reg.ListScheduledBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Status == StatusScheduled {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SetStatus is the admin override. It fills or clears the actual start and
// end times so the record stays valid.
func (s *Service) SetStatus(ctx context.Context, key string, status Status) (StreamRecord, error) {
	if !status.Valid() {
		return StreamRecord{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var from Status
	rec, wrote, err := s.reg.Upsert(ctx, key, func(rec *StreamRecord, found bool) error {
		if !found {
			return &NotFoundError{StreamKey: key}
		}
		from = rec.Status
		now := s.now()
		switch status {
		case StatusScheduled:
			rec.ActualStart = nil
			rec.ActualEnd = nil
		case StatusLive:
			if rec.ActualStart == nil {
				rec.ActualStart = timePtr(now)
			}
			rec.ActualEnd = nil
		case StatusCompleted:
			if rec.ActualStart == nil {
				rec.ActualStart = timePtr(now)
			}
			if rec.ActualEnd == nil {
				rec.ActualEnd = timePtr(now)
			}
		}
		rec.Status = status
		return nil
	})
	if err != nil {
		return StreamRecord{}, err
	}

	if wrote && from != status {
		s.metrics.IncTransition(string(status), "override")
		s.log.Info("stream status overridden",
			slog.String("stream_key", key),
			slog.String("from", string(from)),
			slog.String("to", string(status)))
		publish(ctx, s.events, s.log, events.New(events.StreamStatusOverride, key, string(status)).
			With("from", string(from)))
	}
	return rec, nil
}

// StartBroadcast asks the provider to take the broadcast live, when there is
// one, and marks the record live. Unlike EndBroadcast a failed transition
// leaves the record untouched: the next pass would complete a live record
// whose broadcast never became active.
func (s *Service) StartBroadcast(ctx context.Context, key string) (StreamRecord, error) {
	cur, err := s.reg.Get(ctx, key)
	if err != nil {
		return StreamRecord{}, err
	}
	switch cur.Status {
	case StatusLive:
		return cur, nil
	case StatusCompleted:
		return StreamRecord{}, invalidRequest("stream already completed")
	}

	if cur.ExternalBroadcastID != "" {
		if err := s.adapter.TransitionBroadcast(ctx, cur.ExternalBroadcastID, youtube.TransitionLive); err != nil {
			s.log.Warn("broadcast transition failed",
				slog.String("stream_key", key),
				slog.String("target", string(youtube.TransitionLive)),
				slog.String("error", err.Error()))
			return StreamRecord{}, fmt.Errorf("start broadcast: %w", err)
		}
	}
	return s.SetStatus(ctx, key, StatusLive)
}

// EndResult is the outcome of EndBroadcast. TransitionError is set when the
// external transition failed; the record is completed regardless.
type EndResult struct {
	Record          StreamRecord `json:"record"`
	TransitionError string       `json:"transition_error,omitempty"`
}

// EndBroadcast asks the provider to complete the broadcast, when there is
// one, and marks the record completed.
func (s *Service) EndBroadcast(ctx context.Context, key string) (EndResult, error) {
	cur, err := s.reg.Get(ctx, key)
	if err != nil {
		return EndResult{}, err
	}

	var res EndResult
	if cur.ExternalBroadcastID != "" && cur.Status != StatusCompleted {
		if err := s.adapter.TransitionBroadcast(ctx, cur.ExternalBroadcastID, youtube.TransitionComplete); err != nil {
			s.log.Warn("broadcast transition failed",
				slog.String("stream_key", key),
				slog.String("target", string(youtube.TransitionComplete)),
				slog.String("error", err.Error()))
			res.TransitionError = err.Error()
		}
	}

	rec, err := s.SetStatus(ctx, key, StatusCompleted)
	if err != nil {
		return EndResult{}, err
	}
	res.Record = rec
	return res, nil
}

// SeriesRequest is the input of ScheduleSeries.
type SeriesRequest struct {
	Title       string
	Description string
	FirstStart  time.Time
	Count       int
	// Interval between broadcasts, one week when zero.
	Interval   time.Duration
	AccessTier string
	Instructor string
}

// SeriesResult is the task result of ScheduleSeries.
type SeriesResult struct {
	Created []string `json:"created"`
	Failed  int      `json:"failed"`
}

// ScheduleSeries schedules Count broadcasts Interval apart as one background
// task and returns the task id.
func (s *Service) ScheduleSeries(ctx context.Context, req SeriesRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Title) == "" {
		return "", invalidRequest("title is required")
	}
	if req.FirstStart.IsZero() {
		return "", invalidRequest("first start is required")
	}
	if req.Count < 1 || req.Count > maxSeriesCount {
		return "", invalidRequest(fmt.Sprintf("count must be between 1 and %d", maxSeriesCount))
	}
	if req.Interval < 0 {
		return "", invalidRequest("interval must be positive")
	}
	if req.Interval == 0 {
		req.Interval = defaultSeriesInterval
	}

	return s.tasks.Go("schedule_series", func(ctx context.Context) (any, error) {
		var (
			res  SeriesResult
			errs []error
		)
		for i := 0; i < req.Count; i++ {
			title := req.Title
			if req.Count > 1 {
				title = fmt.Sprintf("%s (%d/%d)", req.Title, i+1, req.Count)
			}
			rec, err := s.ScheduleBroadcast(ctx, ScheduleRequest{
				Title:          title,
				Description:    req.Description,
				ScheduledStart: req.FirstStart.Add(time.Duration(i) * req.Interval),
				AccessTier:     req.AccessTier,
				Instructor:     req.Instructor,
			})
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("broadcast %d: %w", i+1, err))
				continue
			}
			res.Created = append(res.Created, rec.StreamKey)
		}
		return res, errors.Join(errs...)
	})
}
