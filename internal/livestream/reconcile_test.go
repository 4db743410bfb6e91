package livestream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"livesync/internal/platform/events"
	"livesync/internal/platform/logger"
	"livesync/internal/platform/metrics"
	"livesync/internal/tokenstore"
	"livesync/internal/youtube"
)

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, string(e.Type)+":"+e.StreamKey)
	return nil
}

func (s *recordingSink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type testEnv struct {
	svc     *Service
	reg     *Registry
	adapter *fakeAdapter
	events  *recordingSink
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:     NewInMemoryRegistry(),
		adapter: newFakeAdapter(),
		events:  &recordingSink{},
		now:     time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	env.reg.now = func() time.Time { return env.now }
	env.svc = NewService(env.reg, env.adapter, Deps{
		Events:   env.events,
		Log:      logger.Discard(),
		Defaults: Defaults{AccessTier: "free", Instructor: "Staff"},
		Now:      func() time.Time { return env.now },
	})
	return env
}

func (e *testEnv) snapshot(t *testing.T) []byte {
	t.Helper()
	recs, err := e.reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(recs)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (e *testEnv) mustGet(t *testing.T, key string) StreamRecord {
	t.Helper()
	rec, err := e.reg.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return rec
}

func TestSync_idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := env.now.Add(-10 * time.Minute)

	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", Title: "Live now", ActualStart: &start, ViewerCount: 12})
	env.adapter.setUpcoming(youtube.Broadcast{ID: "next0000001", Title: "Tomorrow", ScheduledStart: tp(env.now.Add(24 * time.Hour))})

	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := env.snapshot(t)

	env.now = env.now.Add(time.Minute)
	report, err := env.svc.ForceSync(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := env.snapshot(t)

	if !bytes.Equal(first, second) {
		t.Errorf("registry changed between identical passes:\n%s\n%s", first, second)
	}
	if len(report.WentLive)+len(report.Completed)+len(report.Discovered)+len(report.Updated) != 0 {
		t.Errorf("second pass reported changes: %+v", report)
	}
}

func TestSync_liveRecordHasNoEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.adapter.setActive(
		youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now.Add(-time.Hour))},
		youtube.Broadcast{ID: "live0000002"},
	)
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}

	live, err := env.reg.ListByStatus(ctx, StatusLive)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live records, got %d", len(live))
	}
	for _, rec := range live {
		if rec.ActualStart == nil || rec.ActualEnd != nil {
			t.Errorf("%s: live record needs start and no end: %+v", rec.StreamKey, rec)
		}
	}
	// no external start time falls back to the pass time
	if got := env.mustGet(t, "live0000002"); !got.ActualStart.Equal(env.now) {
		t.Errorf("expected actual start %v, got %v", env.now, got.ActualStart)
	}
}

func TestSync_liveToCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now)})
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}

	env.now = env.now.Add(90 * time.Minute)
	env.adapter.setActive()
	report, err := env.svc.ForceSync(ctx)
	if err != nil {
		t.Fatal(err)
	}

	rec := env.mustGet(t, "live0000001")
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.ActualEnd == nil || !rec.ActualEnd.Equal(env.now) {
		t.Errorf("expected actual end %v, got %v", env.now, rec.ActualEnd)
	}
	if len(report.Completed) != 1 {
		t.Errorf("report.Completed = %v", report.Completed)
	}

	got := env.events.list()
	if len(got) != 2 || got[0] != "stream.live:live0000001" || got[1] != "stream.completed:live0000001" {
		t.Errorf("unexpected events %v", got)
	}
}

func TestSync_discoversUpcoming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := env.now.Add(48 * time.Hour)

	env.adapter.setUpcoming(
		youtube.Broadcast{ID: "next0000001", Title: "Geostatistics", ScheduledStart: &at},
		youtube.Broadcast{ID: "nostart0001", Title: "No time"},
	)
	report, err := env.svc.ForceSync(ctx)
	if err != nil {
		t.Fatal(err)
	}

	rec := env.mustGet(t, "next0000001")
	if rec.Status != StatusScheduled || !rec.ScheduledStart.Equal(at) {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.AccessTier != "free" || rec.Instructor != "Staff" {
		t.Errorf("defaults not applied: %+v", rec)
	}
	if rec.WatchURL != youtube.WatchURL("next0000001") {
		t.Errorf("watch url = %q", rec.WatchURL)
	}
	if _, err := env.reg.Get(ctx, "nostart0001"); !IsNotFound(err) {
		t.Error("upcoming broadcast without a scheduled time must be skipped")
	}
	if len(report.Discovered) != 1 {
		t.Errorf("report.Discovered = %v", report.Discovered)
	}
}

func TestSync_upcomingDoesNotRegress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now)})
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}

	// provider briefly lists it under both
	env.adapter.setUpcoming(youtube.Broadcast{ID: "live0000001", ScheduledStart: tp(env.now.Add(time.Hour))})
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := env.mustGet(t, "live0000001"); rec.Status != StatusLive {
		t.Errorf("live record regressed to %s", rec.Status)
	}
}

func TestSync_endedDetailIsNotLive(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.setActive(youtube.Broadcast{ID: "ended000001"})
	env.adapter.setDetail(youtube.Broadcast{ID: "ended000001", ActualStart: tp(env.now.Add(-time.Hour)), ActualEnd: tp(env.now)})

	if _, err := env.svc.ForceSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := env.reg.Get(context.Background(), "ended000001"); !IsNotFound(err) {
		t.Error("broadcast with an actual end must not be recorded as live")
	}
}

func TestSync_staleScheduledCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.ScheduleBroadcast(ctx, ScheduleRequest{Title: "Morning class", ScheduledStart: env.now.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	// the broadcast ran and ended between two passes
	env.now = env.now.Add(3 * time.Hour)
	env.adapter.setUpcoming()
	env.adapter.setDetail(youtube.Broadcast{
		ID:          rec.StreamKey,
		ActualStart: tp(env.now.Add(-2 * time.Hour)),
		ActualEnd:   tp(env.now.Add(-time.Hour)),
		ViewerCount: 30,
	})

	report, err := env.svc.ForceSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := env.mustGet(t, rec.StreamKey)
	if got.Status != StatusCompleted || !got.ActualEnd.Equal(env.now.Add(-time.Hour)) {
		t.Errorf("expected completed with the provider's end time, got %+v", got)
	}
	if len(report.Completed) != 1 {
		t.Errorf("report.Completed = %v", report.Completed)
	}
}

func TestSync_listActiveFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.listActiveErr = &tokenstore.MissingCredentialsError{Reason: "no token"}

	_, err := env.svc.ForceSync(context.Background())
	if !tokenstore.IsMissingCredentials(err) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if env.adapter.callCount("list_upcoming") != 0 {
		t.Error("pass must stop after the active listing fails")
	}
}

func TestSync_perBroadcastErrorsContinue(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.setActive(youtube.Broadcast{ID: "good0000001"}, youtube.Broadcast{ID: "gone0000001"})
	env.adapter.mu.Lock()
	delete(env.adapter.details, "gone0000001")
	env.adapter.mu.Unlock()

	report, err := env.svc.ForceSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 1 {
		t.Errorf("expected one error, got %v", report.Errors)
	}
	if rec := env.mustGet(t, "good0000001"); rec.Status != StatusLive {
		t.Errorf("expected good broadcast live, got %s", rec.Status)
	}
}

func TestSync_concurrentPassesOneLiveRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now)})

	gate := make(chan struct{})
	env.adapter.gate = gate

	var wg sync.WaitGroup
	reports := make([]SyncReport, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := env.svc.ForceSync(ctx)
			if err != nil {
				t.Errorf("pass %d: %v", i, err)
			}
			reports[i] = r
		}(i)
	}
	for env.adapter.callCount("list_active") < 2 {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()

	live, err := env.reg.ListByStatus(ctx, StatusLive)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("expected exactly one live record, got %d", len(live))
	}
	if n := len(reports[0].WentLive) + len(reports[1].WentLive); n != 1 {
		t.Errorf("expected one pass to report the transition, got %d", n)
	}
	if got := env.events.list(); len(got) != 1 {
		t.Errorf("expected one live event, got %v", got)
	}
}

func TestSync_linkedAdoptsBroadcastAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.LinkExternalStream(ctx, LinkRequest{URL: "https://youtu.be/dQw4w9WgXcQ", Title: "Guest"}); err != nil {
		t.Fatal(err)
	}

	// not listed as active and never carried a broadcast id: left alone
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := env.mustGet(t, "dQw4w9WgXcQ"); rec.Status != StatusLive {
		t.Fatalf("linked record completed without evidence: %s", rec.Status)
	}

	env.adapter.setActive(youtube.Broadcast{ID: "dQw4w9WgXcQ", ViewerCount: 5})
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}
	rec := env.mustGet(t, "dQw4w9WgXcQ")
	if rec.ExternalBroadcastID != "dQw4w9WgXcQ" || rec.ViewerCount != 5 {
		t.Errorf("expected broadcast id adopted with viewers, got %+v", rec)
	}

	env.adapter.setActive()
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := env.mustGet(t, "dQw4w9WgXcQ"); rec.Status != StatusCompleted {
		t.Errorf("expected completed once the broadcast left the active list, got %s", rec.Status)
	}
}

func TestSync_drainsCleanupQueue(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Cleanup().Add(context.Background(), "", youtube.Resource{Kind: "liveStream", ID: "orphan"})

	report, err := env.svc.ForceSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Cleaned != 1 || len(env.svc.Cleanup().Pending()) != 0 {
		t.Errorf("cleanup not drained: report=%+v pending=%v", report, env.svc.Cleanup().Pending())
	}
}

func TestSync_externalErrorOnDetail(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.setActive(youtube.Broadcast{ID: "live0000001"})

	failing := &detailFailAdapter{fakeAdapter: env.adapter, err: &youtube.ExternalAPIError{Operation: "get_video", StatusCode: 500}}
	svc := NewService(env.reg, failing, Deps{Log: logger.Discard()})

	report, err := svc.ForceSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 1 {
		t.Errorf("expected one recorded error, got %v", report.Errors)
	}
	if _, err := env.reg.Get(context.Background(), "live0000001"); !IsNotFound(err) {
		t.Error("broadcast without details must not be recorded")
	}
}

type detailFailAdapter struct {
	*fakeAdapter
	err error
}

func (d *detailFailAdapter) GetBroadcast(context.Context, string) (youtube.Broadcast, error) {
	return youtube.Broadcast{}, d.err
}

func TestSync_externalErrorCountedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	met := metrics.New()
	yt := youtube.NewClient(tokenstore.Static("token"), youtube.Options{
		BaseURL: srv.URL,
		Logger:  logger.Discard(),
		Metrics: met,
	})
	svc := NewService(NewInMemoryRegistry(), yt, Deps{Log: logger.Discard(), Metrics: met})

	if _, err := svc.ForceSync(context.Background()); err == nil {
		t.Fatal("expected the pass to fail")
	}

	want := `
# HELP livesync_external_api_errors_total Errors returned by the live-video API by operation
# TYPE livesync_external_api_errors_total counter
livesync_external_api_errors_total{operation="list_active"} 1
`
	if err := testutil.GatherAndCompare(met.Registry(), strings.NewReader(want), "livesync_external_api_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestSync_activeBroadcastReopensCompletedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now)})
	if _, err := env.svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}

	// the upstream complete fails, so the broadcast stays active
	env.adapter.transitionErr = &youtube.ExternalAPIError{Operation: "transition", StatusCode: 403}
	res, err := env.svc.EndBroadcast(ctx, "live0000001")
	if err != nil || res.TransitionError == "" || res.Record.Status != StatusCompleted {
		t.Fatalf("EndBroadcast = %+v, %v", res, err)
	}

	var reopened []events.Event
	sink := eventSinkFunc(func(e events.Event) {
		if e.Attrs["reopened"] == "true" {
			reopened = append(reopened, e)
		}
	})
	svc := NewService(env.reg, env.adapter, Deps{Events: sink, Log: logger.Discard()})
	if _, err := svc.ForceSync(ctx); err != nil {
		t.Fatal(err)
	}

	rec, err := env.reg.Get(ctx, "live0000001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusLive || rec.ActualEnd != nil {
		t.Errorf("expected the record live again, got %+v", rec)
	}
	if len(reopened) != 1 || reopened[0].Type != events.StreamLive {
		t.Errorf("expected one reopened live event, got %+v", reopened)
	}
}

type eventSinkFunc func(events.Event)

func (f eventSinkFunc) Publish(_ context.Context, e events.Event) error {
	f(e)
	return nil
}
