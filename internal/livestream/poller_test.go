package livestream

import (
	"context"
	"errors"
	"testing"
	"time"

	"livesync/internal/platform/logger"
	"livesync/internal/youtube"
)

func TestPoller_StartRunsImmediatelyAndStop(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.setActive(youtube.Broadcast{ID: "live0000001", ActualStart: tp(env.now)})

	p := NewPoller(env.svc.Reconciler(), time.Hour, logger.Discard())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrPollerRunning) {
		t.Errorf("second Start: expected ErrPollerRunning, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.adapter.callCount("list_upcoming") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not run a pass on start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	report, err := p.LastReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.WentLive) != 1 {
		t.Errorf("report.WentLive = %v", report.WentLive)
	}
	if rec := env.mustGet(t, "live0000001"); rec.Status != StatusLive {
		t.Errorf("expected live, got %s", rec.Status)
	}
}

func TestPoller_TicksAndStopWaitsForPass(t *testing.T) {
	env := newTestEnv(t)
	p := NewPoller(env.svc.Reconciler(), 10*time.Millisecond, logger.Discard())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.adapter.callCount("list_active") < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	// after Stop returns no pass is in flight and none starts
	n := env.adapter.callCount("list_active")
	if env.adapter.callCount("list_upcoming") != n {
		t.Errorf("a pass was cut short: %d active listings, %d upcoming", n, env.adapter.callCount("list_upcoming"))
	}
	time.Sleep(30 * time.Millisecond)
	if env.adapter.callCount("list_active") != n {
		t.Error("poller kept running after Stop")
	}
}

func TestPoller_RecordsFailedPass(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.listActiveErr = errors.New("network down")

	p := NewPoller(env.svc.Reconciler(), time.Hour, logger.Discard())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := p.LastReport(); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failed pass not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
}
