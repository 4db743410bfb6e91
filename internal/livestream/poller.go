package livestream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPollerRunning is returned by Start on a poller that is already running.
var ErrPollerRunning = errors.New("poller already running")

// Poller runs reconciliation passes on a fixed interval between Start and
// Stop. A pass in flight always runs to completion: Stop waits for it
// rather than cancelling it.
type Poller struct {
	rc       *Reconciler
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    SyncReport
	lastErr error
}

// NewPoller returns a stopped poller.
func NewPoller(rc *Reconciler, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{rc: rc, interval: interval, log: log}
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrPollerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)

	p.log.Info("sync poller started", slog.Duration("interval", p.interval))
	return nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) pass(ctx context.Context) {
	report, err := p.rc.Run(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.last, p.lastErr = report, err
	p.mu.Unlock()

	if err != nil {
		p.log.Error("sync pass failed", slog.String("error", err.Error()))
	}
}

// Stop halts the loop and waits for a pass in flight. Stop on a stopped
// poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("sync poller stopped")
}

// LastReport returns the outcome of the most recent pass.
func (p *Poller) LastReport() (SyncReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}
