package livestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livesync/internal/youtube"
)

// fakeAdapter is an in-memory BroadcastAdapter that counts calls.
type fakeAdapter struct {
	mu       sync.Mutex
	active   []youtube.Broadcast
	upcoming []youtube.Broadcast
	details  map[string]youtube.Broadcast
	calls    map[string]int
	deleted  []youtube.Resource
	nextID   int
	// targets records every transition request as "<id>:<target>"
	targets []string

	createErr     error
	listActiveErr error
	transitionErr error
	deleteErr     error
	// gate, when set, blocks ListActiveBroadcasts until closed
	gate chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		details: make(map[string]youtube.Broadcast),
		calls:   make(map[string]int),
	}
}

func (f *fakeAdapter) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAdapter) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAdapter) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAdapter) setActive(bs ...youtube.Broadcast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = bs
	for _, b := range bs {
		if _, ok := f.details[b.ID]; !ok {
			f.details[b.ID] = b
		}
	}
}

func (f *fakeAdapter) setUpcoming(bs ...youtube.Broadcast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upcoming = bs
}

func (f *fakeAdapter) setDetail(b youtube.Broadcast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[b.ID] = b
}

func (f *fakeAdapter) CreateScheduledBroadcast(_ context.Context, title, description string, scheduled time.Time) (youtube.Provisioned, error) {
	f.count("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return youtube.Provisioned{}, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("bcast%07d", f.nextID)
	st := scheduled
	f.upcoming = append(f.upcoming, youtube.Broadcast{
		ID: id, Title: title, Description: description, LifeCycleStatus: "ready", ScheduledStart: &st,
	})
	return youtube.Provisioned{
		BroadcastID:   id,
		StreamID:      "stream-" + id,
		IngestKey:     "key-" + id,
		IngestAddress: "rtmp://a.rtmp.youtube.com/live2",
	}, nil
}

func (f *fakeAdapter) TransitionBroadcast(_ context.Context, id string, target youtube.TransitionTarget) error {
	f.count("transition")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, id+":"+string(target))
	return f.transitionErr
}

func (f *fakeAdapter) transitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *fakeAdapter) scheduledStart(id string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.upcoming {
		if b.ID == id {
			return b.ScheduledStart
		}
	}
	return nil
}

func (f *fakeAdapter) ListActiveBroadcasts(context.Context) ([]youtube.Broadcast, error) {
	f.count("list_active")
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listActiveErr != nil {
		return nil, f.listActiveErr
	}
	return append([]youtube.Broadcast(nil), f.active...), nil
}

func (f *fakeAdapter) ListUpcomingBroadcasts(context.Context) ([]youtube.Broadcast, error) {
	f.count("list_upcoming")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]youtube.Broadcast(nil), f.upcoming...), nil
}

func (f *fakeAdapter) GetBroadcast(_ context.Context, id string) (youtube.Broadcast, error) {
	f.count("get")
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.details[id]
	if !ok {
		return youtube.Broadcast{}, fmt.Errorf("%s: %w", id, youtube.ErrBroadcastNotFound)
	}
	return b, nil
}

func (f *fakeAdapter) Delete(_ context.Context, r youtube.Resource) error {
	f.count("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, r)
	return nil
}

func tp(t time.Time) *time.Time {
	return &t
}
