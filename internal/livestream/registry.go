package livestream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// SkipWrite may be returned by a MutateFunc to leave the stored record as it
// is. Upsert then returns the current record and no error.
var SkipWrite = errors.New("skip write")

// MutateFunc edits rec in place. found is false when no record exists for the
// key yet; rec then holds only the key.
type MutateFunc func(rec *StreamRecord, found bool) error

// Registry is the concurrency-safe front of a Store and the only writer of
// stream records.
//
// Every read-modify-write runs under a process-local mutex, so concurrent
// upserts for the same key in one process are serialized. Across processes
// sharing a backend there is no version check: the last write wins.
type Registry struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
func NewInMemoryRegistry() *Registry {
	return NewRegistry(NewInMemoryStore())
}

// NewRegistry constructs a registry that uses the given Store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Get returns the record for key or a *NotFoundError.
func (r *Registry) Get(ctx context.Context, key string) (StreamRecord, error) {
	rec, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return StreamRecord{}, err
	}
	if !ok {
		return StreamRecord{}, &NotFoundError{StreamKey: key}
	}
	return rec, nil
}

// Upsert loads the record for key (or a fresh one), applies fn, validates the
// result and stores it. The write is skipped when fn changed nothing, so
// repeating an upsert leaves the stored record byte-for-byte identical. The
// returned bool reports whether a write happened.
func (r *Registry) Upsert(ctx context.Context, key string, fn MutateFunc) (StreamRecord, bool, error) {
	if key == "" {
		return StreamRecord{}, false, invalid("stream key is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, found, err := r.store.Get(ctx, key)
	if err != nil {
		return StreamRecord{}, false, err
	}
	if !found {
		current = StreamRecord{StreamKey: key, Status: StatusScheduled}
	}

	next := current.Clone()
	if err := fn(&next, found); err != nil {
		if errors.Is(err, SkipWrite) {
			return current, false, nil
		}
		return StreamRecord{}, false, err
	}
	if next.StreamKey != key {
		return StreamRecord{}, false, ErrKeyImmutable
	}

	next.normalize()
	if err := next.Validate(); err != nil {
		return StreamRecord{}, false, err
	}
	if found && next.sameContent(current) {
		return current, false, nil
	}

	now := normTime(r.now())
	if found {
		next.CreatedAt = current.CreatedAt
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	if err := r.store.Put(ctx, next); err != nil {
		return StreamRecord{}, false, err
	}
	return next, true, nil
}

// List returns every record ordered by stream key.
func (r *Registry) List(ctx context.Context) ([]StreamRecord, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sortByKey(recs)
	return recs, nil
}

// ListByStatus returns the records in status ordered by stream key.
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]StreamRecord, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	recs, err := r.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	sortByKey(recs)
	return recs, nil
}

// ListScheduledBetween returns records whose scheduled start lies in
// [from, to), earliest first. A zero from or to leaves that side open.
func (r *Registry) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]StreamRecord, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []StreamRecord
	for _, rec := range recs {
		if rec.ScheduledStart == nil {
			continue
		}
		at := *rec.ScheduledStart
		if !from.IsZero() && at.Before(from) {
			continue
		}
		if !to.IsZero() && !at.Before(to) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := *out[i].ScheduledStart, *out[j].ScheduledStart
		if a.Equal(b) {
			return out[i].StreamKey < out[j].StreamKey
		}
		return a.Before(b)
	})
	return out, nil
}

// CountByStatus returns the number of records in status.
func (r *Registry) CountByStatus(ctx context.Context, status Status) (int, error) {
	recs, err := r.store.ListByStatus(ctx, status)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func sortByKey(recs []StreamRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StreamKey < recs[j].StreamKey
	})
}
