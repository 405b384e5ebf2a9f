package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/quota"
)

// MemoryRepo is an in-memory repository for tests. It emulates the two
// partial unique indexes and the quota consumption of PostgresRepo under a
// single mutex, so concurrency tests exercise the same admission semantics.
type MemoryRepo struct {
	mu     sync.Mutex
	calls  map[string]ScheduledCall
	quotas *quota.MemoryStore
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:  map[string]ScheduledCall{},
		quotas: quota.NewMemoryStore(),
	}
}

// Quotas exposes the backing quota store so tests can seed or inspect usage.
func (r *MemoryRepo) Quotas() *quota.MemoryStore { return r.quotas }

func (r *MemoryRepo) FindByIdempotency(ctx context.Context, callerID, key string) (ScheduledCall, bool, error) {
	if key == "" {
		return ScheduledCall{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByIdemLocked(callerID, key)
}

func (r *MemoryRepo) findByIdemLocked(callerID, key string) (ScheduledCall, bool, error) {
	for _, c := range r.calls {
		if c.CallerID == callerID && c.IdempotencyKey == key {
			return c, true, nil
		}
	}
	return ScheduledCall{}, false, nil
}

func (r *MemoryRepo) Reserve(ctx context.Context, call ScheduledCall, limits Limits) (ScheduledCall, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.IdempotencyKey != "" {
		if existing, ok, _ := r.findByIdemLocked(call.CallerID, call.IdempotencyKey); ok {
			return existing, false, nil
		}
	}

	for _, c := range r.calls {
		if c.CalleeID == call.CalleeID && c.Status != StatusCancelled && c.StartAt.Equal(call.StartAt) {
			return ScheduledCall{}, false, ErrSlotConflict
		}
	}

	period := quota.PeriodFor(call.StartAt)
	if err := r.quotas.Consume(call.CallerID, limits.Caller, period); err != nil {
		return ScheduledCall{}, false, err
	}
	if err := r.quotas.Consume(call.CalleeID, limits.Callee, period); err != nil {
		r.quotas.Release(call.CallerID, period)
		return ScheduledCall{}, false, err
	}

	r.calls[call.ID] = call
	return call, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (ScheduledCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ScheduledCall{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Cancel(ctx context.Context, id string, now time.Time) (ScheduledCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return ScheduledCall{}, ErrNotFound
	}
	if c.Status == StatusCancelled {
		return c, nil
	}
	if c.Status != StatusScheduled {
		return ScheduledCall{}, ErrAlreadyStarted
	}

	c.Status = StatusCancelled
	c.CalendarSyncPending = false
	c.UpdatedAt = now
	r.calls[id] = c

	period := quota.PeriodFor(c.StartAt)
	r.quotas.Release(c.CallerID, period)
	r.quotas.Release(c.CalleeID, period)
	return c, nil
}

func (r *MemoryRepo) MarkSynced(ctx context.Context, id, eventRef string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.ExternalEventRef = eventRef
	c.CalendarSyncPending = false
	c.UpdatedAt = now
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) ListSyncPending(ctx context.Context, limit int) ([]ScheduledCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ScheduledCall
	for _, c := range r.calls {
		if c.CalendarSyncPending && c.Status == StatusScheduled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) BookedBetween(ctx context.Context, calleeID string, from, to time.Time) ([]calendar.BusyInterval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []calendar.BusyInterval
	for _, c := range r.calls {
		if c.CalleeID != calleeID || c.Status == StatusCancelled {
			continue
		}
		iv := calendar.BusyInterval{Start: c.StartAt, End: c.EndAt, Source: calendar.SourcePlatform}
		if iv.Overlaps(from, to) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
