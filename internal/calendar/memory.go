package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is a deterministic in-memory provider for tests and early
// development. Failures are injectable per callee.
type MemoryProvider struct {
	mu sync.Mutex

	// Busy holds per-callee external intervals.
	Busy map[string][]BusyInterval
	// Disconnected marks callees without a calendar link.
	Disconnected map[string]bool
	// FailFetch / FailWrite force ErrSyncUnavailable.
	FailFetch map[string]bool
	FailWrite map[string]bool

	// CreatedEvents records every successful CreateEvent call, in order.
	CreatedEvents []EventRequest
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		Busy:         map[string][]BusyInterval{},
		Disconnected: map[string]bool{},
		FailFetch:    map[string]bool{},
		FailWrite:    map[string]bool{},
	}
}

func (m *MemoryProvider) Name() string { return "memory" }

func (m *MemoryProvider) AddBusy(calleeID string, start, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Busy[calleeID] = append(m.Busy[calleeID], BusyInterval{
		Start:  start.UTC(),
		End:    end.UTC(),
		Source: SourceExternal,
	})
}

func (m *MemoryProvider) FreeBusy(ctx context.Context, calleeID string, from, to time.Time) (FreeBusy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailFetch[calleeID] {
		return FreeBusy{}, ErrSyncUnavailable
	}
	if m.Disconnected[calleeID] {
		return FreeBusy{Connected: false}, nil
	}

	from, to = from.UTC(), to.UTC()
	out := make([]BusyInterval, 0)
	for _, iv := range m.Busy[calleeID] {
		if iv.Overlaps(from, to) {
			out = append(out, iv)
		}
	}
	return FreeBusy{Connected: true, Intervals: NormalizeIntervals(out)}, nil
}

func (m *MemoryProvider) CreateEvent(ctx context.Context, req EventRequest) (EventResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrite[req.CalleeID] {
		return EventResult{}, ErrSyncUnavailable
	}
	if m.Disconnected[req.CalleeID] {
		return EventResult{}, ErrNotConnected
	}
	m.CreatedEvents = append(m.CreatedEvents, req)
	return EventResult{EventRef: "evt-" + uuid.NewString()}, nil
}

// EventCount returns how many events have been created (thread-safe).
func (m *MemoryProvider) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreatedEvents)
}
