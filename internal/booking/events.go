package booking

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventConfirmed EventType = "booking.confirmed"
	EventCancelled EventType = "booking.cancelled"
	EventSynced    EventType = "booking.calendar_synced"
)

// Event is a notification about a booking state change. Dispatch is
// best-effort and must never fail the operation that produced it.
type Event struct {
	Type     EventType `json:"type"`
	CallID   string    `json:"call_id"`
	CallerID string    `json:"caller_id"`
	CalleeID string    `json:"callee_id"`
	StartAt  time.Time `json:"start_at"`
	At       time.Time `json:"at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// LogDispatcher emits events to the structured log. It stands in for a real
// notification pipeline (email, push).
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, e Event) {
	d.log.InfoContext(ctx, "booking event",
		"type", string(e.Type),
		"call_id", e.CallID,
		"caller_id", e.CallerID,
		"callee_id", e.CalleeID,
		"start_at", e.StartAt,
	)
}

// MemoryDispatcher records events for tests.
type MemoryDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryDispatcher() *MemoryDispatcher { return &MemoryDispatcher{} }

func (d *MemoryDispatcher) Dispatch(ctx context.Context, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *MemoryDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}
