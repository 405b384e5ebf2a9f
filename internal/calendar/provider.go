package calendar

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Provider defines the provider-agnostic calendar interface used by business
// logic.
//
// Rules:
// - No provider SDK/protocol calls outside calendar adapters.
// - All timestamps crossing this boundary are normalized to UTC.
// - "Not connected" is an explicit flag, never inferred from an empty
//   interval list.
type Provider interface {
	Name() string

	// FreeBusy returns the callee's busy intervals overlapping [from, to).
	// A transport/auth failure returns ErrSyncUnavailable (retryable);
	// callers must never treat a failed fetch as full availability.
	FreeBusy(ctx context.Context, calleeID string, from, to time.Time) (FreeBusy, error)

	// CreateEvent writes one event to the callee's external calendar.
	// Exactly one attempt is made per call; retry policy belongs to the
	// booking layer (sync-pending worker).
	CreateEvent(ctx context.Context, req EventRequest) (EventResult, error)
}

// ErrSyncUnavailable indicates the external provider could not be reached or
// refused the request. It is retryable and must surface distinctly from
// "no busy intervals".
var ErrSyncUnavailable = errors.New("calendar: provider unavailable")

// ErrNotConnected indicates the callee has no external calendar connection.
// FreeBusy does not return it (it reports Connected=false instead); event
// writes do, since there is nowhere to write.
var ErrNotConnected = errors.New("calendar: callee not connected")

type Source string

const (
	SourceExternal Source = "external"
	SourcePlatform Source = "platform"
)

// BusyInterval is an immutable [Start, End) range during which the callee is
// unavailable. Always UTC.
type BusyInterval struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source Source    `json:"source"`
}

// Overlaps reports strict half-open intersection with [start, end).
// Exact boundary equality does not count as overlap.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// FreeBusy is the result of a free/busy fetch.
type FreeBusy struct {
	// Connected is false when the callee has no external calendar linked.
	// An empty Intervals slice with Connected=true means "fully free".
	Connected bool           `json:"connected"`
	Intervals []BusyInterval `json:"intervals"`
}

type EventRequest struct {
	CalleeID string    `json:"callee_id"`
	CallerID string    `json:"caller_id"`
	CallID   string    `json:"call_id"`
	Agenda   string    `json:"agenda"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type EventResult struct {
	// EventRef is the provider's identifier for the created event.
	EventRef string `json:"event_ref"`
}

// NormalizeIntervals converts to UTC, drops empty/inverted ranges, and sorts
// by start. Adapters call this before returning intervals.
func NormalizeIntervals(in []BusyInterval) []BusyInterval {
	out := make([]BusyInterval, 0, len(in))
	for _, iv := range in {
		s, e := iv.Start.UTC(), iv.End.UTC()
		if !s.Before(e) {
			continue
		}
		src := iv.Source
		if src == "" {
			src = SourceExternal
		}
		out = append(out, BusyInterval{Start: s, End: e, Source: src})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
