package availability

import (
	"context"
	"fmt"
	"time"

	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/slots"
)

// Status classifies one candidate slot on the display grid.
type Status string

const (
	StatusAvailable    Status = "available"
	StatusBusyExternal Status = "busy_external"
	StatusBusyBooked   Status = "busy_booked"
	StatusPast         Status = "past"
)

// CheckMisaligned is returned by CheckSlot for windows that are not exactly
// one slot of the callee's grid. It never appears on a day schedule.
const CheckMisaligned = "misaligned"

// ErrCalendarUnavailable is what a failed external fetch surfaces as. It is
// the calendar package's retryable sentinel under a domain-local name.
var ErrCalendarUnavailable = calendar.ErrSyncUnavailable

// Slot is one classified entry of a day schedule. [Start, End) in UTC.
// Busy slots carry the first interval that blocks them so clients can show
// what the slot collides with.
type Slot struct {
	Start    time.Time              `json:"start"`
	End      time.Time              `json:"end"`
	Status   Status                 `json:"status"`
	Conflict *calendar.BusyInterval `json:"conflict,omitempty"`
}

// DaySchedule is the full availability answer for one callee and one
// calendar day: every candidate slot of the business-hours grid, classified.
type DaySchedule struct {
	CalleeID          string    `json:"callee_id"`
	Day               string    `json:"day"`
	GeneratedAt       time.Time `json:"generated_at"`
	CalendarConnected bool      `json:"calendar_connected"`
	Slots             []Slot    `json:"slots"`
}

// BookingSource reads confirmed platform bookings as busy intervals.
// Cancelled bookings must not be included.
type BookingSource interface {
	BookedBetween(ctx context.Context, calleeID string, from, to time.Time) ([]calendar.BusyInterval, error)
}

// Resolver merges the candidate grid with external calendar busy intervals
// and platform bookings. It never writes anything; booking admission is the
// storage layer's job, the resolver only answers "as of now".
type Resolver struct {
	gen      *slots.Generator
	provider calendar.Provider
	bookings BookingSource
	clock    func() time.Time
}

func NewResolver(gen *slots.Generator, provider calendar.Provider, bookings BookingSource) *Resolver {
	return &Resolver{gen: gen, provider: provider, bookings: bookings, clock: time.Now}
}

// ParseDay parses a "YYYY-MM-DD" date in the business-hours zone.
func (r *Resolver) ParseDay(s string) (time.Time, error) {
	return r.gen.ParseDay(s)
}

// DayOf formats the business-zone calendar day that at falls on, matching
// the Day field of the schedules this resolver produces.
func (r *Resolver) DayOf(at time.Time) string {
	return r.gen.DayFor(at).Format("2006-01-02")
}

// Resolve classifies every slot of the grid for the day that `day` falls on.
//
// A calendar fetch failure fails the whole request: a schedule that silently
// shows external busy time as free would let callers double-book the callee.
func (r *Resolver) Resolve(ctx context.Context, calleeID string, day time.Time) (DaySchedule, error) {
	if calleeID == "" {
		return DaySchedule{}, fmt.Errorf("availability: callee_id required")
	}

	grid := r.gen.Generate(day)
	if len(grid) == 0 {
		return DaySchedule{}, fmt.Errorf("availability: empty slot grid")
	}
	from, to := grid[0].Start, grid[len(grid)-1].End

	fb, err := r.provider.FreeBusy(ctx, calleeID, from, to)
	if err != nil {
		return DaySchedule{}, fmt.Errorf("availability: calendar fetch for %s: %w", calleeID, err)
	}

	booked, err := r.bookings.BookedBetween(ctx, calleeID, from, to)
	if err != nil {
		return DaySchedule{}, fmt.Errorf("availability: booked intervals for %s: %w", calleeID, err)
	}

	now := r.clock().UTC()
	out := make([]Slot, 0, len(grid))
	for _, c := range grid {
		st, conflict := classify(c, now, booked, fb.Intervals)
		out = append(out, Slot{
			Start:    c.Start,
			End:      c.End,
			Status:   st,
			Conflict: conflict,
		})
	}

	return DaySchedule{
		CalleeID:          calleeID,
		Day:               r.gen.DayFor(day).Format("2006-01-02"),
		GeneratedAt:       now,
		CalendarConnected: fb.Connected,
		Slots:             out,
	}, nil
}

// Check is the verdict on a single requested slot: its status, plus the
// interval it collides with when busy.
type Check struct {
	Status   string
	Conflict *calendar.BusyInterval
}

// CheckSlot re-validates a single requested slot at booking time. The status
// is one of the Status values as a string, or CheckMisaligned when
// [start, end) is not exactly one slot of the grid.
func (r *Resolver) CheckSlot(ctx context.Context, calleeID string, start, end time.Time) (Check, error) {
	if !r.gen.Aligned(start, end) {
		return Check{Status: CheckMisaligned}, nil
	}
	if !start.After(r.clock().UTC()) {
		return Check{Status: string(StatusPast)}, nil
	}

	fb, err := r.provider.FreeBusy(ctx, calleeID, start, end)
	if err != nil {
		return Check{}, fmt.Errorf("availability: calendar fetch for %s: %w", calleeID, err)
	}
	booked, err := r.bookings.BookedBetween(ctx, calleeID, start, end)
	if err != nil {
		return Check{}, fmt.Errorf("availability: booked intervals for %s: %w", calleeID, err)
	}

	st, conflict := classify(slots.Candidate{Start: start, End: end}, r.clock().UTC(), booked, fb.Intervals)
	return Check{Status: string(st), Conflict: conflict}, nil
}

// classify applies status precedence: past, then platform bookings, then
// external busy time. A slot that is both booked and externally busy reads
// as busy_booked. Busy verdicts return the first blocking interval.
func classify(c slots.Candidate, now time.Time, booked, external []calendar.BusyInterval) (Status, *calendar.BusyInterval) {
	if !c.Start.After(now) {
		return StatusPast, nil
	}
	for _, iv := range booked {
		if iv.Overlaps(c.Start, c.End) {
			return StatusBusyBooked, &iv
		}
	}
	for _, iv := range external {
		if iv.Overlaps(c.Start, c.End) {
			return StatusBusyExternal, &iv
		}
	}
	return StatusAvailable, nil
}
