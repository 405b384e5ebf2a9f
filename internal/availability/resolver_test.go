package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/slots"
)

type stubBookings struct {
	intervals []calendar.BusyInterval
	err       error
}

func (s *stubBookings) BookedBetween(ctx context.Context, calleeID string, from, to time.Time) ([]calendar.BusyInterval, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]calendar.BusyInterval, 0)
	for _, iv := range s.intervals {
		if iv.Overlaps(from, to) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func newTestResolver(t *testing.T, provider calendar.Provider, bookings BookingSource, now time.Time) *Resolver {
	t.Helper()
	w, err := slots.NewWindow("08:00", "18:00")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	gen, err := slots.NewGenerator(w, 15*time.Minute, time.UTC)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	r := NewResolver(gen, provider, bookings)
	r.clock = func() time.Time { return now }
	return r
}

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func slotByStart(t *testing.T, sched DaySchedule, start time.Time) Slot {
	t.Helper()
	for _, s := range sched.Slots {
		if s.Start.Equal(start) {
			return s
		}
	}
	t.Fatalf("no slot starting at %v", start)
	return Slot{}
}

func TestResolve_AllAvailableBeforeBusinessHours(t *testing.T) {
	r := newTestResolver(t, calendar.NewMemoryProvider(), &stubBookings{}, at(t, 7, 0))

	sched, err := r.Resolve(context.Background(), "callee-1", at(t, 7, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(sched.Slots) != 40 {
		t.Fatalf("expected 40 slots, got %d", len(sched.Slots))
	}
	if !sched.CalendarConnected {
		t.Fatalf("expected connected")
	}
	for _, s := range sched.Slots {
		if s.Status != StatusAvailable {
			t.Fatalf("slot %v: expected available, got %s", s.Start, s.Status)
		}
	}
}

func TestResolve_ExternalBusyMarksExactSlots(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.AddBusy("callee-1", at(t, 10, 0), at(t, 10, 30))
	r := newTestResolver(t, p, &stubBookings{}, at(t, 7, 0))

	sched, err := r.Resolve(context.Background(), "callee-1", at(t, 7, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	busy := 0
	for _, s := range sched.Slots {
		if s.Status == StatusBusyExternal {
			busy++
		}
	}
	if busy != 2 {
		t.Fatalf("a [10:00,10:30) block covers exactly 2 slots, got %d", busy)
	}
	if got := slotByStart(t, sched, at(t, 9, 45)).Status; got != StatusAvailable {
		t.Fatalf("09:45 neighbor should stay available, got %s", got)
	}
	if got := slotByStart(t, sched, at(t, 10, 30)).Status; got != StatusAvailable {
		t.Fatalf("10:30 neighbor should stay available, got %s", got)
	}

	marked := slotByStart(t, sched, at(t, 10, 0))
	if marked.Conflict == nil || !marked.Conflict.Start.Equal(at(t, 10, 0)) {
		t.Fatalf("busy slot must carry its blocking interval, got %+v", marked.Conflict)
	}
	if free := slotByStart(t, sched, at(t, 9, 45)); free.Conflict != nil {
		t.Fatalf("available slot must not carry a conflict")
	}
}

func TestResolve_BookedWinsOverExternal(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.AddBusy("callee-1", at(t, 11, 0), at(t, 11, 15))
	bookings := &stubBookings{intervals: []calendar.BusyInterval{
		{Start: at(t, 11, 0), End: at(t, 11, 15), Source: calendar.SourcePlatform},
	}}
	r := newTestResolver(t, p, bookings, at(t, 7, 0))

	sched, err := r.Resolve(context.Background(), "callee-1", at(t, 7, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := slotByStart(t, sched, at(t, 11, 0)).Status; got != StatusBusyBooked {
		t.Fatalf("expected busy_booked to win, got %s", got)
	}
}

func TestResolve_PastWinsOverEverything(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.AddBusy("callee-1", at(t, 8, 0), at(t, 8, 30))
	r := newTestResolver(t, p, &stubBookings{}, at(t, 12, 0))

	sched, err := r.Resolve(context.Background(), "callee-1", at(t, 12, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := slotByStart(t, sched, at(t, 8, 0)).Status; got != StatusPast {
		t.Fatalf("expected past, got %s", got)
	}
	// A slot starting exactly now is no longer bookable.
	if got := slotByStart(t, sched, at(t, 12, 0)).Status; got != StatusPast {
		t.Fatalf("slot starting at now should be past, got %s", got)
	}
	if got := slotByStart(t, sched, at(t, 12, 15)).Status; got != StatusAvailable {
		t.Fatalf("next slot should be available, got %s", got)
	}
}

func TestResolve_FetchFailurePropagates(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.FailFetch["callee-1"] = true
	r := newTestResolver(t, p, &stubBookings{}, at(t, 7, 0))

	_, err := r.Resolve(context.Background(), "callee-1", at(t, 7, 0))
	if !errors.Is(err, calendar.ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
}

func TestResolve_DisconnectedCalleeStillResolves(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.Disconnected["callee-1"] = true
	r := newTestResolver(t, p, &stubBookings{}, at(t, 7, 0))

	sched, err := r.Resolve(context.Background(), "callee-1", at(t, 7, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sched.CalendarConnected {
		t.Fatalf("expected calendar_connected=false")
	}
	for _, s := range sched.Slots {
		if s.Status != StatusAvailable {
			t.Fatalf("disconnected callee slots resolve from bookings only, got %s", s.Status)
		}
	}
}

func TestCheckSlot(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.AddBusy("callee-1", at(t, 10, 0), at(t, 10, 30))
	bookings := &stubBookings{intervals: []calendar.BusyInterval{
		{Start: at(t, 14, 0), End: at(t, 14, 15), Source: calendar.SourcePlatform},
	}}
	r := newTestResolver(t, p, bookings, at(t, 9, 0))
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end time.Time
		want       string
	}{
		{"available", at(t, 9, 30), at(t, 9, 45), string(StatusAvailable)},
		{"misaligned start", at(t, 9, 37), at(t, 9, 52), CheckMisaligned},
		{"wrong duration", at(t, 9, 30), at(t, 10, 0), CheckMisaligned},
		{"outside business hours", at(t, 7, 0), at(t, 7, 15), CheckMisaligned},
		{"past", at(t, 8, 0), at(t, 8, 15), string(StatusPast)},
		{"external busy", at(t, 10, 15), at(t, 10, 30), string(StatusBusyExternal)},
		{"already booked", at(t, 14, 0), at(t, 14, 15), string(StatusBusyBooked)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.CheckSlot(ctx, "callee-1", tc.start, tc.end)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
		})
	}
}

func TestCheckSlot_BusyVerdictCarriesConflict(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.AddBusy("callee-1", at(t, 10, 0), at(t, 10, 30))
	r := newTestResolver(t, p, &stubBookings{}, at(t, 9, 0))

	got, err := r.CheckSlot(context.Background(), "callee-1", at(t, 10, 15), at(t, 10, 30))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.Status != string(StatusBusyExternal) {
		t.Fatalf("expected busy_external, got %s", got.Status)
	}
	if got.Conflict == nil {
		t.Fatalf("busy verdict must carry the blocking interval")
	}
	if !got.Conflict.Start.Equal(at(t, 10, 0)) || !got.Conflict.End.Equal(at(t, 10, 30)) {
		t.Fatalf("unexpected conflict interval: %+v", got.Conflict)
	}

	free, err := r.CheckSlot(context.Background(), "callee-1", at(t, 9, 30), at(t, 9, 45))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if free.Conflict != nil {
		t.Fatalf("available verdict must not carry a conflict")
	}
}

func TestDayOf_UsesBusinessZone(t *testing.T) {
	w, err := slots.NewWindow("08:00", "18:00")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	gen, err := slots.NewGenerator(w, 15*time.Minute, loc)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	r := NewResolver(gen, calendar.NewMemoryProvider(), &stubBookings{})

	// 2026-03-13 01:30 UTC is still the evening of 2026-03-12 in New York,
	// so the schedule key must be the 12th, not the UTC date.
	instant := time.Date(2026, 3, 13, 1, 30, 0, 0, time.UTC)
	if got := r.DayOf(instant); got != "2026-03-12" {
		t.Fatalf("expected business-zone day 2026-03-12, got %s", got)
	}
}

func TestCheckSlot_FetchFailureIsAnError(t *testing.T) {
	p := calendar.NewMemoryProvider()
	p.FailFetch["callee-1"] = true
	r := newTestResolver(t, p, &stubBookings{}, at(t, 9, 0))

	_, err := r.CheckSlot(context.Background(), "callee-1", at(t, 9, 30), at(t, 9, 45))
	if !errors.Is(err, calendar.ErrSyncUnavailable) {
		t.Fatalf("a failed fetch must not read as available, got %v", err)
	}
}
