package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const simpleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:one@test
DTSTART:20260310T100000Z
DTEND:20260310T103000Z
SUMMARY:Standup
END:VEVENT
END:VCALENDAR
`

const recurringFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly@test
DTSTART:20260302T090000Z
DTEND:20260302T093000Z
RRULE:FREQ=WEEKLY;BYDAY=MO
SUMMARY:Weekly sync
END:VEVENT
END:VCALENDAR
`

func icsProviderFor(t *testing.T, feed string) (*ICSProvider, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	t.Cleanup(srv.Close)

	feeds := NewMemoryFeedStore()
	feeds.URLs["cal-1"] = srv.URL

	p, err := NewICSProvider(feeds, time.Second)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p, "cal-1"
}

func TestICSProvider_SingleEvent(t *testing.T) {
	p, callee := icsProviderFor(t, simpleFeed)

	fb, err := p.FreeBusy(context.Background(), callee,
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if !fb.Connected {
		t.Fatalf("expected connected")
	}
	if len(fb.Intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(fb.Intervals))
	}
	want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if !fb.Intervals[0].Start.Equal(want) {
		t.Fatalf("unexpected start: %v", fb.Intervals[0].Start)
	}
}

func TestICSProvider_RecurringEventExpandsIntoWindow(t *testing.T) {
	p, callee := icsProviderFor(t, recurringFeed)

	// 2026-03-16 is a Monday two weeks after DTSTART.
	fb, err := p.FreeBusy(context.Background(), callee,
		time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if len(fb.Intervals) != 1 {
		t.Fatalf("expected 1 expanded occurrence, got %d", len(fb.Intervals))
	}
	want := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	if !fb.Intervals[0].Start.Equal(want) {
		t.Fatalf("unexpected occurrence start: %v", fb.Intervals[0].Start)
	}
}

func TestICSProvider_RecurringEventOutsideWindow(t *testing.T) {
	p, callee := icsProviderFor(t, recurringFeed)

	// 2026-03-17 is a Tuesday; the weekly Monday rule has no occurrence.
	fb, err := p.FreeBusy(context.Background(), callee,
		time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if len(fb.Intervals) != 0 {
		t.Fatalf("expected no occurrences, got %d", len(fb.Intervals))
	}
}

func TestICSProvider_CommaSeparatedExdates(t *testing.T) {
	const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly-ex@test
DTSTART:20260302T090000Z
DTEND:20260302T093000Z
RRULE:FREQ=WEEKLY;BYDAY=MO
EXDATE:20260316T090000Z,20260323T090000Z
SUMMARY:Weekly sync
END:VEVENT
END:VCALENDAR
`
	p, callee := icsProviderFor(t, feed)

	// Mondays in the window: 03-09, 03-16, 03-23, 03-30. The single EXDATE
	// line excludes the middle two.
	fb, err := p.FreeBusy(context.Background(), callee,
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if len(fb.Intervals) != 2 {
		t.Fatalf("expected 2 occurrences after exclusions, got %d", len(fb.Intervals))
	}
	wantStarts := []time.Time{
		time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC),
	}
	for i, want := range wantStarts {
		if !fb.Intervals[i].Start.Equal(want) {
			t.Fatalf("occurrence %d: expected %v, got %v", i, want, fb.Intervals[i].Start)
		}
	}
}

func TestICSProvider_NotConnected(t *testing.T) {
	p, err := NewICSProvider(NewMemoryFeedStore(), time.Second)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	fb, err := p.FreeBusy(context.Background(), "nobody", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if fb.Connected {
		t.Fatalf("expected not connected")
	}
}

func TestICSProvider_FetchFailureIsRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	feeds := NewMemoryFeedStore()
	feeds.URLs["c"] = srv.URL
	p, _ := NewICSProvider(feeds, time.Second, WithFeedRetry(2, time.Millisecond))

	_, err := p.FreeBusy(context.Background(), "c", time.Now(), time.Now().Add(time.Hour))
	if !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", got)
	}
}

func TestICSProvider_FetchRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, simpleFeed)
	}))
	defer srv.Close()

	feeds := NewMemoryFeedStore()
	feeds.URLs["c"] = srv.URL
	p, _ := NewICSProvider(feeds, time.Second, WithFeedRetry(3, time.Millisecond))

	fb, err := p.FreeBusy(context.Background(), "c",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", got)
	}
	if len(fb.Intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(fb.Intervals))
	}
}

func TestICSProvider_CreateEventUnsupported(t *testing.T) {
	p, _ := NewICSProvider(NewMemoryFeedStore(), time.Second)
	_, err := p.CreateEvent(context.Background(), EventRequest{CalleeID: "c", CallID: "x"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestNormalizeIntervals_DropsInvertedAndSorts(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	in := []BusyInterval{
		{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
		{Start: base, End: base}, // empty, dropped
		{Start: base, End: base.Add(30 * time.Minute)},
	}
	out := NormalizeIntervals(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(out))
	}
	if !out[0].Start.Equal(base) {
		t.Fatalf("expected sort by start, got %v first", out[0].Start)
	}
	if out[0].Source != SourceExternal {
		t.Fatalf("expected default external source")
	}
}

func TestBusyInterval_OverlapsHalfOpen(t *testing.T) {
	iv := BusyInterval{
		Start: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC),
	}
	// Touching boundaries do not overlap.
	if iv.Overlaps(time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC), iv.Start) {
		t.Fatalf("[09:45,10:00) must not overlap [10:00,10:30)")
	}
	if iv.Overlaps(iv.End, time.Date(2026, 3, 10, 10, 45, 0, 0, time.UTC)) {
		t.Fatalf("[10:30,10:45) must not overlap [10:00,10:30)")
	}
	if !iv.Overlaps(time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC), time.Date(2026, 3, 10, 10, 45, 0, 0, time.UTC)) {
		t.Fatalf("[10:15,10:45) must overlap [10:00,10:30)")
	}
}
