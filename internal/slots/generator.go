package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candidate is a fixed-duration time window considered for booking before
// any availability state is applied. Instants are always UTC; [Start, End)
// is half-open.
type Candidate struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window is a business-hours window expressed as wall-clock minutes from
// midnight in the callee's local zone. End is exclusive.
type Window struct {
	StartMinute int
	EndMinute   int
}

var ErrInvalidWindow = errors.New("slots: invalid business-hours window")

// NewWindow parses "HH:MM" bounds into a Window.
func NewWindow(start, end string) (Window, error) {
	s, err := parseWallClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start %q", ErrInvalidWindow, start)
	}
	e, err := parseWallClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end %q", ErrInvalidWindow, end)
	}
	if e <= s {
		return Window{}, fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	}
	return Window{StartMinute: s, EndMinute: e}, nil
}

// Span is the window length.
func (w Window) Span() time.Duration {
	return time.Duration(w.EndMinute-w.StartMinute) * time.Minute
}

func (w Window) valid() bool {
	return w.StartMinute >= 0 && w.EndMinute <= 24*60 && w.EndMinute > w.StartMinute
}

// Generator produces the deterministic candidate slot grid for a day.
// Generation is pure: it does not filter on "now" and has no side effects.
// Past-tagging belongs to the availability resolver.
type Generator struct {
	window   Window
	duration time.Duration
	loc      *time.Location
}

func NewGenerator(window Window, duration time.Duration, loc *time.Location) (*Generator, error) {
	if !window.valid() {
		return nil, ErrInvalidWindow
	}
	if duration <= 0 {
		return nil, errors.New("slots: duration must be positive")
	}
	if window.Span()%duration != 0 {
		return nil, fmt.Errorf("slots: window span %v is not a multiple of slot duration %v", window.Span(), duration)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{window: window, duration: duration, loc: loc}, nil
}

func (g *Generator) Duration() time.Duration { return g.duration }

// DayFor returns the calendar day (in the generator's zone) that the given
// instant falls on. Used to rebuild the grid a client-supplied start claims
// to belong to.
func (g *Generator) DayFor(at time.Time) time.Time {
	local := at.In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
}

// ParseDay parses a "YYYY-MM-DD" date in the generator's zone.
func (g *Generator) ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, g.loc)
}

// Generate returns the ordered, gapless slot grid for the calendar day that
// `day` falls on. The grid is anchored on local wall-clock time, so it is
// stable across DST transitions within the window.
func (g *Generator) Generate(day time.Time) []Candidate {
	local := day.In(g.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)

	start := midnight.Add(time.Duration(g.window.StartMinute) * time.Minute)
	end := midnight.Add(time.Duration(g.window.EndMinute) * time.Minute)

	n := int(end.Sub(start) / g.duration)
	out := make([]Candidate, 0, n)
	for cur := start; cur.Before(end); cur = cur.Add(g.duration) {
		out = append(out, Candidate{Start: cur.UTC(), End: cur.Add(g.duration).UTC()})
	}
	return out
}

// Aligned reports whether [start, end) is exactly one slot of the grid for
// start's day. Comparisons are exact; there is no tolerance window.
func (g *Generator) Aligned(start, end time.Time) bool {
	if !end.Equal(start.Add(g.duration)) {
		return false
	}
	for _, c := range g.Generate(g.DayFor(start)) {
		if c.Start.Equal(start) && c.End.Equal(end) {
			return true
		}
	}
	return false
}

func parseWallClock(v string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New("bad hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("bad minute")
	}
	return h*60 + m, nil
}
