package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"scheduling-platform/pkg/logger"
)

// FeedStore resolves the subscribed ICS feed URL for a callee. A callee
// without a feed is "not connected".
type FeedStore interface {
	FeedURL(ctx context.Context, calleeID string) (url string, connected bool, err error)
}

// occurrenceCap bounds recurrence expansion per event; availability windows
// are at most a few days, so hitting this means a malformed rule.
const occurrenceCap = 1000

// ICSProvider derives busy intervals from a subscribed ICS feed. Every
// VEVENT counts as busy; RRULE recurrences are expanded into the query
// window, EXDATEs removed, and all-day events become whole-day intervals.
//
// ICS is read-only: CreateEvent returns ErrNotConnected, so the booking
// layer clears the sync flag without an external event reference instead of
// retrying a write that can never succeed.
type ICSProvider struct {
	feeds  FeedStore
	client *http.Client

	maxAttempts int
	baseBackoff time.Duration
}

type ICSProviderOption func(*ICSProvider)

// WithFeedRetry overrides the fetch retry budget (attempts) and base backoff.
func WithFeedRetry(attempts int, base time.Duration) ICSProviderOption {
	return func(p *ICSProvider) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if base > 0 {
			p.baseBackoff = base
		}
	}
}

func NewICSProvider(feeds FeedStore, timeout time.Duration, opts ...ICSProviderOption) (*ICSProvider, error) {
	if feeds == nil {
		return nil, errors.New("calendar: feed store is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	p := &ICSProvider{
		feeds:       feeds,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: 3,
		baseBackoff: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *ICSProvider) Name() string { return "ics" }

func (p *ICSProvider) FreeBusy(ctx context.Context, calleeID string, from, to time.Time) (FreeBusy, error) {
	if calleeID == "" {
		return FreeBusy{}, errors.New("calendar: callee_id required")
	}
	url, connected, err := p.feeds.FeedURL(ctx, calleeID)
	if err != nil {
		return FreeBusy{}, fmt.Errorf("%w: feed lookup: %v", ErrSyncUnavailable, err)
	}
	if !connected {
		return FreeBusy{Connected: false}, nil
	}

	body, err := p.fetch(ctx, url)
	if err != nil {
		return FreeBusy{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return FreeBusy{}, fmt.Errorf("%w: parse: %v", ErrSyncUnavailable, err)
	}

	from, to = from.UTC(), to.UTC()
	intervals := make([]BusyInterval, 0)
	for _, ve := range cal.Events() {
		occ, perr := expandEvent(ve, from, to)
		if perr != nil {
			// A single bad VEVENT should not poison the whole feed.
			logger.From(ctx).Warn("ics event skipped", "callee_id", calleeID, "err", perr)
			continue
		}
		intervals = append(intervals, occ...)
	}

	return FreeBusy{Connected: true, Intervals: NormalizeIntervals(intervals)}, nil
}

func (p *ICSProvider) CreateEvent(ctx context.Context, req EventRequest) (EventResult, error) {
	return EventResult{}, fmt.Errorf("%w: ics feeds are read-only", ErrNotConnected)
}

func (p *ICSProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, p.maxAttempts, p.baseBackoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.New(resp.Status)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

// expandEvent turns one VEVENT into busy intervals within [from, to).
func expandEvent(ve *ics.VEvent, from, to time.Time) ([]BusyInterval, error) {
	start, allDay, err := eventStart(ve)
	if err != nil {
		return nil, err
	}

	var end time.Time
	if allDay {
		end = start.Add(24 * time.Hour)
	} else {
		end, err = ve.GetEndAt()
		if err != nil || !start.Before(end) {
			// Missing/zero DTEND: treat as an instantaneous marker, not busy.
			return nil, nil
		}
	}
	dur := end.Sub(start)

	rawRRule := ""
	if prop := ve.GetProperty(ics.ComponentPropertyRrule); prop != nil {
		rawRRule = prop.Value
	}

	if rawRRule == "" {
		if start.Before(to) && from.Before(end) {
			return []BusyInterval{{Start: start, End: end, Source: SourceExternal}}, nil
		}
		return nil, nil
	}

	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("bad RRULE %q: %w", rawRRule, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(ve, start.Location()) {
		set.ExDate(ex)
	}

	// Widen the query lower bound so occurrences that started before the
	// window but still overlap it are included.
	occStarts := set.Between(from.Add(-dur), to, true)
	if len(occStarts) > occurrenceCap {
		occStarts = occStarts[:occurrenceCap]
	}

	out := make([]BusyInterval, 0, len(occStarts))
	for _, s := range occStarts {
		e := s.Add(dur)
		if s.Before(to) && from.Before(e) {
			out = append(out, BusyInterval{Start: s, End: e, Source: SourceExternal})
		}
	}
	return out, nil
}

func eventStart(ve *ics.VEvent) (time.Time, bool, error) {
	if start, err := ve.GetStartAt(); err == nil {
		return start, false, nil
	}
	start, err := ve.GetAllDayStartAt()
	if err != nil {
		return time.Time{}, false, errors.New("missing DTSTART")
	}
	return start, true, nil
}

func exDates(ve *ics.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, prop := range ve.Properties {
		if prop.IANAToken != string(ics.ComponentPropertyExdate) {
			continue
		}
		// One EXDATE line may carry several comma-separated values.
		for _, raw := range strings.Split(prop.Value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
				if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
					out = append(out, ts)
					break
				}
			}
		}
	}
	return out
}
