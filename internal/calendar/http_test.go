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

func testCreds(calleeID string) *MemoryCredentialStore {
	cs := NewMemoryCredentialStore()
	cs.Tokens[calleeID] = "tok"
	return cs
}

func TestHTTPProvider_FreeBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header: %q", got)
		}
		fmt.Fprint(w, `{
			"connected": true,
			"intervals": [
				{"start": "2026-03-10T10:00:00Z", "end": "2026-03-10T10:30:00Z"}
			]
		}`)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL, testCreds("cal-1"), time.Second)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	fb, err := p.FreeBusy(context.Background(), "cal-1",
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
	if fb.Intervals[0].Source != SourceExternal {
		t.Fatalf("expected external source")
	}
}

func TestHTTPProvider_NotConnectedSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(srv.URL, NewMemoryCredentialStore(), time.Second)
	fb, err := p.FreeBusy(context.Background(), "nobody", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("freebusy: %v", err)
	}
	if fb.Connected {
		t.Fatalf("expected not connected")
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", hits.Load())
	}
}

func TestHTTPProvider_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"connected": true, "intervals": []}`)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(srv.URL, testCreds("c"), time.Second, WithRetry(3, time.Millisecond))
	fb, err := p.FreeBusy(context.Background(), "c", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !fb.Connected {
		t.Fatalf("expected connected")
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestHTTPProvider_ExhaustedRetriesSurfaceSyncUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(srv.URL, testCreds("c"), time.Second, WithRetry(2, time.Millisecond))
	_, err := p.FreeBusy(context.Background(), "c", time.Now(), time.Now().Add(time.Hour))
	if !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
}

func TestHTTPProvider_CreateEventSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(srv.URL, testCreds("c"), time.Second)
	_, err := p.CreateEvent(context.Background(), EventRequest{CalleeID: "c", CallID: "call-1"})
	if !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("event writes must not retry in-line; got %d attempts", hits.Load())
	}
}

func TestHTTPProvider_CreateEventNotConnected(t *testing.T) {
	p, _ := NewHTTPProvider("http://unused", NewMemoryCredentialStore(), time.Second)
	_, err := p.CreateEvent(context.Background(), EventRequest{CalleeID: "c", CallID: "call-1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
