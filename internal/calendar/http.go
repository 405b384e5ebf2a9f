package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scheduling-platform/pkg/logger"
)

// CredentialStore resolves the per-callee credential for the external
// provider. A callee without a stored credential is "not connected".
type CredentialStore interface {
	Token(ctx context.Context, calleeID string) (token string, connected bool, err error)
}

// HTTPProvider talks to the busy-intervals API:
//
//	GET  {base}/v1/callees/{id}/busy?from=...&to=...  -> {connected, intervals}
//	POST {base}/v1/callees/{id}/events                -> {event_ref}
//
// Transient failures are retried with exponential backoff within a small
// budget before surfacing ErrSyncUnavailable.
type HTTPProvider struct {
	baseURL string
	creds   CredentialStore
	client  *http.Client

	maxAttempts int
	baseBackoff time.Duration
}

type HTTPProviderOption func(*HTTPProvider)

func WithHTTPClient(c *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithRetry overrides the retry budget (attempts) and base backoff delay.
func WithRetry(attempts int, base time.Duration) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if base > 0 {
			p.baseBackoff = base
		}
	}
}

func NewHTTPProvider(baseURL string, creds CredentialStore, timeout time.Duration, opts ...HTTPProviderOption) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, errors.New("calendar: base URL is required")
	}
	if creds == nil {
		return nil, errors.New("calendar: credential store is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &HTTPProvider{
		baseURL:     baseURL,
		creds:       creds,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: 3,
		baseBackoff: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *HTTPProvider) Name() string { return "http" }

type busyResponse struct {
	Connected bool `json:"connected"`
	Intervals []struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"intervals"`
}

func (p *HTTPProvider) FreeBusy(ctx context.Context, calleeID string, from, to time.Time) (FreeBusy, error) {
	if calleeID == "" {
		return FreeBusy{}, errors.New("calendar: callee_id required")
	}
	token, connected, err := p.creds.Token(ctx, calleeID)
	if err != nil {
		return FreeBusy{}, fmt.Errorf("%w: credential lookup: %v", ErrSyncUnavailable, err)
	}
	if !connected {
		return FreeBusy{Connected: false}, nil
	}

	url := fmt.Sprintf("%s/v1/callees/%s/busy?from=%s&to=%s",
		p.baseURL, calleeID,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)

	var body []byte
	err = withRetry(ctx, p.maxAttempts, p.baseBackoff, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return rerr
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, rerr := p.client.Do(req)
		if rerr != nil {
			return rerr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		body, rerr = io.ReadAll(resp.Body)
		return rerr
	})
	if err != nil {
		return FreeBusy{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	var out busyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return FreeBusy{}, fmt.Errorf("%w: bad response: %v", ErrSyncUnavailable, err)
	}

	intervals := make([]BusyInterval, 0, len(out.Intervals))
	for _, iv := range out.Intervals {
		intervals = append(intervals, BusyInterval{Start: iv.Start, End: iv.End, Source: SourceExternal})
	}
	return FreeBusy{Connected: out.Connected, Intervals: NormalizeIntervals(intervals)}, nil
}

type eventResponse struct {
	EventRef string `json:"event_ref"`
}

func (p *HTTPProvider) CreateEvent(ctx context.Context, req EventRequest) (EventResult, error) {
	if req.CalleeID == "" || req.CallID == "" {
		return EventResult{}, errors.New("calendar: callee_id and call_id required")
	}
	token, connected, err := p.creds.Token(ctx, req.CalleeID)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: credential lookup: %v", ErrSyncUnavailable, err)
	}
	if !connected {
		return EventResult{}, ErrNotConnected
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return EventResult{}, err
	}

	url := fmt.Sprintf("%s/v1/callees/%s/events", p.baseURL, req.CalleeID)

	// Exactly one network attempt: a timeout here may still have created the
	// event, so blind retries belong to the sync worker, which is idempotent
	// on call_id at the provider side.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return EventResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return EventResult{}, fmt.Errorf("%w: status %d", ErrSyncUnavailable, resp.StatusCode)
	}

	var out eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EventResult{}, fmt.Errorf("%w: bad response: %v", ErrSyncUnavailable, err)
	}
	return EventResult{EventRef: out.EventRef}, nil
}

// withRetry runs fn up to attempts times with exponential backoff, honoring
// context cancellation between attempts. Shared by the fetch paths of both
// remote providers; event writes never use it.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var last error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.From(ctx).Debug("calendar fetch retry", "attempt", attempt, "err", last)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return last
}
