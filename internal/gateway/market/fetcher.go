package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned after the upstream kept answering 429
// through every retry attempt.
var ErrRateLimitExceeded = errors.New("market: rate limit retries exhausted")

// TransportError is returned after transport-level failures (network, DNS,
// timeout, non-429 HTTP errors) exhausted the retry budget. It wraps the
// last underlying cause.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("market: request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetcher issues GET requests against the catalog service with a global
// throttle: one admission gate, at most rate requests per second across all
// callers. Retries on 429 and transport failures are a bounded loop with a
// linearly growing delay.
type Fetcher struct {
	httpClient *http.Client
	platform   string

	minInterval time.Duration
	maxRetries  int
	retryDelay  time.Duration

	// gate serializes admission; lastGrant is only touched while held.
	gate      sync.Mutex
	lastGrant time.Time

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// FetcherOptions carries the throttle and retry policy. Zero fields fall
// back to the upstream-friendly defaults: 2 req/s, 3 retries, 1s base delay.
type FetcherOptions struct {
	RatePerSecond float64
	MaxRetries    int
	RetryDelay    time.Duration
	Timeout       time.Duration
	Platform      string
}

// NewFetcher constructs a throttled fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	rate := opts.RatePerSecond
	if rate <= 0 {
		rate = 2.0
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	platform := opts.Platform
	if platform == "" {
		platform = "pc"
	}
	return &Fetcher{
		httpClient:  &http.Client{Timeout: timeout},
		platform:    platform,
		minInterval: time.Duration(float64(time.Second) / rate),
		maxRetries:  retries,
		retryDelay:  delay,
		nowFn:       time.Now,
		sleepFn:     sleepCtx,
	}
}

// SetHTTPClient replaces the HTTP client, used by tests.
func (f *Fetcher) SetHTTPClient(c *http.Client) { f.httpClient = c }

// acquire blocks until at least minInterval has elapsed since the previous
// grant. Callers queue on the gate, so grants are serialized process-wide.
func (f *Fetcher) acquire(ctx context.Context) error {
	f.gate.Lock()
	defer f.gate.Unlock()
	if !f.lastGrant.IsZero() {
		if wait := f.minInterval - f.nowFn().Sub(f.lastGrant); wait > 0 {
			if err := f.sleepFn(ctx, wait); err != nil {
				return err
			}
		}
	}
	f.lastGrant = f.nowFn()
	return nil
}

// Request performs a throttled GET and returns the response body. HTTP 429
// and transport failures are retried up to maxRetries times with a delay of
// retryDelay*(attempt+1); exhaustion yields ErrRateLimitExceeded or a
// *TransportError respectively.
func (f *Fetcher) Request(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := f.acquire(ctx); err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
		body, retryable, err := f.once(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt >= f.maxRetries {
			break
		}
		if err := f.sleepFn(ctx, f.retryDelay*time.Duration(attempt+1)); err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
	}
	if errors.Is(lastErr, errTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimitExceeded, url)
	}
	return nil, &TransportError{URL: url, Err: lastErr}
}

var errTooManyRequests = errors.New("upstream returned 429")

func (f *Fetcher) once(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Platform", f.platform)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, errTooManyRequests
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("unexpected status %s: %s", resp.Status, string(data))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
