// Package catalog holds the HTTP plumbing shared by the primary and secondary
// catalog clients: request pacing, per-request timeouts and error classification.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"brickcache-api/internal/metrics"
	"brickcache-api/internal/model"

	"go.uber.org/ratelimit"
)

const maxBodyBytes = 8 << 20

// StatusError is returned for non-2xx responses. It unwraps to model.ErrUnavailable.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return model.ErrUnavailable }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Name              string // metrics label
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond int
	Headers           map[string]string
	Client            *http.Client
}

// Fetcher issues paced GET requests with a timeout per request.
type Fetcher struct {
	name    string
	ua      string
	timeout time.Duration
	headers map[string]string
	client  *http.Client
	limiter ratelimit.Limiter
}

// NewFetcher creates a Fetcher. RequestsPerSecond <= 0 disables pacing.
func NewFetcher(opts FetcherOptions) *Fetcher {
	to := opts.Timeout
	if to <= 0 {
		to = 15 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	limiter := ratelimit.NewUnlimited()
	if opts.RequestsPerSecond > 0 {
		limiter = ratelimit.New(opts.RequestsPerSecond)
	}
	name := opts.Name
	if name == "" {
		name = "catalog"
	}
	return &Fetcher{
		name:    name,
		ua:      opts.UserAgent,
		timeout: to,
		headers: opts.Headers,
		client:  client,
		limiter: limiter,
	}
}

// Get fetches url and returns the body of a 2xx response.
// A cancelled ctx is returned as ctx.Err(); every other failure wraps model.ErrUnavailable.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %v: %w", url, err, model.ErrUnavailable)
	}
	if f.ua != "" {
		req.Header.Set("User-Agent", f.ua)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(start, "error")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("GET %s: %v: %w", url, err, model.ErrUnavailable)
	}
	defer resp.Body.Close()
	f.observe(start, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read %s: %v: %w", url, err, model.ErrUnavailable)
	}
	return body, nil
}

// wait blocks for the next pacing slot or until ctx is done. The limiter
// cannot be interrupted, so a caller that gives up returns at once while its
// helper goroutine still takes the slot and exits. That slot is not handed
// back; an abandoned wait delays the next request by one interval.
func (f *Fetcher) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		f.limiter.Take()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) observe(start time.Time, status string) {
	metrics.ExternalFetch.WithLabelValues(f.name, status).Observe(time.Since(start).Seconds())
}
