package figma

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/metrics"
)

// Defaults for the rate-limit-aware fetcher.
const (
	DefaultMaxAttempts     = 4
	DefaultAttemptTimeout  = 20 * time.Second
	DefaultMaxWait         = 20 * time.Second
	DefaultMaxReportedWait = 600 * time.Second
	DefaultMaxBodyBytes    = 32 << 20

	maxBackoff = 4 * time.Second
	baseDelay  = 500 * time.Millisecond
	maxJitter  = 150 * time.Millisecond

	// upper bound on parsed delay seconds, keeps the Duration from overflowing
	maxRetryAfterSec = 365 * 24 * 60 * 60
)

// RetryOptions configures the fetcher.
type RetryOptions struct {
	MaxAttempts int
	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration
	// MaxWait is the longest wait the fetcher sleeps through in process.
	// Longer advised waits fail fast with a *RateLimitError.
	MaxWait         time.Duration
	MaxReportedWait time.Duration
	MaxBodyBytes    int64
}

// DefaultRetryOptions returns the fetcher defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     DefaultMaxAttempts,
		Timeout:         DefaultAttemptTimeout,
		MaxWait:         DefaultMaxWait,
		MaxReportedWait: DefaultMaxReportedWait,
		MaxBodyBytes:    DefaultMaxBodyBytes,
	}
}

// Request describes one logical GET. Zero MaxAttempts and Timeout fall back
// to the fetcher's options.
type Request struct {
	URL         string
	Header      http.Header
	Label       string
	MaxAttempts int
	Timeout     time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs GETs with per-attempt timeouts, backoff and rate-limit
// classification.
type Fetcher struct {
	client *http.Client
	opts   RetryOptions
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewFetcher creates a fetcher. A nil client uses a plain http.Client; the
// per-attempt timeout comes from the options, not the client.
func NewFetcher(client *http.Client, opts RetryOptions) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	def := DefaultRetryOptions()
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxWait < 0 {
		opts.MaxWait = 0
	}
	if opts.MaxReportedWait <= 0 {
		opts.MaxReportedWait = def.MaxReportedWait
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepContext,
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the delay before retrying after the given attempt (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		return maxBackoff
	}
	d := baseDelay * time.Duration(1<<(attempt-1))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// ParseRetryAfter parses a Retry-After header given as delay seconds or an
// HTTP-date. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return 0, false
		}
		if secs > maxRetryAfterSec {
			secs = maxRetryAfterSec
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Do runs the request. A 429 or 503 whose advised wait exceeds MaxWait, or
// that persists through the last attempt, returns a *RateLimitError. Network
// errors and timeouts are retried with backoff and surface as *Error once
// attempts run out. Other statuses are returned to the caller as is.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = f.opts.MaxAttempts
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.opts.Timeout
	}
	label := req.Label
	if label == "" {
		label = "figma request"
	}
	log := zap.S().Named("figma")

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := f.attempt(ctx, req, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.IncreaseFetchAttempt(label, metrics.FetchResultError)
			lastErr = &Error{URL: req.URL, Message: fmt.Sprintf("%s failed (attempt %d/%d)", label, attempt, maxAttempts), Cause: err}
			if attempt < maxAttempts {
				log.Warnw("request failed, retrying", "label", label, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
				if err := f.sleep(ctx, Backoff(attempt)+f.jitter()); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			metrics.IncreaseFetchAttempt(label, metrics.FetchResultOK)
			return resp, nil
		}

		metrics.IncreaseFetchAttempt(label, metrics.FetchResultRateLimited)
		wait, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), f.now())
		if !ok {
			wait = Backoff(attempt)
		}
		rlErr := f.rateLimitError(label, resp.StatusCode, wait)

		if attempt < maxAttempts && wait <= f.opts.MaxWait {
			log.Warnw("rate limited, waiting", "label", label, "status", resp.StatusCode,
				"attempt", attempt, "max_attempts", maxAttempts, "wait_sec", rlErr.RetryAfterSec)
			if err := f.sleep(ctx, wait+f.jitter()); err != nil {
				return nil, err
			}
			lastErr = rlErr
			continue
		}
		return nil, rlErr
	}

	if lastErr == nil {
		lastErr = &Error{URL: req.URL, Message: label + " failed"}
	}
	return nil, lastErr
}

func (f *Fetcher) rateLimitError(label string, status int, wait time.Duration) *RateLimitError {
	waitSec := int(math.Ceil(wait.Seconds()))
	maxSec := int(f.opts.MaxReportedWait / time.Second)
	e := &RateLimitError{Label: label, Status: status, RetryAfterSec: waitSec}
	if waitSec > maxSec {
		e.RetryAfterSec = maxSec
		e.Capped = true
	}
	return e
}

// attempt performs a single GET bounded by timeout, reading the whole body.
func (f *Fetcher) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
