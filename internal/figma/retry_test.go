package figma

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFetcher returns a fetcher that records sleeps instead of sleeping.
func newTestFetcher(opts RetryOptions) (*Fetcher, *[]time.Duration) {
	f := NewFetcher(nil, opts)
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	f.jitter = func() time.Duration { return 0 }
	return f, &slept
}

// sequenceServer answers each request with the next handler in the list,
// repeating the last one.
func sequenceServer(t *testing.T, handlers ...http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(handlers) {
			n = len(handlers) - 1
		}
		handlers[n](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func status(code int, retryAfter string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func TestFetcher_Success(t *testing.T) {
	srv, calls := sequenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Figma-Token"))
		_, _ = w.Write([]byte("hello"))
	})
	f, slept := newTestFetcher(DefaultRetryOptions())

	resp, err := f.Do(context.Background(), Request{URL: srv.URL, Header: http.Header{"X-Figma-Token": {"tok"}}, Label: "test"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, int32(1), *calls)
	assert.Empty(t, *slept)
}

func TestFetcher_NonRetryableStatusReturned(t *testing.T) {
	srv, calls := sequenceServer(t, status(http.StatusNotFound, ""))
	f, _ := newTestFetcher(DefaultRetryOptions())

	resp, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.Equal(t, int32(1), *calls)
}

func TestFetcher_ShortRetryAfterIsWaitedInProcess(t *testing.T) {
	srv, calls := sequenceServer(t, status(http.StatusTooManyRequests, "2"), status(http.StatusOK, ""))
	f, slept := newTestFetcher(DefaultRetryOptions())

	resp, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(2), *calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
}

func TestFetcher_LongRetryAfterFailsFast(t *testing.T) {
	srv, calls := sequenceServer(t, status(http.StatusTooManyRequests, "45"))
	f, slept := newTestFetcher(DefaultRetryOptions())

	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "Figma image request"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 45, rl.RetryAfterSec)
	assert.Equal(t, http.StatusTooManyRequests, rl.Status)
	assert.False(t, rl.Capped)
	assert.Equal(t, 45*time.Second, rl.RetryAfter())
	assert.Contains(t, rl.Error(), "Retry after ~45s")
	assert.Equal(t, int32(1), *calls)
	assert.Empty(t, *slept)
}

func TestFetcher_RateLimitedThroughLastAttempt(t *testing.T) {
	srv, calls := sequenceServer(t, status(http.StatusServiceUnavailable, "1"))
	opts := DefaultRetryOptions()
	opts.MaxAttempts = 3
	f, slept := newTestFetcher(opts)

	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 1, rl.RetryAfterSec)
	assert.Equal(t, http.StatusServiceUnavailable, rl.Status)
	assert.Equal(t, int32(3), *calls)
	assert.Len(t, *slept, 2)
}

func TestFetcher_MissingRetryAfterUsesBackoff(t *testing.T) {
	srv, _ := sequenceServer(t, status(http.StatusTooManyRequests, ""), status(http.StatusTooManyRequests, ""), status(http.StatusOK, ""))
	f, slept := newTestFetcher(DefaultRetryOptions())

	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
}

func TestFetcher_HTTPDateRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv, _ := sequenceServer(t, status(http.StatusTooManyRequests, now.Add(30*time.Second).Format(http.TimeFormat)))
	f, _ := newTestFetcher(DefaultRetryOptions())
	f.now = func() time.Time { return now }

	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30, rl.RetryAfterSec)
}

func TestFetcher_ReportedWaitIsCapped(t *testing.T) {
	srv, _ := sequenceServer(t, status(http.StatusTooManyRequests, "86400"))
	f, _ := newTestFetcher(DefaultRetryOptions())

	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 600, rl.RetryAfterSec)
	assert.True(t, rl.Capped)
	assert.Contains(t, rl.Error(), "Please retry later")
}

func TestFetcher_NetworkErrorRetriedThenSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	opts := DefaultRetryOptions()
	opts.MaxAttempts = 3
	f, slept := newTestFetcher(opts)

	_, err := f.Do(context.Background(), Request{URL: url, Label: "test"})
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	var rl *RateLimitError
	assert.False(t, errors.As(err, &rl))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
}

func TestFetcher_PerAttemptTimeout(t *testing.T) {
	srv, calls := sequenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	opts := DefaultRetryOptions()
	opts.MaxAttempts = 2
	opts.Timeout = 50 * time.Millisecond
	f, _ := newTestFetcher(opts)

	start := time.Now()
	_, err := f.Do(context.Background(), Request{URL: srv.URL, Label: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestFetcher_ContextCancelledDuringWait(t *testing.T) {
	srv, calls := sequenceServer(t, status(http.StatusTooManyRequests, "5"))
	f := NewFetcher(nil, DefaultRetryOptions())
	f.jitter = func() time.Duration { return 0 }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Do(ctx, Request{URL: srv.URL, Label: "test"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), *calls)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 4 * time.Second},
		{50, 4 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{name: "empty", value: ""},
		{name: "seconds", value: "45", want: 45 * time.Second, wantOK: true},
		{name: "fractional", value: "1.5", want: 1500 * time.Millisecond, wantOK: true},
		{name: "zero", value: "0", want: 0, wantOK: true},
		{name: "negative", value: "-3"},
		{name: "garbage", value: "soon"},
		{name: "future date", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second, wantOK: true},
		{name: "past date", value: now.Add(-time.Hour).Format(http.TimeFormat), want: 0, wantOK: true},
		{name: "huge", value: "1e15", want: maxRetryAfterSec * time.Second, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
