package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/design2code/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTokenBucket_Take(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(10, 1.0, now)

	for i := 0; i < 10; i++ {
		if ok, _, _ := bucket.take(now); !ok {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}
	if ok, _, _ := bucket.take(now); ok {
		t.Error("Expected 11th request to be denied")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(10, 1.0, now)
	for i := 0; i < 10; i++ {
		bucket.take(now)
	}

	now = now.Add(1100 * time.Millisecond)
	if ok, _, _ := bucket.take(now); !ok {
		t.Error("Expected request to be allowed after refill")
	}
	if ok, _, _ := bucket.take(now); ok {
		t.Error("Expected request to be denied after consuming refilled token")
	}
}

func TestTokenBucket_ResetTime(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(10, 1.0, now)
	var remaining int
	var reset time.Time
	for i := 0; i < 5; i++ {
		_, remaining, reset = bucket.take(now)
	}
	if remaining != 5 {
		t.Errorf("Expected 5 remaining tokens, got %d", remaining)
	}
	if !reset.Equal(now.Add(5 * time.Second)) {
		t.Errorf("Expected reset in 5s, got %v", reset.Sub(now))
	}
}

func TestLimiter_Allow(t *testing.T) {
	clock := newClock()
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, Now: clock.Now})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/api/figma-token", "GET")
		if !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", info.Limit)
		}
		if info.Remaining != 9-i {
			t.Errorf("Expected remaining %d, got %d", 9-i, info.Remaining)
		}
	}

	allowed, info := limiter.Allow("127.0.0.1", "/api/figma-token", "GET")
	if allowed {
		t.Error("Expected 11th request to be denied")
	}
	if info.RetryAfter < 5900*time.Millisecond || info.RetryAfter > 6100*time.Millisecond {
		t.Errorf("Expected retry after ~6s, got %v", info.RetryAfter)
	}

	clock.Advance(7 * time.Second)
	if allowed, _ := limiter.Allow("127.0.0.1", "/api/figma-token", "GET"); !allowed {
		t.Error("Expected request to be allowed after refill")
	}
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"127.0.0.1": true},
		Blacklist:     map[string]bool{"192.168.1.1": true},
	})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		if allowed, _ := limiter.Allow("127.0.0.1", "/api/generate", "POST"); !allowed {
			t.Errorf("Expected whitelisted request %d to be allowed", i+1)
		}
	}
	if allowed, _ := limiter.Allow("192.168.1.1", "/health", "GET"); allowed {
		t.Error("Expected blacklisted request to be denied")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(FromConfig(config.RateLimitConfig{Enabled: false}))
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/api/generate", "POST")
		if !allowed {
			t.Errorf("Expected request %d to be allowed when disabled", i+1)
		}
		if info.Limit != 0 {
			t.Errorf("Expected limit 0 when disabled, got %d", info.Limit)
		}
	}
}

func TestLimiter_FromConfig(t *testing.T) {
	limiter := NewLimiter(FromConfig(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 120,
		Burst:             30,
		GenerateRPM:       8,
		Whitelist:         "10.0.0.1, 10.0.0.2",
	}))
	defer limiter.Stop()

	// Generate routes get a burst of GenerateRPM/4.
	for i := 0; i < 2; i++ {
		if allowed, _ := limiter.Allow("1.1.1.1", "/api/generate", "POST"); !allowed {
			t.Errorf("Expected generate request %d to be allowed", i+1)
		}
	}
	allowed, info := limiter.Allow("1.1.1.1", "/api/generate", "POST")
	if allowed {
		t.Error("Expected third generate request to be denied")
	}
	if info.Limit != 8 {
		t.Errorf("Expected limit 8, got %d", info.Limit)
	}

	// Health, metrics and cron are unlimited.
	for i := 0; i < 200; i++ {
		for _, path := range []string{"/health", "/metrics", "/api/cron/generation-worker"} {
			if allowed, _ := limiter.Allow("1.1.1.1", path, "GET"); !allowed {
				t.Errorf("Expected %s to be unlimited", path)
			}
		}
	}

	if allowed, _ := limiter.Allow("10.0.0.2", "/api/generate", "POST"); !allowed {
		t.Error("Expected whitelisted client to be allowed")
	}
}

func TestLimiter_PrefixRoutesShareBucket(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/api/generations/", Method: "POST", Limit: 2, Window: time.Minute, Burst: 2},
		},
	})
	defer limiter.Stop()

	for i := 0; i < 2; i++ {
		path := fmt.Sprintf("/api/generations/%d/regenerate", i)
		if allowed, _ := limiter.Allow("127.0.0.1", path, "POST"); !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}
	if allowed, _ := limiter.Allow("127.0.0.1", "/api/generations/9/cancel", "POST"); allowed {
		t.Error("Expected request on another id to share the exhausted bucket")
	}
	if allowed, _ := limiter.Allow("127.0.0.1", "/api/generations/9/status", "GET"); !allowed {
		t.Error("Expected GET to use the default limit")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := limiter.Allow("127.0.0.1", "/api/figma-token", "GET"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("Expected 100 allowed requests, got %d", allowedCount)
	}
}

func TestLimiter_EvictIdle(t *testing.T) {
	clock := newClock()
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, Now: clock.Now})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/x", "GET")
	}
	clock.Advance(30 * time.Minute)
	for i := 0; i < 5; i++ {
		limiter.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/x", "GET")
	}
	clock.Advance(31 * time.Minute)

	if n := limiter.evictIdle(time.Hour); n != 5 {
		t.Errorf("Expected 5 evicted buckets, got %d", n)
	}
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs(20)
	tests := []struct {
		path, method, want string
	}{
		{"/api/generate", "POST", "/api/generate"},
		{"/api/generations/abc/regenerate", "POST", "/api/generations/"},
		{"/api/generations/abc/status", "GET", ""},
		{"/api/cron/generation-worker", "GET", "/api/cron/"},
		{"/health", "GET", "/health"},
		{"/api/figma-token", "DELETE", "/api/figma-token"},
		{"/api/projects/abc", "DELETE", "/api/projects/"},
		{"/api/projects", "GET", ""},
		{"/api/figma-preview", "GET", "/api/figma-preview"},
	}
	for _, tt := range tests {
		got := MatchEndpoint(tt.path, tt.method, configs)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("%s %s: expected no match, got %s", tt.method, tt.path, got.Path)
		case tt.want != "" && (got == nil || got.Path != tt.want):
			t.Errorf("%s %s: expected %s, got %v", tt.method, tt.path, tt.want, got)
		}
	}
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter := NewLimiter(nil)
	defer limiter.Stop()

	allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
	if !allowed {
		t.Error("Expected request to be allowed with default config")
	}
	if info.Limit != 1000 {
		t.Errorf("Expected default limit 1000, got %d", info.Limit)
	}
}
