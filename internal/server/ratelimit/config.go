package ratelimit

import (
	"strings"
	"time"

	"github.com/jonathan/design2code/internal/config"
)

// EndpointConfig is the limit applied to one route.
type EndpointConfig struct {
	Path   string        // Exact path, or a prefix when it ends with "/"
	Method string        // HTTP method
	Limit  int           // Requests per window; 0 means unlimited
	Window time.Duration // Time window
	Burst  int           // Bucket capacity, defaults to Limit
}

// FromConfig builds the limiter configuration from the service settings.
func FromConfig(cfg config.RateLimitConfig) *Config {
	if !cfg.Enabled {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    cfg.RequestsPerMinute,
		DefaultWindow:   time.Minute,
		DefaultBurst:    cfg.Burst,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       parseIPList(cfg.Whitelist),
		Blacklist:       parseIPList(cfg.Blacklist),
		EndpointConfigs: DefaultEndpointConfigs(cfg.GenerateRPM),
	}
}

// DefaultEndpointConfigs returns the per-route limits. generateRPM bounds
// the routes that start pipeline runs.
func DefaultEndpointConfigs(generateRPM int) []EndpointConfig {
	burst := max(1, generateRPM/4)
	return []EndpointConfig{
		// Operational endpoints are never limited.
		{Path: "/health", Method: "GET", Limit: 0},
		{Path: "/metrics", Method: "GET", Limit: 0},
		{Path: "/api/cron/", Method: "GET", Limit: 0},
		{Path: "/api/cron/", Method: "POST", Limit: 0},

		// Routes that may run a pipeline inline.
		{Path: "/api/generate", Method: "POST", Limit: generateRPM, Window: time.Minute, Burst: burst},
		{Path: "/api/generations/", Method: "POST", Limit: generateRPM, Window: time.Minute, Burst: burst},

		// Writes.
		{Path: "/api/export-zip", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/api/figma-token", Method: "POST", Limit: 10, Window: time.Minute, Burst: 3},
		{Path: "/api/figma-token", Method: "DELETE", Limit: 10, Window: time.Minute, Burst: 3},
		{Path: "/api/projects/", Method: "DELETE", Limit: 30, Window: time.Minute, Burst: 5},

		// Each uncached preview costs two Figma requests.
		{Path: "/api/figma-preview", Method: "GET", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
