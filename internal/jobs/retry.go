package jobs

import "time"

// Default bounds for scheduling a retry after a rate limit.
const (
	DefaultRetryMin     = 30 * time.Second
	DefaultRetryMax     = 600 * time.Second
	DefaultRetryDefault = 60 * time.Second
)

// RetryPolicy bounds the wait before a rate-limited job is attempted again.
type RetryPolicy struct {
	Min     time.Duration
	Max     time.Duration
	Default time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Min: DefaultRetryMin, Max: DefaultRetryMax, Default: DefaultRetryDefault}
}

// Clamp maps an advised wait onto [Min, Max]. A negative wait means the
// advice is unknown and yields Default.
func (p RetryPolicy) Clamp(wait time.Duration) time.Duration {
	if wait < 0 {
		wait = p.Default
	}
	if wait < p.Min {
		return p.Min
	}
	if p.Max > 0 && wait > p.Max {
		return p.Max
	}
	return wait
}

// ClampRetryAfter is Clamp for a wait given in whole seconds.
func (p RetryPolicy) ClampRetryAfter(sec int) time.Duration {
	if sec < 0 {
		return p.Clamp(-1)
	}
	return p.Clamp(time.Duration(sec) * time.Second)
}
