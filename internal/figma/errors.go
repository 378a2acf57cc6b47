package figma

import (
	"fmt"
	"time"
)

// Error represents a failed call to the design API.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("figma error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("figma error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// RateLimitError is returned when the API answered 429/503 and waiting for
// it in process is not possible. RetryAfterSec is the advised wait, capped
// at the fetcher's reported maximum.
type RateLimitError struct {
	Label         string
	Status        int
	RetryAfterSec int
	// Capped is set when the advised wait exceeded the reported maximum.
	Capped bool
}

func (e *RateLimitError) Error() string {
	if e.Capped {
		return fmt.Sprintf("%s rate limited (%d). Please retry later.", e.Label, e.Status)
	}
	return fmt.Sprintf("%s rate limited (%d). Retry after ~%ds", e.Label, e.Status, e.RetryAfterSec)
}

// RetryAfter returns the advised wait as a duration.
func (e *RateLimitError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSec) * time.Second
}
