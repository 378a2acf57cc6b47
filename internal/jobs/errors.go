package jobs

import "errors"

var (
	// ErrJobNotFound is returned when a generation has no job.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotKickable is returned when a kick targets a terminal job.
	ErrNotKickable = errors.New("job is terminal and cannot be requeued")

	// ErrNotCancellable is returned when a cancel targets a job that is
	// running or already terminal.
	ErrNotCancellable = errors.New("job is running or terminal and cannot be cancelled")

	// ErrNotClaimed is returned when ProcessJob is handed a job without a lock owner.
	ErrNotClaimed = errors.New("job is not claimed")
)
