package db

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrLeaseLost is returned by job transitions when the caller no longer
// holds the job's lock.
var ErrLeaseLost = errors.New("job lease lost")

// DuplicateJobError is returned by CreateJob when the project already has an
// active job or the generation already has a job.
type DuplicateJobError struct {
	ProjectID    uuid.UUID
	GenerationID uuid.UUID
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("active job already exists for project %s (generation %s)", e.ProjectID, e.GenerationID)
}

// ErrProjectSourceTaken is returned by UpdateProjectSource when the owner
// already has a project for the requested source.
var ErrProjectSourceTaken = errors.New("project source already in use")
