// Package jobs runs generation jobs: it claims them under a lease, executes
// the pipeline, and records the outcome on both the job and its generation.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/types"
)

// ErrLeaseLost is returned when a transition is attempted by a worker that no
// longer holds the job's lock.
var ErrLeaseLost = db.ErrLeaseLost

// JobStore persists generation jobs. Every change to the lock or status of
// a job goes through a conditional write.
type JobStore interface {
	// CreateJob inserts a queued job. It returns a *db.DuplicateJobError when
	// the project already has an active job.
	CreateJob(ctx context.Context, ownerID, projectID, generationID uuid.UUID) (*types.Job, error)

	// GetJobByGenerationID returns the job populating a generation, or nil.
	GetJobByGenerationID(ctx context.Context, generationID uuid.UUID) (*types.Job, error)

	// GetActiveJobForProject returns the newest queued, running or waiting job
	// of a project, or nil.
	GetActiveJobForProject(ctx context.Context, ownerID, projectID uuid.UUID) (*types.Job, error)

	// ClaimJob takes the lease on a generation's job. It returns nil when the
	// job is missing, not due, terminal, or held by another live lease.
	ClaimJob(ctx context.Context, generationID uuid.UUID, workerID string, lease time.Duration) (*types.Job, error)

	// ClaimDueJobs claims up to limit due jobs.
	ClaimDueJobs(ctx context.Context, limit int, workerID string, lease time.Duration) ([]types.Job, error)

	// ReleaseJob clears the lock if workerID still holds it.
	ReleaseJob(ctx context.Context, jobID uuid.UUID, workerID string) error

	MarkWaiting(ctx context.Context, jobID uuid.UUID, workerID string, nextAttemptAt time.Time, je *types.JobError) error
	MarkSucceeded(ctx context.Context, jobID uuid.UUID, workerID string) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, workerID string, je *types.JobError) error

	// RequeueJob makes a queued or waiting job due now.
	RequeueJob(ctx context.Context, generationID uuid.UUID) (bool, error)

	// CancelJob cancels a queued or waiting job without a live lease.
	CancelJob(ctx context.Context, generationID uuid.UUID, lease time.Duration, je *types.JobError) (*types.Job, error)
}

// GenerationStore persists generations and their artifacts.
type GenerationStore interface {
	CreateGeneration(ctx context.Context, projectID uuid.UUID, profileID *uuid.UUID) (*types.Generation, error)
	GetGeneration(ctx context.Context, id uuid.UUID) (*types.Generation, error)
	LatestSucceededGeneration(ctx context.Context, projectID uuid.UUID) (*types.Generation, error)
	UpdateGeneration(ctx context.Context, id uuid.UUID, upd types.GenerationUpdate) error

	// SaveArtifacts replaces the files and mappings of a generation.
	SaveArtifacts(ctx context.Context, generationID uuid.UUID, art *types.Artifacts) error
	GetBundle(ctx context.Context, generationID uuid.UUID) (*types.Bundle, error)
	DeleteGeneration(ctx context.Context, id uuid.UUID) error
}

// ProjectStore resolves projects.
type ProjectStore interface {
	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	FindProjectBySource(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.Project, error)
	UpsertProject(ctx context.Context, in types.ProjectInput) (*types.Project, error)
}

// Store is the full persistence surface used by the job system.
type Store interface {
	JobStore
	GenerationStore
	ProjectStore
}

// CredentialSource returns an owner's design-source access token, or "" when
// none is stored.
type CredentialSource interface {
	Get(ctx context.Context, ownerID uuid.UUID) (string, error)
}
