// Package types provides the records shared by the stores, the job system and the HTTP API.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Job status constants
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusWaiting   = "waiting"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// JobError kind constants
const (
	JobErrorGenerationNotFound = "generation_not_found"
	JobErrorProjectNotFound    = "project_not_found"
	JobErrorMissingCredential  = "missing_credential"
	JobErrorRateLimited        = "rate_limited"
	JobErrorGenerationFailed   = "generation_failed"
	JobErrorCancelled          = "cancelled"
)

// Job is one background generation task. It is correlated with its
// generation only through GenerationID.
type Job struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       uuid.UUID  `json:"ownerId"`
	ProjectID     uuid.UUID  `json:"projectId"`
	GenerationID  uuid.UUID  `json:"generationId"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	LockedBy      *string    `json:"lockedBy,omitempty"`
	LockedAt      *time.Time `json:"lockedAt,omitempty"`
	LastError     *JobError  `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// JobError is the structured failure recorded on a job.
type JobError struct {
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	RetryAfterSec *int      `json:"retryAfterSec,omitempty"`
	At            time.Time `json:"at"`
}

// IsActiveJobStatus reports whether a job in this status still has work ahead of it.
func IsActiveJobStatus(status string) bool {
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusWaiting:
		return true
	}
	return false
}

// IsTerminalJobStatus reports whether the status can never change again.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// LockHeld reports whether another worker holds a live lease on the job.
func (j *Job) LockHeld(now time.Time, lease time.Duration) bool {
	if j.LockedBy == nil || *j.LockedBy == "" || j.LockedAt == nil {
		return false
	}
	return now.Sub(*j.LockedAt) <= lease
}

// IsDue reports whether the job waits for a claim and its next attempt time has passed.
func (j *Job) IsDue(now time.Time) bool {
	if j.Status != JobStatusQueued && j.Status != JobStatusWaiting {
		return false
	}
	return !now.Before(j.NextAttemptAt)
}

// Claimable reports whether a claim at now would succeed: the job is not
// terminal, its next attempt time has passed and no live lease exists.
func (j *Job) Claimable(now time.Time, lease time.Duration) bool {
	if !IsActiveJobStatus(j.Status) {
		return false
	}
	if now.Before(j.NextAttemptAt) {
		return false
	}
	return !j.LockHeld(now, lease)
}
