package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/types"
)

// -----------------------------------------------------------------------------
// Generation Jobs Methods
// -----------------------------------------------------------------------------

func (s *Store) jobByGeneration(generationID uuid.UUID) *jobRecord {
	for _, rec := range s.jobs {
		if rec.job.GenerationID == generationID {
			return rec
		}
	}
	return nil
}

func copyJob(j types.Job) *types.Job {
	return &j
}

// CreateJob inserts a queued job for a generation. It returns a
// *db.DuplicateJobError if the project already has an active job or the
// generation already has one.
func (s *Store) CreateJob(_ context.Context, ownerID, projectID, generationID uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.jobs {
		if rec.job.GenerationID == generationID ||
			(rec.job.ProjectID == projectID && types.IsActiveJobStatus(rec.job.Status)) {
			return nil, &db.DuplicateJobError{ProjectID: projectID, GenerationID: generationID}
		}
	}

	now := s.timestamp()
	job := types.Job{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		ProjectID:     projectID,
		GenerationID:  generationID,
		Status:        types.JobStatusQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[job.ID] = &jobRecord{job: job, seq: s.next()}
	return copyJob(job), nil
}

// GetJobByGenerationID retrieves the job populating a generation
func (s *Store) GetJobByGenerationID(_ context.Context, generationID uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.jobByGeneration(generationID); rec != nil {
		return copyJob(rec.job), nil
	}
	return nil, nil
}

// GetActiveJobForProject returns the most recent queued, running or waiting
// job for a project, or nil.
func (s *Store) GetActiveJobForProject(_ context.Context, ownerID, projectID uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *jobRecord
	for _, rec := range s.jobs {
		j := rec.job
		if j.OwnerID != ownerID || j.ProjectID != projectID || !types.IsActiveJobStatus(j.Status) {
			continue
		}
		if latest == nil || rec.seq > latest.seq {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyJob(latest.job), nil
}

func (s *Store) claim(rec *jobRecord, workerID string, now time.Time) {
	w := workerID
	t := now
	rec.job.LockedBy = &w
	rec.job.LockedAt = &t
	rec.job.Status = types.JobStatusRunning
	rec.job.AttemptCount++
	rec.job.UpdatedAt = now
}

// ClaimJob takes the lease on a generation's job for workerID. It returns nil
// when there is no job, the job is terminal or not yet due, or another
// worker holds a live lease.
func (s *Store) ClaimJob(_ context.Context, generationID uuid.UUID, workerID string, lease time.Duration) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timestamp()
	rec := s.jobByGeneration(generationID)
	if rec == nil || !rec.job.Claimable(now, lease) {
		return nil, nil
	}
	s.claim(rec, workerID, now)
	return copyJob(rec.job), nil
}

// ClaimDueJobs claims up to limit due jobs for workerID, oldest due first.
func (s *Store) ClaimDueJobs(_ context.Context, limit int, workerID string, lease time.Duration) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timestamp()

	var due []*jobRecord
	for _, rec := range s.jobs {
		if rec.job.Claimable(now, lease) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].job.NextAttemptAt.Equal(due[j].job.NextAttemptAt) {
			return due[i].seq < due[j].seq
		}
		return due[i].job.NextAttemptAt.Before(due[j].job.NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]types.Job, 0, len(due))
	for _, rec := range due {
		s.claim(rec, workerID, now)
		jobs = append(jobs, rec.job)
	}
	return jobs, nil
}

func heldBy(j *types.Job, workerID string) bool {
	return j.LockedBy != nil && *j.LockedBy == workerID
}

// ReleaseJob clears the lock if workerID still holds it
func (s *Store) ReleaseJob(_ context.Context, jobID uuid.UUID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok || !heldBy(&rec.job, workerID) {
		return nil
	}
	rec.job.LockedBy = nil
	rec.job.LockedAt = nil
	rec.job.UpdatedAt = s.timestamp()
	return nil
}

func (s *Store) transition(jobID uuid.UUID, workerID, status string, nextAttemptAt *time.Time, je *types.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok || !heldBy(&rec.job, workerID) {
		return db.ErrLeaseLost
	}
	rec.job.Status = status
	if nextAttemptAt != nil {
		rec.job.NextAttemptAt = *nextAttemptAt
	}
	if je != nil {
		cp := *je
		rec.job.LastError = &cp
	}
	rec.job.LockedBy = nil
	rec.job.LockedAt = nil
	rec.job.UpdatedAt = s.timestamp()
	return nil
}

// MarkWaiting schedules the job for a later attempt
func (s *Store) MarkWaiting(_ context.Context, jobID uuid.UUID, workerID string, nextAttemptAt time.Time, je *types.JobError) error {
	return s.transition(jobID, workerID, types.JobStatusWaiting, &nextAttemptAt, je)
}

// MarkSucceeded completes the job
func (s *Store) MarkSucceeded(_ context.Context, jobID uuid.UUID, workerID string) error {
	return s.transition(jobID, workerID, types.JobStatusSucceeded, nil, nil)
}

// MarkFailed fails the job permanently
func (s *Store) MarkFailed(_ context.Context, jobID uuid.UUID, workerID string, je *types.JobError) error {
	return s.transition(jobID, workerID, types.JobStatusFailed, nil, je)
}

// RequeueJob makes a queued or waiting job due immediately.
func (s *Store) RequeueJob(_ context.Context, generationID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.jobByGeneration(generationID)
	if rec == nil {
		return false, nil
	}
	switch rec.job.Status {
	case types.JobStatusQueued, types.JobStatusWaiting:
	default:
		return false, nil
	}
	now := s.timestamp()
	rec.job.Status = types.JobStatusQueued
	rec.job.NextAttemptAt = now
	rec.job.UpdatedAt = now
	return true, nil
}

// CancelJob cancels a queued or waiting job that nobody holds.
func (s *Store) CancelJob(_ context.Context, generationID uuid.UUID, lease time.Duration, je *types.JobError) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timestamp()
	rec := s.jobByGeneration(generationID)
	if rec == nil {
		return nil, nil
	}
	switch rec.job.Status {
	case types.JobStatusQueued, types.JobStatusWaiting:
	default:
		return nil, nil
	}
	if rec.job.LockHeld(now, lease) {
		return nil, nil
	}
	rec.job.Status = types.JobStatusCancelled
	if je != nil {
		cp := *je
		rec.job.LastError = &cp
	}
	rec.job.LockedBy = nil
	rec.job.LockedAt = nil
	rec.job.UpdatedAt = now
	return copyJob(rec.job), nil
}
