package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/design2code/internal/types"
)

// -----------------------------------------------------------------------------
// Generation Jobs Methods
// -----------------------------------------------------------------------------

const jobColumns = `id, owner_id, project_id, generation_id, status, attempt_count,
	next_attempt_at, locked_by, locked_at, last_error, created_at, updated_at`

// claimableCondition matches jobs that are not terminal, are due, and carry
// no live lease. A running job whose lease expired belongs to a dead worker
// and is reclaimed. $lease is the lease length in seconds.
const claimableCondition = `status IN ('queued', 'running', 'waiting')
	AND next_attempt_at <= NOW()
	AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < NOW() - make_interval(secs => %s))`

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var lastError []byte
	if err := row.Scan(&job.ID, &job.OwnerID, &job.ProjectID, &job.GenerationID,
		&job.Status, &job.AttemptCount, &job.NextAttemptAt, &job.LockedBy,
		&job.LockedAt, &lastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if len(lastError) > 0 {
		var je types.JobError
		if err := json.Unmarshal(lastError, &je); err == nil {
			job.LastError = &je
		}
	}
	return &job, nil
}

func marshalJobError(je *types.JobError) ([]byte, error) {
	if je == nil {
		return nil, nil
	}
	b, err := json.Marshal(je)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job error: %w", err)
	}
	return b, nil
}

// CreateJob inserts a queued job for a generation. It returns a
// *DuplicateJobError if the project already has an active job.
func (db *DB) CreateJob(ctx context.Context, ownerID, projectID, generationID uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`INSERT INTO generation_jobs (owner_id, project_id, generation_id, status, attempt_count, next_attempt_at)
		 VALUES ($1, $2, $3, 'queued', 0, NOW())
		 RETURNING `+jobColumns,
		ownerID, projectID, generationID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateJobError{ProjectID: projectID, GenerationID: generationID}
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJobByGenerationID retrieves the job populating a generation
func (db *DB) GetJobByGenerationID(ctx context.Context, generationID uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE generation_id = $1`,
		generationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetActiveJobForProject returns the most recent queued, running or waiting
// job for a project, or nil.
func (db *DB) GetActiveJobForProject(ctx context.Context, ownerID, projectID uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM generation_jobs
		 WHERE owner_id = $1 AND project_id = $2 AND status IN ('queued', 'running', 'waiting')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		ownerID, projectID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return job, nil
}

// ClaimJob takes the lease on a generation's job for workerID. It returns nil
// when there is no job, the job is terminal or not yet due, another worker
// holds a live lease, or a concurrent claim won the race.
func (db *DB) ClaimJob(ctx context.Context, generationID uuid.UUID, workerID string, lease time.Duration) (*types.Job, error) {
	current, err := db.GetJobByGenerationID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if current == nil || !types.IsActiveJobStatus(current.Status) {
		return nil, nil
	}

	// Compare-and-swap on the lock owner observed above.
	job, err := scanJob(db.pool.QueryRow(ctx,
		`UPDATE generation_jobs
		 SET locked_by = $2, locked_at = NOW(), status = 'running',
		     attempt_count = attempt_count + 1, updated_at = NOW()
		 WHERE id = $1
		   AND locked_by IS NOT DISTINCT FROM $3
		   AND locked_at IS NOT DISTINCT FROM $4
		   AND `+fmt.Sprintf(claimableCondition, "$5")+`
		 RETURNING `+jobColumns,
		current.ID, workerID, current.LockedBy, current.LockedAt, lease.Seconds(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// ClaimDueJobs claims up to limit due jobs for workerID in one statement.
// Rows locked by a concurrent claimer are skipped.
func (db *DB) ClaimDueJobs(ctx context.Context, limit int, workerID string, lease time.Duration) ([]types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`WITH due AS (
		     SELECT id FROM generation_jobs
		     WHERE `+fmt.Sprintf(claimableCondition, "$3")+`
		     ORDER BY next_attempt_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE generation_jobs j
		 SET locked_by = $2, locked_at = NOW(), status = 'running',
		     attempt_count = j.attempt_count + 1, updated_at = NOW()
		 FROM due
		 WHERE j.id = due.id
		 RETURNING j.id, j.owner_id, j.project_id, j.generation_id, j.status, j.attempt_count,
		           j.next_attempt_at, j.locked_by, j.locked_at, j.last_error, j.created_at, j.updated_at`,
		limit, workerID, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed jobs: %w", err)
	}
	return jobs, nil
}

// ReleaseJob clears the lock if workerID still holds it
func (db *DB) ReleaseJob(ctx context.Context, jobID uuid.UUID, workerID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET locked_by = NULL, locked_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND locked_by = $2`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// transition moves a job held by workerID to a new status and clears the lock.
func (db *DB) transition(ctx context.Context, jobID uuid.UUID, workerID, status string, nextAttemptAt *time.Time, je *types.JobError) error {
	lastError, err := marshalJobError(je)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = $3,
		     next_attempt_at = COALESCE($4, next_attempt_at),
		     last_error = COALESCE($5, last_error),
		     locked_by = NULL, locked_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND locked_by = $2`,
		jobID, workerID, status, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// MarkWaiting schedules the job for a later attempt
func (db *DB) MarkWaiting(ctx context.Context, jobID uuid.UUID, workerID string, nextAttemptAt time.Time, je *types.JobError) error {
	return db.transition(ctx, jobID, workerID, types.JobStatusWaiting, &nextAttemptAt, je)
}

// MarkSucceeded completes the job
func (db *DB) MarkSucceeded(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return db.transition(ctx, jobID, workerID, types.JobStatusSucceeded, nil, nil)
}

// MarkFailed fails the job permanently
func (db *DB) MarkFailed(ctx context.Context, jobID uuid.UUID, workerID string, je *types.JobError) error {
	return db.transition(ctx, jobID, workerID, types.JobStatusFailed, nil, je)
}

// RequeueJob makes a queued or waiting job due immediately. Terminal and
// running jobs are left alone; the return value reports whether a row changed.
func (db *DB) RequeueJob(ctx context.Context, generationID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = 'queued', next_attempt_at = NOW(), updated_at = NOW()
		 WHERE generation_id = $1 AND status IN ('queued', 'waiting')`,
		generationID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelJob cancels a queued or waiting job that nobody holds. It returns
// nil if the job is missing, running or already terminal.
func (db *DB) CancelJob(ctx context.Context, generationID uuid.UUID, lease time.Duration, je *types.JobError) (*types.Job, error) {
	lastError, err := marshalJobError(je)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(db.pool.QueryRow(ctx,
		`UPDATE generation_jobs
		 SET status = 'cancelled', last_error = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		 WHERE generation_id = $1
		   AND status IN ('queued', 'waiting')
		   AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $3))
		 RETURNING `+jobColumns,
		generationID, lastError, lease.Seconds(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	return job, nil
}
