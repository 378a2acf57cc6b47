package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/metrics"
	"github.com/jonathan/design2code/internal/types"
)

// Triggers that feed the claim-and-run path. Each is also the prefix of the
// worker identities it mints.
const (
	TriggerCron   = "cron"
	TriggerInline = "inline"
	TriggerPoll   = "poll"
	TriggerWorker = "worker"
)

// Default cron batch limits and lease.
const (
	DefaultCronLimit = 5
	DefaultMaxLimit  = 10
	DefaultLease     = 300 * time.Second
)

// WorkerID mints a fresh worker identity for a trigger.
func WorkerID(trigger string) string {
	return trigger + ":" + uuid.NewString()
}

// CronSummary is the response of one batch run.
type CronSummary struct {
	OK       bool     `json:"ok"`
	WorkerID string   `json:"workerId"`
	Claimed  int      `json:"claimed"`
	Results  []Result `json:"results"`
}

// RunnerConfig holds the tunables of a Runner.
type RunnerConfig struct {
	Lease        time.Duration
	DefaultLimit int
	MaxLimit     int
	Now          func() time.Time
}

// Runner exposes the claim-and-run primitive to the triggers.
type Runner struct {
	store  Store
	proc   *Processor
	cfg    RunnerConfig
	logger *zap.SugaredLogger
}

// NewRunner creates a runner over proc.
func NewRunner(store Store, proc *Processor, cfg RunnerConfig) *Runner {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = min(DefaultCronLimit, cfg.MaxLimit)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{store: store, proc: proc, cfg: cfg, logger: zap.S().Named("jobs")}
}

// Lease returns the lock TTL used for claims.
func (r *Runner) Lease() time.Duration {
	return r.cfg.Lease
}

// ClampLimit maps a requested batch size onto [1, MaxLimit]; zero or
// negative selects the default.
func (r *Runner) ClampLimit(limit int) int {
	if limit <= 0 {
		return r.cfg.DefaultLimit
	}
	if limit > r.cfg.MaxLimit {
		return r.cfg.MaxLimit
	}
	return limit
}

// RunDue claims up to limit due jobs under one worker identity and
// processes them one after another. Losing some claims to a concurrent
// worker is expected.
func (r *Runner) RunDue(ctx context.Context, trigger string, limit int) (*CronSummary, error) {
	workerID := WorkerID(trigger)
	limit = r.ClampLimit(limit)

	claimed, err := r.store.ClaimDueJobs(ctx, limit, workerID, r.cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	metrics.IncreaseJobsClaimed(trigger, len(claimed))

	summary := &CronSummary{OK: true, WorkerID: workerID, Claimed: len(claimed), Results: make([]Result, 0, len(claimed))}
	for i := range claimed {
		job := &claimed[i]
		res, err := r.proc.ProcessJob(ctx, job)
		if err != nil {
			r.logger.Errorw("failed to process job", "trigger", trigger, "job_id", job.ID, "error", err)
			res = &Result{
				GenerationID: job.GenerationID.String(),
				JobID:        job.ID.String(),
				Status:       "error",
				Error:        err.Error(),
			}
		}
		summary.Results = append(summary.Results, *res)
	}

	if len(claimed) > 0 {
		r.logger.Infow("processed due jobs", "trigger", trigger, "worker_id", workerID, "claimed", len(claimed))
	}
	return summary, nil
}

// RunCron is the cron trigger.
func (r *Runner) RunCron(ctx context.Context, limit int) (*CronSummary, error) {
	return r.RunDue(ctx, TriggerCron, limit)
}

// RunInline makes one best-effort attempt at a generation's job from inside
// the request that created it. It returns nil when the job could not be
// claimed or processing failed; the background triggers retry later.
func (r *Runner) RunInline(ctx context.Context, generationID uuid.UUID) *Result {
	return r.claimAndRun(ctx, TriggerInline, generationID)
}

// RunPoll runs a generation's job from a status read when the job is due and
// unlocked. Errors never reach the caller.
func (r *Runner) RunPoll(ctx context.Context, generationID uuid.UUID) *Result {
	job, err := r.store.GetJobByGenerationID(ctx, generationID)
	if err != nil {
		r.logger.Warnw("status poll lookup failed", "generation_id", generationID, "error", err)
		return nil
	}
	if job == nil || !job.Claimable(r.cfg.Now(), r.cfg.Lease) {
		return nil
	}
	return r.claimAndRun(ctx, TriggerPoll, generationID)
}

func (r *Runner) claimAndRun(ctx context.Context, trigger string, generationID uuid.UUID) *Result {
	workerID := WorkerID(trigger)
	job, err := r.store.ClaimJob(ctx, generationID, workerID, r.cfg.Lease)
	if err != nil {
		r.logger.Warnw("claim failed", "trigger", trigger, "generation_id", generationID, "error", err)
		return nil
	}
	if job == nil {
		return nil
	}
	metrics.IncreaseJobsClaimed(trigger, 1)

	res, err := r.proc.ProcessJob(ctx, job)
	if err != nil {
		r.logger.Warnw("job processing failed", "trigger", trigger, "job_id", job.ID, "error", err)
		return nil
	}
	return res
}

// Kick makes a queued or waiting job due now. A running job is left alone.
// Terminal jobs are never resurrected.
func (r *Runner) Kick(ctx context.Context, generationID uuid.UUID) error {
	ok, err := r.store.RequeueJob(ctx, generationID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	job, err := r.store.GetJobByGenerationID(ctx, generationID)
	if err != nil {
		return err
	}
	switch {
	case job == nil:
		return ErrJobNotFound
	case types.IsTerminalJobStatus(job.Status):
		return ErrNotKickable
	}
	return nil
}

// Cancel cancels a queued or waiting job and fails its generation.
func (r *Runner) Cancel(ctx context.Context, generationID uuid.UUID) (*types.Job, error) {
	now := r.cfg.Now().UTC()
	job, err := r.store.CancelJob(ctx, generationID, r.cfg.Lease, &types.JobError{
		Kind:    types.JobErrorCancelled,
		Message: "cancelled by owner",
		At:      now,
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		existing, err := r.store.GetJobByGenerationID(ctx, generationID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrJobNotFound
		}
		return nil, ErrNotCancellable
	}

	marker, err := json.Marshal(failureMarker{State: StateCancelled, Kind: types.JobErrorCancelled, Message: "cancelled by owner"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cancel state: %w", err)
	}
	if err := r.store.UpdateGeneration(ctx, generationID, types.GenerationUpdate{
		Status:     types.GenerationStatusFailed,
		FinishedAt: &now,
		ErrorJSON:  marker,
	}); err != nil {
		return nil, err
	}

	metrics.IncreaseJobOutcome(types.JobStatusCancelled)
	r.logger.Infow("job cancelled", "job_id", job.ID, "generation_id", generationID)
	return job, nil
}
