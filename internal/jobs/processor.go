package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/metrics"
	"github.com/jonathan/design2code/internal/pipeline"
	"github.com/jonathan/design2code/internal/types"
)

// releaseTimeout bounds the lock release that runs after a job finishes,
// even when the triggering request has already gone away.
const releaseTimeout = 5 * time.Second

// Generation wait states written into error_json.
const (
	StateWaitingRateLimit = "waiting_rate_limit"
	StateCancelled        = "cancelled"
)

// Result is the outcome of processing one job.
type Result struct {
	GenerationID  string     `json:"generationId"`
	JobID         string     `json:"jobId"`
	Status        string     `json:"status"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// waitMarker is the generation error_json of a job backing off.
type waitMarker struct {
	State         string    `json:"state"`
	RetryAfterSec int       `json:"retryAfterSec"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
}

// failureMarker is the generation error_json of a failed or cancelled run.
type failureMarker struct {
	State   string `json:"state,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ProcessorConfig holds the tunables of a Processor.
type ProcessorConfig struct {
	Retry RetryPolicy
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Processor executes claimed jobs.
type Processor struct {
	store  Store
	creds  CredentialSource
	figma  pipeline.Generator
	mock   pipeline.Generator
	retry  RetryPolicy
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewProcessor creates a processor. figmaGen serves projects whose source
// needs the owner's credential; mockGen serves everything else.
func NewProcessor(store Store, creds CredentialSource, figmaGen, mockGen pipeline.Generator, cfg ProcessorConfig) *Processor {
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		store:  store,
		creds:  creds,
		figma:  figmaGen,
		mock:   mockGen,
		retry:  cfg.Retry,
		now:    cfg.Now,
		logger: zap.S().Named("jobs"),
	}
}

// ProcessJob runs a job that the caller has claimed. The worker identity is
// the job's lock owner. The lock is released when ProcessJob returns,
// whatever the outcome.
//
// Missing records and missing credentials fail the job permanently. A rate
// limit moves the job to waiting and leaves the generation running. Any
// other pipeline error fails both the job and the generation.
func (p *Processor) ProcessJob(ctx context.Context, job *types.Job) (*Result, error) {
	if job.LockedBy == nil || *job.LockedBy == "" {
		return nil, ErrNotClaimed
	}
	workerID := *job.LockedBy
	log := p.logger.With("job_id", job.ID, "generation_id", job.GenerationID, "worker_id", workerID)

	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := p.store.ReleaseJob(relCtx, job.ID, workerID); err != nil {
			log.Warnw("failed to release job", "error", err)
		}
	}()

	result := &Result{GenerationID: job.GenerationID.String(), JobID: job.ID.String()}

	gen, err := p.store.GetGeneration(ctx, job.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation: %w", err)
	}
	if gen == nil {
		return p.fail(ctx, job, workerID, result, false, types.JobErrorGenerationNotFound, "generation not found")
	}

	if gen.Status == types.GenerationStatusSucceeded {
		log.Infow("generation already succeeded")
		if err := p.store.MarkSucceeded(ctx, job.ID, workerID); err != nil {
			return nil, err
		}
		metrics.IncreaseJobOutcome(types.JobStatusSucceeded)
		result.Status = types.JobStatusSucceeded
		return result, nil
	}

	project, err := p.store.GetProject(ctx, gen.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return p.fail(ctx, job, workerID, result, true, types.JobErrorProjectNotFound, "project not found")
	}
	if gen.SourceURL != "" {
		// Run against the source the generation was created for.
		project.SourceURL = gen.SourceURL
		project.FileKey = gen.FileKey
		project.NodeID = gen.NodeID
	}

	in := pipeline.Input{
		OwnerID:      job.OwnerID,
		Project:      *project,
		GenerationID: gen.ID,
		OnProgress: func(e pipeline.ProgressEvent) {
			log.Debugw("pipeline progress", "step", e.Step, "message", e.Message)
		},
	}
	generator := p.mock
	if pipeline.NeedsCredential(*project) {
		token, err := p.creds.Get(ctx, job.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential: %w", err)
		}
		if token == "" {
			return p.fail(ctx, job, workerID, result, true, types.JobErrorMissingCredential,
				"a Figma access token is required for this source; add one in settings")
		}
		in.Token = token
		generator = p.figma
	} else {
		in.FallbackReason = pipeline.ReasonNonFigmaSource
	}

	started := p.now().UTC()
	if err := p.store.UpdateGeneration(ctx, gen.ID, types.GenerationUpdate{
		Status:     types.GenerationStatusRunning,
		StartedAt:  &started,
		ClearError: true,
	}); err != nil {
		return nil, err
	}

	log.Infow("running pipeline", "pipeline", generator.Name(), "attempt", job.AttemptCount)
	art, err := generator.Generate(ctx, in)
	if err == nil {
		err = p.store.SaveArtifacts(ctx, gen.ID, art)
	}
	if err != nil {
		var rl *figma.RateLimitError
		if errors.As(err, &rl) {
			return p.wait(ctx, job, workerID, result, rl)
		}
		log.Warnw("pipeline failed", "error", err)
		return p.fail(ctx, job, workerID, result, true, types.JobErrorGenerationFailed, err.Error())
	}

	finished := p.now().UTC()
	if err := p.store.UpdateGeneration(ctx, gen.ID, types.GenerationUpdate{
		Status:     types.GenerationStatusSucceeded,
		FinishedAt: &finished,
		ClearError: true,
	}); err != nil {
		return nil, err
	}
	if err := p.store.MarkSucceeded(ctx, job.ID, workerID); err != nil {
		return nil, err
	}

	log.Infow("job succeeded", "files", len(art.Files))
	metrics.IncreaseJobOutcome(types.JobStatusSucceeded)
	result.Status = types.JobStatusSucceeded
	return result, nil
}

// wait schedules the next attempt after a rate limit. The generation stays
// running and records when the retry is due.
func (p *Processor) wait(ctx context.Context, job *types.Job, workerID string, result *Result, rl *figma.RateLimitError) (*Result, error) {
	delay := p.retry.ClampRetryAfter(rl.RetryAfterSec)
	next := p.now().UTC().Add(delay)
	sec := int(delay / time.Second)

	marker, err := json.Marshal(waitMarker{State: StateWaitingRateLimit, RetryAfterSec: sec, NextAttemptAt: next})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wait state: %w", err)
	}
	if err := p.store.UpdateGeneration(ctx, job.GenerationID, types.GenerationUpdate{
		Status:    types.GenerationStatusRunning,
		ErrorJSON: marker,
	}); err != nil {
		return nil, err
	}

	je := &types.JobError{Kind: types.JobErrorRateLimited, Message: rl.Error(), RetryAfterSec: &sec, At: p.now().UTC()}
	if err := p.store.MarkWaiting(ctx, job.ID, workerID, next, je); err != nil {
		return nil, err
	}

	p.logger.Infow("job rate limited", "job_id", job.ID, "retry_after_sec", sec, "next_attempt_at", next)
	metrics.IncreaseJobOutcome(types.JobStatusWaiting)
	result.Status = types.JobStatusWaiting
	result.NextAttemptAt = &next
	result.Error = rl.Error()
	return result, nil
}

// fail marks the job failed and, when updateGeneration is set, the generation too.
func (p *Processor) fail(ctx context.Context, job *types.Job, workerID string, result *Result, updateGeneration bool, kind, message string) (*Result, error) {
	now := p.now().UTC()
	if updateGeneration {
		marker, err := json.Marshal(failureMarker{Kind: kind, Message: message})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal failure: %w", err)
		}
		if err := p.store.UpdateGeneration(ctx, job.GenerationID, types.GenerationUpdate{
			Status:     types.GenerationStatusFailed,
			FinishedAt: &now,
			ErrorJSON:  marker,
		}); err != nil {
			return nil, err
		}
	}

	if err := p.store.MarkFailed(ctx, job.ID, workerID, &types.JobError{Kind: kind, Message: message, At: now}); err != nil {
		return nil, err
	}

	p.logger.Warnw("job failed", "job_id", job.ID, "kind", kind, "message", message)
	metrics.IncreaseJobOutcome(types.JobStatusFailed)
	result.Status = types.JobStatusFailed
	result.Error = message
	return result, nil
}
