// Package generation decides what a caller sees right away when it asks for
// a generation, while the authoritative run proceeds through the job system.
//
// A request is answered with the newest succeeded generation of the project
// when one exists, or with a provisional generation rendered by the mock
// pipeline on the spot. When the caller can use the real pipeline, a second
// generation and its job are created and run once inline; the client polls
// that generation and switches to it when it completes.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/metrics"
	"github.com/jonathan/design2code/internal/pipeline"
	"github.com/jonathan/design2code/internal/types"
)

// Request modes reported to metrics.
const (
	ModeCached      = "cached"
	ModeProvisional = "provisional"
	ModeEphemeral   = "ephemeral"
	ModeUpdating    = "updating"
)

const (
	provisionalNote  = "Showing a template result right away; the full generation runs in the background."
	regenerationNote = "Showing a template result while the regeneration runs in the background."
	ephemeralNote    = "Storage is unavailable; this result was not saved."
)

// ErrNotFound is returned when a generation does not exist or belongs to
// another owner.
var ErrNotFound = errors.New("generation not found")

// ErrProjectNotFound is returned when a project does not exist or belongs to
// another owner.
var ErrProjectNotFound = errors.New("project not found")

// ErrProfileNotFound is returned when a requested profile does not exist or
// belongs to another owner.
var ErrProfileNotFound = errors.New("profile not found")

// Store is the persistence surface of the service.
type Store interface {
	jobs.Store

	// UpdateProjectSource points an existing project at a new source. It
	// returns db.ErrProjectSourceTaken when the owner has another project
	// for that source.
	UpdateProjectSource(ctx context.Context, id uuid.UUID, in types.ProjectInput) (*types.Project, error)
	ListProjects(ctx context.Context, ownerID uuid.UUID) ([]types.ProjectSummary, error)
	DeleteProject(ctx context.Context, ownerID, id uuid.UUID) (bool, error)

	GetProfile(ctx context.Context, id uuid.UUID) (*types.Profile, error)
	EnsureDefaultProfile(ctx context.Context, ownerID uuid.UUID) (*types.Profile, error)
	ListProfiles(ctx context.Context, ownerID uuid.UUID) ([]types.Profile, error)
}

// Credentials reports whether an owner has stored a design-source token.
type Credentials interface {
	Has(ctx context.Context, ownerID uuid.UUID) (bool, error)
}

// provisionalMarker is the error_json of a provisional generation.
type provisionalMarker struct {
	Provisional bool              `json:"provisional"`
	Fallback    pipeline.Fallback `json:"fallback"`
	Note        string            `json:"note"`
}

// JobStatus is the job summary returned by Status.
type JobStatus struct {
	Status        string          `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     *types.JobError `json:"lastError"`
}

// StatusResponse is the answer to a status poll.
type StatusResponse struct {
	Generation     *types.Generation `json:"generation"`
	Job            *JobStatus        `json:"job"`
	CronConfigured bool              `json:"cronConfigured"`
}

// RegenerateResponse is the JSON form of a regenerate outcome.
type RegenerateResponse struct {
	ProjectID            uuid.UUID  `json:"projectId"`
	GenerationID         uuid.UUID  `json:"generationId"`
	UpdatingGenerationID *uuid.UUID `json:"updatingGenerationId"`
	Location             string     `json:"location"`
}

// Config holds the tunables of a Service.
type Config struct {
	CronConfigured bool
	Now            func() time.Time
}

// Service implements the request-path generation flows.
type Service struct {
	store  Store
	runner *jobs.Runner
	creds  Credentials
	mock   pipeline.Generator
	cfg    Config
	logger *zap.SugaredLogger
}

// NewService creates the service.
func NewService(store Store, runner *jobs.Runner, creds Credentials, mock pipeline.Generator, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:  store,
		runner: runner,
		creds:  creds,
		mock:   mock,
		cfg:    cfg,
		logger: zap.S().Named("generation"),
	}
}

// ProjectName is the default name of a project created from src.
func ProjectName(src figma.Source) string {
	key := src.FileKey
	if len(key) > 6 {
		key = key[:6]
	}
	return fmt.Sprintf("Project %s / %s", key, src.NodeID)
}

// GenerationPath is the page of a generation.
func GenerationPath(projectID, generationID uuid.UUID) string {
	return fmt.Sprintf("/projects/%s/generations/%s", projectID, generationID)
}

// Generate answers a create-generation request. When the project cannot be
// persisted the mock pipeline runs against temporary ids and the bundle is
// returned inline.
func (s *Service) Generate(ctx context.Context, ownerID uuid.UUID, req types.GenerateRequest) (*types.GenerateResponse, error) {
	src := figma.ParseSource(req.SourceURL)
	hasToken := false
	if src.IsFigma {
		has, err := s.creds.Has(ctx, ownerID)
		if err != nil {
			s.logger.Warnw("credential lookup failed", "owner_id", ownerID, "error", err)
		}
		hasToken = has
	}

	project, err := s.resolveProject(ctx, ownerID, req, src)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		s.logger.Warnw("project store unavailable, answering in ephemeral mode", "owner_id", ownerID, "error", err)
		return s.ephemeral(ctx, ownerID, src)
	}
	profileID, err := s.profileFor(ctx, ownerID, project)
	if err != nil {
		return nil, err
	}

	resp := &types.GenerateResponse{
		Saved:           true,
		ProjectID:       &project.ID,
		NeedsCredential: src.IsFigma && !hasToken,
	}

	cached, err := s.store.LatestSucceededGeneration(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	var baseID uuid.UUID
	if cached != nil {
		baseID = cached.ID
		resp.Cached = true
		metrics.IncreaseGenerateRequest(ModeCached)
	} else {
		prov, err := s.provisional(ctx, ownerID, project, profileID, provisionalNote)
		if err != nil {
			return nil, err
		}
		baseID = prov.ID
		resp.Provisional = true
		metrics.IncreaseGenerateRequest(ModeProvisional)
	}
	resp.GenerationID = &baseID

	if hasToken {
		realID, _, err := s.startReal(ctx, ownerID, project, profileID)
		if err != nil {
			return nil, err
		}
		resp.UpdatingGenerationID = &realID
		metrics.IncreaseGenerateRequest(ModeUpdating)
	}

	s.logger.Infow("generate answered",
		"project_id", project.ID,
		"generation_id", baseID,
		"updating_generation_id", resp.UpdatingGenerationID,
		"cached", resp.Cached,
		"has_token", hasToken)
	return resp, nil
}

// resolveProject returns the project named by req.ProjectID when the caller
// owns it, pointed at src, or the project for the source's natural key. A
// requested profile becomes the project's default.
func (s *Service) resolveProject(ctx context.Context, ownerID uuid.UUID, req types.GenerateRequest, src figma.Source) (*types.Project, error) {
	if req.ProfileID != nil {
		prof, err := s.store.GetProfile(ctx, *req.ProfileID)
		if err != nil {
			return nil, err
		}
		if prof == nil || prof.OwnerID != ownerID {
			return nil, ErrProfileNotFound
		}
	}

	in := types.ProjectInput{
		OwnerID:          ownerID,
		Name:             ProjectName(src),
		SourceURL:        src.URL,
		FileKey:          src.FileKey,
		NodeID:           src.NodeID,
		DefaultProfileID: req.ProfileID,
	}
	if req.ProjectID != nil {
		p, err := s.store.GetProject(ctx, *req.ProjectID)
		if err != nil {
			return nil, err
		}
		if p != nil && p.OwnerID == ownerID {
			if p.SameSource(src.FileKey, src.NodeID) {
				if p.SourceURL == src.URL && req.ProfileID == nil {
					return p, nil
				}
				return s.store.UpsertProject(ctx, in)
			}
			updated, err := s.store.UpdateProjectSource(ctx, p.ID, in)
			switch {
			case err == nil && updated != nil:
				s.logger.Infow("project source changed",
					"project_id", p.ID,
					"from", p.FileKey+"/"+p.NodeID,
					"to", src.FileKey+"/"+src.NodeID)
				return updated, nil
			case err != nil && !errors.Is(err, db.ErrProjectSourceTaken):
				return nil, err
			}
			// The owner already has a project for the new source.
		}
	}
	return s.store.UpsertProject(ctx, in)
}

// profileFor returns the profile new generations of project use: its
// default, or the owner's default profile.
func (s *Service) profileFor(ctx context.Context, ownerID uuid.UUID, project *types.Project) (*uuid.UUID, error) {
	if project.DefaultProfileID != nil {
		return project.DefaultProfileID, nil
	}
	prof, err := s.store.EnsureDefaultProfile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &prof.ID, nil
}

// provisional renders and stores a succeeded mock generation flagged as
// provisional.
func (s *Service) provisional(ctx context.Context, ownerID uuid.UUID, project *types.Project, profileID *uuid.UUID, note string) (*types.Generation, error) {
	gen, err := s.store.CreateGeneration(ctx, project.ID, profileID)
	if err != nil {
		return nil, err
	}

	art, err := s.mock.Generate(ctx, pipeline.Input{
		OwnerID:        ownerID,
		Project:        *project,
		GenerationID:   gen.ID,
		FallbackReason: pipeline.ReasonProvisional,
		Note:           note,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render provisional result: %w", err)
	}
	if err := s.store.SaveArtifacts(ctx, gen.ID, art); err != nil {
		return nil, err
	}

	marker, err := json.Marshal(provisionalMarker{
		Provisional: true,
		Fallback:    pipeline.Fallback{Type: pipeline.NameMock, Reason: pipeline.ReasonProvisional},
		Note:        note,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provisional marker: %w", err)
	}
	finished := s.cfg.Now().UTC()
	if err := s.store.UpdateGeneration(ctx, gen.ID, types.GenerationUpdate{
		Status:     types.GenerationStatusSucceeded,
		FinishedAt: &finished,
		ErrorJSON:  marker,
	}); err != nil {
		return nil, err
	}
	return gen, nil
}

// startReal reuses the project's active job, or creates a generation and
// job and makes one inline attempt. It returns the generation the client
// should wait for and the inline result, nil when the job was reused or the
// attempt did not run.
func (s *Service) startReal(ctx context.Context, ownerID uuid.UUID, project *types.Project, profileID *uuid.UUID) (uuid.UUID, *jobs.Result, error) {
	active, err := s.store.GetActiveJobForProject(ctx, ownerID, project.ID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if active != nil {
		reuse, err := s.reuseActive(ctx, ownerID, project, active)
		if err != nil {
			return uuid.Nil, nil, err
		}
		if reuse {
			return active.GenerationID, nil, nil
		}
	}

	gen, err := s.store.CreateGeneration(ctx, project.ID, profileID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if _, createErr := s.store.CreateJob(ctx, ownerID, project.ID, gen.ID); createErr != nil {
		var dup *db.DuplicateJobError
		if !errors.As(createErr, &dup) {
			return uuid.Nil, nil, createErr
		}
		// A concurrent request created the job first.
		if err := s.store.DeleteGeneration(ctx, gen.ID); err != nil {
			s.logger.Warnw("failed to delete orphan generation", "generation_id", gen.ID, "error", err)
		}
		active, err := s.store.GetActiveJobForProject(ctx, ownerID, project.ID)
		if err != nil {
			return uuid.Nil, nil, err
		}
		if active == nil {
			return uuid.Nil, nil, createErr
		}
		return active.GenerationID, nil, nil
	}

	return gen.ID, s.runner.RunInline(ctx, gen.ID), nil
}

// reuseActive reports whether the active job still serves project. A job
// started for a previous source of the project is cancelled unless a worker
// holds it, in which case it is reused until it finishes.
func (s *Service) reuseActive(ctx context.Context, ownerID uuid.UUID, project *types.Project, active *types.Job) (bool, error) {
	gen, err := s.store.GetGeneration(ctx, active.GenerationID)
	if err != nil {
		return false, err
	}
	if gen == nil || gen.SourceURL == "" || project.SameSource(gen.FileKey, gen.NodeID) {
		return true, nil
	}
	if _, err := s.runner.Cancel(ctx, active.GenerationID); err != nil {
		if errors.Is(err, jobs.ErrNotCancellable) {
			s.logger.Infow("active job for previous source is running, reusing it",
				"owner_id", ownerID, "project_id", project.ID, "generation_id", active.GenerationID)
			return true, nil
		}
		return false, err
	}
	s.logger.Infow("cancelled job for previous source",
		"project_id", project.ID, "generation_id", active.GenerationID)
	return false, nil
}

// ephemeral runs the mock pipeline against temporary ids and returns the
// bundle without storing anything.
func (s *Service) ephemeral(ctx context.Context, ownerID uuid.UUID, src figma.Source) (*types.GenerateResponse, error) {
	now := s.cfg.Now().UTC()
	project := types.Project{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      ProjectName(src),
		SourceURL: src.URL,
		FileKey:   src.FileKey,
		NodeID:    src.NodeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	genID := uuid.New()

	art, err := s.mock.Generate(ctx, pipeline.Input{
		OwnerID:        ownerID,
		Project:        project,
		GenerationID:   genID,
		FallbackReason: pipeline.ReasonEphemeral,
		Note:           ephemeralNote,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render ephemeral result: %w", err)
	}

	marker, err := json.Marshal(provisionalMarker{
		Provisional: true,
		Fallback:    pipeline.Fallback{Type: pipeline.NameMock, Reason: pipeline.ReasonEphemeral},
		Note:        ephemeralNote,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provisional marker: %w", err)
	}

	hash := art.SnapshotHash
	mappings := art.Mappings
	if mappings == nil {
		mappings = []types.Mapping{}
	}
	metrics.IncreaseGenerateRequest(ModeEphemeral)
	return &types.GenerateResponse{
		Saved: false,
		Bundle: &types.Bundle{
			Project: project,
			Generation: types.Generation{
				ID:           genID,
				ProjectID:    project.ID,
				Status:       types.GenerationStatusSucceeded,
				FileKey:      project.FileKey,
				NodeID:       project.NodeID,
				SourceURL:    project.SourceURL,
				SnapshotHash: &hash,
				IR:           art.IR,
				Report:       art.Report,
				ErrorJSON:    marker,
				StartedAt:    &now,
				FinishedAt:   &now,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			Files:    art.Files,
			Mappings: mappings,
		},
	}, nil
}

// owned loads a generation and its project, returning ErrNotFound when
// either is missing or the project belongs to someone else.
func (s *Service) owned(ctx context.Context, ownerID, generationID uuid.UUID) (*types.Generation, *types.Project, error) {
	gen, err := s.store.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, nil, err
	}
	if gen == nil {
		return nil, nil, ErrNotFound
	}
	project, err := s.store.GetProject(ctx, gen.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil || project.OwnerID != ownerID {
		return nil, nil, ErrNotFound
	}
	return gen, project, nil
}

// Authorize returns ErrNotFound unless ownerID owns the generation.
func (s *Service) Authorize(ctx context.Context, ownerID, generationID uuid.UUID) error {
	_, _, err := s.owned(ctx, ownerID, generationID)
	return err
}

// Regenerate starts a fresh authoritative run for the generation's project,
// reusing the active job when one exists. When the inline attempt completes
// the caller is sent to the new generation; otherwise to an immediately
// viewable generation with the pending one as "updating".
func (s *Service) Regenerate(ctx context.Context, ownerID, generationID uuid.UUID, wantJSON bool) (Outcome, error) {
	gen, project, err := s.owned(ctx, ownerID, generationID)
	if err != nil {
		return Outcome{}, err
	}

	realID, res, err := s.startReal(ctx, ownerID, project, gen.ProfileID)
	if err != nil {
		return Outcome{}, err
	}

	resp := RegenerateResponse{ProjectID: project.ID}
	if res != nil && res.Status == types.JobStatusSucceeded {
		resp.GenerationID = realID
		resp.Location = GenerationPath(project.ID, realID)
		return s.outcome(resp, wantJSON), nil
	}

	immediate := uuid.Nil
	if gen.Status == types.GenerationStatusSucceeded {
		immediate = gen.ID
	} else {
		latest, err := s.store.LatestSucceededGeneration(ctx, project.ID)
		if err != nil {
			return Outcome{}, err
		}
		if latest != nil {
			immediate = latest.ID
		}
	}
	if immediate == uuid.Nil {
		prov, err := s.provisional(ctx, ownerID, project, gen.ProfileID, regenerationNote)
		if err != nil {
			return Outcome{}, err
		}
		immediate = prov.ID
	}

	resp.GenerationID = immediate
	resp.UpdatingGenerationID = &realID
	resp.Location = GenerationPath(project.ID, immediate) + "?updating=" + url.QueryEscape(realID.String())
	return s.outcome(resp, wantJSON), nil
}

func (s *Service) outcome(resp RegenerateResponse, wantJSON bool) Outcome {
	if wantJSON {
		return JSON(resp)
	}
	return Redirect(resp.Location)
}

// Status returns a generation with its job summary. A due, unlocked job is
// run inline first; failures of that run never fail the status read.
func (s *Service) Status(ctx context.Context, ownerID, generationID uuid.UUID) (*StatusResponse, error) {
	if _, _, err := s.owned(ctx, ownerID, generationID); err != nil {
		return nil, err
	}

	s.runner.RunPoll(ctx, generationID)

	gen, err := s.store.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrNotFound
	}
	job, err := s.store.GetJobByGenerationID(ctx, generationID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{Generation: gen, CronConfigured: s.cfg.CronConfigured}
	if job != nil {
		resp.Job = &JobStatus{
			Status:        job.Status,
			AttemptCount:  job.AttemptCount,
			NextAttemptAt: job.NextAttemptAt,
			LastError:     job.LastError,
		}
	}
	return resp, nil
}

// Bundle returns a generation's bundle when ownerID owns it.
func (s *Service) Bundle(ctx context.Context, ownerID, generationID uuid.UUID) (*types.Bundle, error) {
	bundle, err := s.store.GetBundle(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if bundle == nil || bundle.Project.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return bundle, nil
}

// Kick makes the generation's job due now. ownerID may be uuid.Nil when the
// caller authenticated with the shared secret.
func (s *Service) Kick(ctx context.Context, ownerID, generationID uuid.UUID) error {
	if ownerID != uuid.Nil {
		if err := s.Authorize(ctx, ownerID, generationID); err != nil {
			return err
		}
	}
	return s.runner.Kick(ctx, generationID)
}

// Cancel cancels the generation's pending job.
func (s *Service) Cancel(ctx context.Context, ownerID, generationID uuid.UUID) (*types.Job, error) {
	if err := s.Authorize(ctx, ownerID, generationID); err != nil {
		return nil, err
	}
	return s.runner.Cancel(ctx, generationID)
}

// Projects lists the owner's projects with their newest generation.
func (s *Service) Projects(ctx context.Context, ownerID uuid.UUID) ([]types.ProjectSummary, error) {
	return s.store.ListProjects(ctx, ownerID)
}

// DeleteProject removes one of the owner's projects with everything it holds.
func (s *Service) DeleteProject(ctx context.Context, ownerID, projectID uuid.UUID) error {
	deleted, err := s.store.DeleteProject(ctx, ownerID, projectID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrProjectNotFound
	}
	s.logger.Infow("project deleted", "owner_id", ownerID, "project_id", projectID)
	return nil
}

// Profiles lists the owner's profiles, creating the default one on first use.
func (s *Service) Profiles(ctx context.Context, ownerID uuid.UUID) ([]types.Profile, error) {
	if _, err := s.store.EnsureDefaultProfile(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.store.ListProfiles(ctx, ownerID)
}
