// Package memstore is an in-memory implementation of every store the
// application uses. It backs unit tests and the database-less dev mode, and
// follows the same conditional-write rules as the Postgres stores.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/types"
)

type generationRecord struct {
	gen      types.Generation
	seq      int64
	files    []types.GeneratedFile
	mappings []types.Mapping
}

type jobRecord struct {
	job types.Job
	seq int64
}

// Store holds all records behind one mutex.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	seq int64

	projects    map[uuid.UUID]types.Project
	profiles    map[uuid.UUID]types.Profile
	generations map[uuid.UUID]*generationRecord
	jobs        map[uuid.UUID]*jobRecord
	secrets     map[uuid.UUID]string
	images      map[string]types.NodeImage
}

// New creates an empty store. now is the clock; time.Now when nil.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:         now,
		projects:    make(map[uuid.UUID]types.Project),
		profiles:    make(map[uuid.UUID]types.Profile),
		generations: make(map[uuid.UUID]*generationRecord),
		jobs:        make(map[uuid.UUID]*jobRecord),
		secrets:     make(map[uuid.UUID]string),
		images:      make(map[string]types.NodeImage),
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// -----------------------------------------------------------------------------
// Projects Methods
// -----------------------------------------------------------------------------

// GetProject returns a project by ID, or nil.
func (s *Store) GetProject(_ context.Context, id uuid.UUID) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// FindProjectBySource returns the project with the given natural key, or nil.
func (s *Store) FindProjectBySource(_ context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.findProject(ownerID, fileKey, nodeID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) findProject(ownerID uuid.UUID, fileKey, nodeID string) *types.Project {
	for id, p := range s.projects {
		if p.OwnerID == ownerID && p.FileKey == fileKey && p.NodeID == nodeID {
			found := s.projects[id]
			return &found
		}
	}
	return nil
}

// UpsertProject creates the project for (owner, fileKey, nodeID) or refreshes
// its source URL, name and default profile.
func (s *Store) UpsertProject(_ context.Context, in types.ProjectInput) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timestamp()

	if p := s.findProject(in.OwnerID, in.FileKey, in.NodeID); p != nil {
		p.SourceURL = in.SourceURL
		p.Name = in.Name
		if in.DefaultProfileID != nil {
			p.DefaultProfileID = in.DefaultProfileID
		}
		p.UpdatedAt = now
		s.projects[p.ID] = *p
		cp := *p
		return &cp, nil
	}

	p := types.Project{
		ID:               uuid.New(),
		OwnerID:          in.OwnerID,
		Name:             in.Name,
		SourceURL:        in.SourceURL,
		FileKey:          in.FileKey,
		NodeID:           in.NodeID,
		DefaultProfileID: in.DefaultProfileID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.projects[p.ID] = p
	return &p, nil
}

// UpdateProjectSource points an existing project at a new source. It returns
// db.ErrProjectSourceTaken when another project of the owner already uses it.
func (s *Store) UpdateProjectSource(_ context.Context, id uuid.UUID, in types.ProjectInput) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.OwnerID != in.OwnerID {
		return nil, nil
	}
	if other := s.findProject(in.OwnerID, in.FileKey, in.NodeID); other != nil && other.ID != id {
		return nil, db.ErrProjectSourceTaken
	}
	p.Name = in.Name
	p.SourceURL = in.SourceURL
	p.FileKey = in.FileKey
	p.NodeID = in.NodeID
	if in.DefaultProfileID != nil {
		p.DefaultProfileID = in.DefaultProfileID
	}
	p.UpdatedAt = s.timestamp()
	s.projects[id] = p
	return &p, nil
}

// ListProjects returns an owner's projects, most recently updated first, each
// with the id of its newest generation.
func (s *Store) ListProjects(_ context.Context, ownerID uuid.UUID) ([]types.ProjectSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newest := make(map[uuid.UUID]*generationRecord)
	for _, rec := range s.generations {
		if cur, ok := newest[rec.gen.ProjectID]; !ok || rec.seq > cur.seq {
			newest[rec.gen.ProjectID] = rec
		}
	}

	projects := []types.ProjectSummary{}
	for _, p := range s.projects {
		if p.OwnerID != ownerID {
			continue
		}
		sum := types.ProjectSummary{Project: p}
		if rec, ok := newest[p.ID]; ok {
			id := rec.gen.ID
			sum.LastGenerationID = &id
		}
		projects = append(projects, sum)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		if !projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
		}
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// DeleteProject removes an owner's project with its generations and jobs.
// It reports whether a project was deleted.
func (s *Store) DeleteProject(_ context.Context, ownerID, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.OwnerID != ownerID {
		return false, nil
	}
	delete(s.projects, id)
	for genID, rec := range s.generations {
		if rec.gen.ProjectID == id {
			delete(s.generations, genID)
		}
	}
	for jobID, rec := range s.jobs {
		if rec.job.ProjectID == id {
			delete(s.jobs, jobID)
		}
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Profiles Methods
// -----------------------------------------------------------------------------

// GetProfile returns a profile by ID, or nil.
func (s *Store) GetProfile(_ context.Context, id uuid.UUID) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// EnsureDefaultProfile returns the owner's default profile, creating it on
// first use.
func (s *Store) EnsureDefaultProfile(_ context.Context, ownerID uuid.UUID) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.OwnerID == ownerID && p.Name == types.DefaultProfileName {
			cp := p
			return &cp, nil
		}
	}
	p := types.Profile{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Name:         types.DefaultProfileName,
		Mode:         types.ProfileModeProduction,
		OutputTarget: types.OutputTargetNextJS,
		CreatedAt:    s.timestamp(),
	}
	s.profiles[p.ID] = p
	return &p, nil
}

// ListProfiles returns an owner's profiles, oldest first.
func (s *Store) ListProfiles(_ context.Context, ownerID uuid.UUID) ([]types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles := []types.Profile{}
	for _, p := range s.profiles {
		if p.OwnerID == ownerID {
			profiles = append(profiles, p)
		}
	}
	sort.Slice(profiles, func(i, j int) bool {
		if !profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
		}
		return profiles[i].Name < profiles[j].Name
	})
	return profiles, nil
}

// -----------------------------------------------------------------------------
// Generations Methods
// -----------------------------------------------------------------------------

// CreateGeneration inserts a queued generation for a project, recording the
// project's current source on it.
func (s *Store) CreateGeneration(_ context.Context, projectID uuid.UUID, profileID *uuid.UUID) (*types.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("failed to create generation: project %s not found", projectID)
	}
	now := s.timestamp()
	g := types.Generation{
		ID:        uuid.New(),
		ProjectID: projectID,
		ProfileID: profileID,
		Status:    types.GenerationStatusQueued,
		FileKey:   p.FileKey,
		NodeID:    p.NodeID,
		SourceURL: p.SourceURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.generations[g.ID] = &generationRecord{gen: g, seq: s.next()}
	return &g, nil
}

// GetGeneration returns a generation by ID, or nil.
func (s *Store) GetGeneration(_ context.Context, id uuid.UUID) (*types.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.generations[id]
	if !ok {
		return nil, nil
	}
	g := rec.gen
	return &g, nil
}

// LatestSucceededGeneration returns the newest succeeded generation of a
// project's current source, or nil. Real results win over provisional ones
// regardless of age.
func (s *Store) LatestSucceededGeneration(_ context.Context, projectID uuid.UUID) (*types.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	var latest *generationRecord
	for _, rec := range s.generations {
		g := &rec.gen
		if g.ProjectID != projectID || g.Status != types.GenerationStatusSucceeded || !p.SameSource(g.FileKey, g.NodeID) {
			continue
		}
		if latest == nil || preferGeneration(rec, latest) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	g := latest.gen
	return &g, nil
}

func preferGeneration(a, b *generationRecord) bool {
	ap, bp := a.gen.IsProvisional(), b.gen.IsProvisional()
	if ap != bp {
		return bp
	}
	return a.seq > b.seq
}

// UpdateGeneration applies a status transition to a generation
func (s *Store) UpdateGeneration(_ context.Context, id uuid.UUID, upd types.GenerationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.generations[id]
	if !ok {
		return fmt.Errorf("failed to update generation: %s not found", id)
	}
	g := &rec.gen
	if upd.Status != "" {
		g.Status = upd.Status
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		g.StartedAt = &t
	}
	if upd.FinishedAt != nil {
		t := *upd.FinishedAt
		g.FinishedAt = &t
	}
	if len(upd.ErrorJSON) > 0 {
		g.ErrorJSON = append([]byte(nil), upd.ErrorJSON...)
	} else if upd.ClearError {
		g.ErrorJSON = nil
	}
	g.UpdatedAt = s.timestamp()
	return nil
}

// SaveArtifacts stores a pipeline result on a generation. Files and mappings
// replace whatever the generation held before.
func (s *Store) SaveArtifacts(_ context.Context, generationID uuid.UUID, art *types.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.generations[generationID]
	if !ok {
		return fmt.Errorf("failed to save artifacts: generation %s not found", generationID)
	}

	hash := art.SnapshotHash
	rec.gen.SnapshotHash = &hash
	rec.gen.IR = append([]byte(nil), art.IR...)
	rec.gen.Report = append([]byte(nil), art.Report...)
	rec.gen.UpdatedAt = s.timestamp()

	byPath := make(map[string]types.GeneratedFile, len(art.Files))
	for _, f := range art.Files {
		if f.Kind == "" {
			f.Kind = types.FileKindText
		}
		byPath[f.Path] = f
	}
	files := make([]types.GeneratedFile, 0, len(byPath))
	for _, f := range byPath {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	rec.files = files
	rec.mappings = append([]types.Mapping{}, art.Mappings...)
	return nil
}

// GetBundle loads a generation with its project, files and mappings. It
// returns nil if the generation or its project does not exist.
func (s *Store) GetBundle(_ context.Context, generationID uuid.UUID) (*types.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.generations[generationID]
	if !ok {
		return nil, nil
	}
	p, ok := s.projects[rec.gen.ProjectID]
	if !ok {
		return nil, nil
	}
	return &types.Bundle{
		Project:    p,
		Generation: rec.gen,
		Files:      append([]types.GeneratedFile{}, rec.files...),
		Mappings:   append([]types.Mapping{}, rec.mappings...),
	}, nil
}

// DeleteGeneration removes a generation and its job
func (s *Store) DeleteGeneration(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, id)
	for jobID, rec := range s.jobs {
		if rec.job.GenerationID == id {
			delete(s.jobs, jobID)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// User Secrets Methods
// -----------------------------------------------------------------------------

// GetUserSecret returns the encrypted credential envelope for an owner, or "" if none.
func (s *Store) GetUserSecret(_ context.Context, ownerID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets[ownerID], nil
}

// PutUserSecret stores or replaces an owner's encrypted credential
func (s *Store) PutUserSecret(_ context.Context, ownerID uuid.UUID, enc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ownerID] = enc
	return nil
}

// DeleteUserSecret removes an owner's credential
func (s *Store) DeleteUserSecret(_ context.Context, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, ownerID)
	return nil
}

// -----------------------------------------------------------------------------
// Image Cache Methods
// -----------------------------------------------------------------------------

func imageKey(ownerID uuid.UUID, fileKey, nodeID string) string {
	return ownerID.String() + "|" + fileKey + "|" + nodeID
}

// GetNodeImage returns a persisted node render, or nil.
func (s *Store) GetNodeImage(_ context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.NodeImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageKey(ownerID, fileKey, nodeID)]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

// PutNodeImage persists a node render, replacing any previous one
func (s *Store) PutNodeImage(_ context.Context, ownerID uuid.UUID, fileKey, nodeID string, img *types.NodeImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *img
	cp.FetchedAt = s.timestamp()
	s.images[imageKey(ownerID, fileKey, nodeID)] = cp
	return nil
}
