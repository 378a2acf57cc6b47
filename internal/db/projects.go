package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/design2code/internal/types"
)

// -----------------------------------------------------------------------------
// Projects Methods
// -----------------------------------------------------------------------------

const projectColumns = `id, owner_id, name, source_url, file_key, node_id, default_profile_id, created_at, updated_at`

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.SourceURL, &p.FileKey, &p.NodeID,
		&p.DefaultProfileID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject retrieves a project by ID
func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// FindProjectBySource looks a project up by its natural key
func (db *DB) FindProjectBySource(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`SELECT `+projectColumns+`
		 FROM projects
		 WHERE owner_id = $1 AND file_key = $2 AND node_id = $3`,
		ownerID, fileKey, nodeID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return p, nil
}

// UpsertProject creates the project for (owner, fileKey, nodeID) or refreshes
// its source URL, name and default profile.
func (db *DB) UpsertProject(ctx context.Context, in types.ProjectInput) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`INSERT INTO projects (owner_id, name, source_url, file_key, node_id, default_profile_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_id, file_key, node_id)
		 DO UPDATE SET source_url = EXCLUDED.source_url,
		               name = EXCLUDED.name,
		               default_profile_id = COALESCE(EXCLUDED.default_profile_id, projects.default_profile_id),
		               updated_at = NOW()
		 RETURNING `+projectColumns,
		in.OwnerID, in.Name, in.SourceURL, in.FileKey, in.NodeID, in.DefaultProfileID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert project: %w", err)
	}
	return p, nil
}

// UpdateProjectSource points an existing project at a new source. It returns
// ErrProjectSourceTaken when another project of the owner already uses it.
func (db *DB) UpdateProjectSource(ctx context.Context, id uuid.UUID, in types.ProjectInput) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`UPDATE projects
		 SET name = $2, source_url = $3, file_key = $4, node_id = $5,
		     default_profile_id = COALESCE($6, default_profile_id), updated_at = NOW()
		 WHERE id = $1 AND owner_id = $7
		 RETURNING `+projectColumns,
		id, in.Name, in.SourceURL, in.FileKey, in.NodeID, in.DefaultProfileID, in.OwnerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, ErrProjectSourceTaken
		}
		return nil, fmt.Errorf("failed to update project source: %w", err)
	}
	return p, nil
}

// ListProjects returns an owner's projects, most recently updated first, each
// with the id of its newest generation.
func (db *DB) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]types.ProjectSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT p.id, p.owner_id, p.name, p.source_url, p.file_key, p.node_id, p.default_profile_id,
		        p.created_at, p.updated_at,
		        (SELECT g.id FROM generations g
		         WHERE g.project_id = p.id
		         ORDER BY g.created_at DESC
		         LIMIT 1)
		 FROM projects p
		 WHERE p.owner_id = $1
		 ORDER BY p.updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []types.ProjectSummary{}
	for rows.Next() {
		var s types.ProjectSummary
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.SourceURL, &s.FileKey, &s.NodeID,
			&s.DefaultProfileID, &s.CreatedAt, &s.UpdatedAt, &s.LastGenerationID); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// DeleteProject removes an owner's project with its generations and jobs.
// It reports whether a row was deleted.
func (db *DB) DeleteProject(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
