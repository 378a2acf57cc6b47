package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/design2code/internal/types"
)

// -----------------------------------------------------------------------------
// Generations Methods
// -----------------------------------------------------------------------------

const generationColumns = `id, project_id, profile_id, status, file_key, node_id, source_url,
	snapshot_hash, ir_json, report_json, error_json, started_at, finished_at, created_at, updated_at`

func scanGeneration(row pgx.Row) (*types.Generation, error) {
	var g types.Generation
	var ir, report, errJSON []byte
	if err := row.Scan(&g.ID, &g.ProjectID, &g.ProfileID, &g.Status, &g.FileKey, &g.NodeID, &g.SourceURL,
		&g.SnapshotHash, &ir, &report, &errJSON, &g.StartedAt, &g.FinishedAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.IR = ir
	g.Report = report
	g.ErrorJSON = errJSON
	return &g, nil
}

// CreateGeneration inserts a queued generation for a project, recording the
// project's current source on it.
func (db *DB) CreateGeneration(ctx context.Context, projectID uuid.UUID, profileID *uuid.UUID) (*types.Generation, error) {
	g, err := scanGeneration(db.pool.QueryRow(ctx,
		`INSERT INTO generations (project_id, profile_id, status, file_key, node_id, source_url)
		 SELECT id, $2, 'queued', file_key, node_id, source_url
		 FROM projects
		 WHERE id = $1
		 RETURNING `+generationColumns,
		projectID, profileID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to create generation: project %s not found", projectID)
		}
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	return g, nil
}

// GetGeneration retrieves a generation by ID
func (db *DB) GetGeneration(ctx context.Context, id uuid.UUID) (*types.Generation, error) {
	g, err := scanGeneration(db.pool.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return g, nil
}

// LatestSucceededGeneration returns the newest succeeded generation of a
// project's current source, or nil. Real results win over provisional ones
// regardless of age.
func (db *DB) LatestSucceededGeneration(ctx context.Context, projectID uuid.UUID) (*types.Generation, error) {
	g, err := scanGeneration(db.pool.QueryRow(ctx,
		`SELECT `+generationColumns+`
		 FROM generations
		 WHERE project_id = $1 AND status = 'succeeded'
		   AND (file_key, node_id) = (SELECT file_key, node_id FROM projects WHERE id = $1)
		 ORDER BY COALESCE(error_json->>'provisional' = 'true', false), created_at DESC
		 LIMIT 1`,
		projectID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest succeeded generation: %w", err)
	}
	return g, nil
}

// buildGenerationUpdate renders the UPDATE statement for a GenerationUpdate.
func buildGenerationUpdate(id uuid.UUID, upd types.GenerationUpdate) (string, []interface{}) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	argNum := 2

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	if upd.Status != "" {
		add("status", upd.Status)
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		add("finished_at", *upd.FinishedAt)
	}
	if len(upd.ErrorJSON) > 0 {
		add("error_json", []byte(upd.ErrorJSON))
	} else if upd.ClearError {
		sets = append(sets, "error_json = NULL")
	}

	return fmt.Sprintf("UPDATE generations SET %s WHERE id = $1", strings.Join(sets, ", ")), args
}

// UpdateGeneration applies a status transition to a generation
func (db *DB) UpdateGeneration(ctx context.Context, id uuid.UUID, upd types.GenerationUpdate) error {
	query, args := buildGenerationUpdate(id, upd)
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update generation: %s not found", id)
	}
	return nil
}

// SaveArtifacts stores a pipeline result on a generation. Files and mappings
// replace whatever the generation held before.
func (db *DB) SaveArtifacts(ctx context.Context, generationID uuid.UUID, art *types.Artifacts) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE generations
		 SET snapshot_hash = $2, ir_json = $3, report_json = $4, updated_at = NOW()
		 WHERE id = $1`,
		generationID, art.SnapshotHash, []byte(art.IR), []byte(art.Report),
	); err != nil {
		return fmt.Errorf("failed to save generation metadata: %w", err)
	}

	paths := make([]string, 0, len(art.Files))
	for _, f := range art.Files {
		kind := f.Kind
		if kind == "" {
			kind = types.FileKindText
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO generated_files (generation_id, path, kind, content)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (generation_id, path)
			 DO UPDATE SET kind = EXCLUDED.kind, content = EXCLUDED.content, updated_at = NOW()`,
			generationID, f.Path, kind, f.Content,
		); err != nil {
			return fmt.Errorf("failed to save file %s: %w", f.Path, err)
		}
		paths = append(paths, f.Path)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM generated_files WHERE generation_id = $1 AND NOT (path = ANY($2))`,
		generationID, paths,
	); err != nil {
		return fmt.Errorf("failed to prune files: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM mappings WHERE generation_id = $1`, generationID); err != nil {
		return fmt.Errorf("failed to clear mappings: %w", err)
	}
	for _, m := range art.Mappings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mappings (generation_id, node_id, node_name, kind, target_path)
			 VALUES ($1, $2, $3, $4, $5)`,
			generationID, m.NodeID, m.NodeName, m.Kind, m.TargetPath,
		); err != nil {
			return fmt.Errorf("failed to save mapping: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit artifacts: %w", err)
	}
	return nil
}

// ListFiles returns a generation's files ordered by path
func (db *DB) ListFiles(ctx context.Context, generationID uuid.UUID) ([]types.GeneratedFile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT path, kind, content FROM generated_files WHERE generation_id = $1 ORDER BY path`,
		generationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []types.GeneratedFile{}
	for rows.Next() {
		var f types.GeneratedFile
		if err := rows.Scan(&f.Path, &f.Kind, &f.Content); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListMappings returns a generation's mappings in insertion order
func (db *DB) ListMappings(ctx context.Context, generationID uuid.UUID) ([]types.Mapping, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT node_id, node_name, kind, target_path FROM mappings WHERE generation_id = $1 ORDER BY id`,
		generationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	mappings := []types.Mapping{}
	for rows.Next() {
		var m types.Mapping
		if err := rows.Scan(&m.NodeID, &m.NodeName, &m.Kind, &m.TargetPath); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// GetBundle loads a generation with its project, files and mappings. It
// returns nil if the generation or its project does not exist.
func (db *DB) GetBundle(ctx context.Context, generationID uuid.UUID) (*types.Bundle, error) {
	g, err := db.GetGeneration(ctx, generationID)
	if err != nil || g == nil {
		return nil, err
	}
	p, err := db.GetProject(ctx, g.ProjectID)
	if err != nil || p == nil {
		return nil, err
	}
	files, err := db.ListFiles(ctx, generationID)
	if err != nil {
		return nil, err
	}
	mappings, err := db.ListMappings(ctx, generationID)
	if err != nil {
		return nil, err
	}
	return &types.Bundle{Project: *p, Generation: *g, Files: files, Mappings: mappings}, nil
}

// DeleteGeneration removes a generation and everything attached to it
func (db *DB) DeleteGeneration(ctx context.Context, id uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM generations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return nil
}
