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
// Profiles Methods
// -----------------------------------------------------------------------------

const profileColumns = `id, owner_id, name, mode, output_target, created_at`

func scanProfile(row pgx.Row) (*types.Profile, error) {
	var p types.Profile
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Mode, &p.OutputTarget, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile retrieves a profile by ID
func (db *DB) GetProfile(ctx context.Context, id uuid.UUID) (*types.Profile, error) {
	p, err := scanProfile(db.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// EnsureDefaultProfile returns the owner's default profile, creating it on
// first use.
func (db *DB) EnsureDefaultProfile(ctx context.Context, ownerID uuid.UUID) (*types.Profile, error) {
	p, err := scanProfile(db.pool.QueryRow(ctx,
		`INSERT INTO profiles (owner_id, name, mode, output_target)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING `+profileColumns,
		ownerID, types.DefaultProfileName, types.ProfileModeProduction, types.OutputTargetNextJS,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure default profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns an owner's profiles, oldest first.
func (db *DB) ListProfiles(ctx context.Context, ownerID uuid.UUID) ([]types.Profile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE owner_id = $1 ORDER BY created_at, name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []types.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}
