package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// User Secrets Methods
// -----------------------------------------------------------------------------

// GetUserSecret returns the encrypted credential envelope for an owner, or "" if none.
func (db *DB) GetUserSecret(ctx context.Context, ownerID uuid.UUID) (string, error) {
	var enc string
	err := db.pool.QueryRow(ctx,
		`SELECT figma_token_enc FROM user_secrets WHERE owner_id = $1`, ownerID,
	).Scan(&enc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user secret: %w", err)
	}
	return enc, nil
}

// PutUserSecret stores or replaces an owner's encrypted credential
func (db *DB) PutUserSecret(ctx context.Context, ownerID uuid.UUID, enc string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_secrets (owner_id, figma_token_enc)
		 VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET figma_token_enc = EXCLUDED.figma_token_enc, updated_at = NOW()`,
		ownerID, enc,
	)
	if err != nil {
		return fmt.Errorf("failed to put user secret: %w", err)
	}
	return nil
}

// DeleteUserSecret removes an owner's credential
func (db *DB) DeleteUserSecret(ctx context.Context, ownerID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM user_secrets WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete user secret: %w", err)
	}
	return nil
}
