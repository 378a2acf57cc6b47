package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/design2code/internal/types"
)

// GetNodeImage returns a persisted node render, or nil.
func (db *DB) GetNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string) (*types.NodeImage, error) {
	var img types.NodeImage
	err := db.pool.QueryRow(ctx,
		`SELECT png_base64, source_image_url, fetched_at
		 FROM figma_image_cache
		 WHERE owner_id = $1 AND file_key = $2 AND node_id = $3`,
		ownerID, fileKey, nodeID,
	).Scan(&img.PNGBase64, &img.SourceImageURL, &img.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached image: %w", err)
	}
	return &img, nil
}

// PutNodeImage persists a node render, replacing any previous one
func (db *DB) PutNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID string, img *types.NodeImage) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO figma_image_cache (owner_id, file_key, node_id, png_base64, source_image_url, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (owner_id, file_key, node_id)
		 DO UPDATE SET png_base64 = EXCLUDED.png_base64,
		               source_image_url = EXCLUDED.source_image_url,
		               fetched_at = NOW()`,
		ownerID, fileKey, nodeID, img.PNGBase64, img.SourceImageURL,
	)
	if err != nil {
		return fmt.Errorf("failed to put cached image: %w", err)
	}
	return nil
}
