package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/engram-memory/engram/internal/storage"
)

// GetOwnerSettings returns the raw settings document for the owner.
func (s *Store) GetOwnerSettings(ctx context.Context, ownerID string) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM owner_settings WHERE owner_id = $1`, ownerID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner settings: %w", err)
	}
	return doc, nil
}

// PutOwnerSettings stores or replaces the settings document.
func (s *Store) PutOwnerSettings(ctx context.Context, ownerID string, doc []byte) error {
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_settings (owner_id, settings, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at`,
		ownerID, doc, nowUTC())
	if err != nil {
		return fmt.Errorf("failed to put owner settings: %w", err)
	}
	return nil
}

// DeleteOwnerSettings removes the owner's overrides.
func (s *Store) DeleteOwnerSettings(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM owner_settings WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete owner settings: %w", err)
	}
	return nil
}
