package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// CreateTurn stores a new dialogue turn.
func (s *Store) CreateTurn(ctx context.Context, turn *types.DialogueTurn) error {
	if turn == nil || turn.ID == "" || turn.OwnerID == "" {
		return fmt.Errorf("%w: turn id and owner are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.OwnerID, turn.SessionID, turn.TurnNumber,
		turn.UserText, turn.AssistantText, boolToInt(turn.Extracted), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create turn: %w", err)
	}
	return nil
}

// GetTurn retrieves a turn by ID.
func (s *Store) GetTurn(ctx context.Context, id string) (*types.DialogueTurn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at
		FROM turns WHERE id = ?`, id)

	var t types.DialogueTurn
	var extracted int
	err := row.Scan(&t.ID, &t.OwnerID, &t.SessionID, &t.TurnNumber,
		&t.UserText, &t.AssistantText, &extracted, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get turn: %w", err)
	}
	t.Extracted = extracted != 0
	return &t, nil
}

// MarkExtracted flips the extracted flag to true.
func (s *Store) MarkExtracted(ctx context.Context, id string) error {
	return s.setExtracted(ctx, id, true)
}

// ResetExtraction explicitly clears the extracted flag for reprocessing.
func (s *Store) ResetExtraction(ctx context.Context, id string) error {
	return s.setExtracted(ctx, id, false)
}

func (s *Store) setExtracted(ctx context.Context, id string, extracted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET extracted = ? WHERE id = ?`, boolToInt(extracted), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update extracted flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUnextracted returns up to limit unextracted turns, oldest first.
func (s *Store) ListUnextracted(ctx context.Context, limit int) ([]*types.DialogueTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at
		FROM turns WHERE extracted = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list unextracted turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*types.DialogueTurn
	for rows.Next() {
		var t types.DialogueTurn
		var extracted int
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.SessionID, &t.TurnNumber,
			&t.UserText, &t.AssistantText, &extracted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		t.Extracted = extracted != 0
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
