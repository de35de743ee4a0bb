package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// noteSelectColumns must match the scan order in scanNoteRow.
const noteSelectColumns = `id, owner_id, content, note_type, context,
	confidence, original_confidence, importance,
	keywords, tags, contextual_desc, enriched, embedding_id,
	source_turn_id, mutability, last_validated, active, created_at, updated_at`

// CreateNote stores a new note.
func (s *Store) CreateNote(ctx context.Context, note *types.AtomicNote) error {
	if note == nil {
		return storage.ErrInvalidInput
	}
	if err := note.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteSelectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		note.ID, note.OwnerID, note.Content, note.NoteType, note.Context,
		note.Confidence, note.OriginalConfidence, note.Importance,
		pq.Array(note.Keywords), pq.Array(note.Tags),
		note.ContextualDescription, note.Enriched, note.EmbeddingID,
		nullable(note.SourceTurnID), string(note.Mutability),
		note.LastValidated, note.Active, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, id string) (*types.AtomicNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteSelectColumns+` FROM notes WHERE id = $1`, id)
	note, err := scanNoteRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get note: %w", err)
	}
	return note, nil
}

// UpdateNote modifies an existing note.
func (s *Store) UpdateNote(ctx context.Context, note *types.AtomicNote) error {
	if note == nil || note.ID == "" {
		return storage.ErrInvalidInput
	}
	note.UpdatedAt = nowUTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET
			content = $1, note_type = $2, context = $3,
			confidence = $4, original_confidence = $5, importance = $6,
			keywords = $7, tags = $8, contextual_desc = $9, enriched = $10,
			embedding_id = $11, mutability = $12, last_validated = $13,
			active = $14, updated_at = $15
		WHERE id = $16`,
		note.Content, note.NoteType, note.Context,
		note.Confidence, note.OriginalConfidence, note.Importance,
		pq.Array(note.Keywords), pq.Array(note.Tags),
		note.ContextualDescription, note.Enriched,
		note.EmbeddingID, string(note.Mutability), note.LastValidated,
		note.Active, note.UpdatedAt, note.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update note: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListNotes retrieves notes with pagination and filtering.
func (s *Store) ListNotes(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.AtomicNote], error) {
	opts.Normalize()
	clause, args := buildNoteFilter(opts)

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notes"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count notes: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM notes%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		noteSelectColumns, clause, opts.SortBy, opts.SortOrder, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.AtomicNote
	for rows.Next() {
		note, err := scanNoteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan note: %w", err)
		}
		items = append(items, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.AtomicNote]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// ContentExists reports whether an active note with byte-identical content
// exists for the owner.
func (s *Store) ContentExists(ctx context.Context, ownerID, content string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM notes WHERE owner_id = $1 AND content = $2 AND active LIMIT 1`,
		ownerID, content).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: content lookup: %w", err)
	}
	return true, nil
}

// DeactivateNote soft-deletes a note.
func (s *Store) DeactivateNote(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// RestoreNote un-deletes a soft-deleted note.
func (s *Store) RestoreNote(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

func (s *Store) setActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET active = $1, updated_at = $2 WHERE id = $3`,
		active, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to set active flag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeNote hard-deletes a note and its embedding row.
func (s *Store) PurgeNote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: purge embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: purge note: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListOwners returns distinct owner IDs with active notes.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM notes WHERE active ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNoteRow(row rowScanner) (*types.AtomicNote, error) {
	var n types.AtomicNote
	var keywords, tags []string
	var mutability string
	var sourceTurn sql.NullString

	err := row.Scan(&n.ID, &n.OwnerID, &n.Content, &n.NoteType, &n.Context,
		&n.Confidence, &n.OriginalConfidence, &n.Importance,
		pq.Array(&keywords), pq.Array(&tags), &n.ContextualDescription,
		&n.Enriched, &n.EmbeddingID, &sourceTurn, &mutability,
		&n.LastValidated, &n.Active, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	n.Keywords = keywords
	n.Tags = tags
	n.Mutability = types.MutabilityClass(mutability)
	if sourceTurn.Valid {
		n.SourceTurnID = sourceTurn.String
	}
	return &n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
