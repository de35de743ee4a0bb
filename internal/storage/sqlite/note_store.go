package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

const noteColumns = `id, owner_id, content, note_type, context,
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
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.OwnerID, note.Content, note.NoteType, note.Context,
		note.Confidence, note.OriginalConfidence, note.Importance,
		marshalStrings(note.Keywords), marshalStrings(note.Tags),
		note.ContextualDescription, boolToInt(note.Enriched), note.EmbeddingID,
		nullableString(note.SourceTurnID), string(note.Mutability),
		note.LastValidated, boolToInt(note.Active), note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, id string) (*types.AtomicNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get note: %w", err)
	}
	return note, nil
}

// UpdateNote modifies an existing note.
func (s *Store) UpdateNote(ctx context.Context, note *types.AtomicNote) error {
	if note == nil || note.ID == "" {
		return storage.ErrInvalidInput
	}
	note.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET
			content = ?, note_type = ?, context = ?,
			confidence = ?, original_confidence = ?, importance = ?,
			keywords = ?, tags = ?, contextual_desc = ?, enriched = ?,
			embedding_id = ?, mutability = ?, last_validated = ?, active = ?,
			updated_at = ?
		WHERE id = ?`,
		note.Content, note.NoteType, note.Context,
		note.Confidence, note.OriginalConfidence, note.Importance,
		marshalStrings(note.Keywords), marshalStrings(note.Tags),
		note.ContextualDescription, boolToInt(note.Enriched),
		note.EmbeddingID, string(note.Mutability), note.LastValidated,
		boolToInt(note.Active), note.UpdatedAt, note.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update note: %w", err)
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

	var where []string
	var args []any
	if opts.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, opts.OwnerID)
	}
	if opts.NoteType != "" {
		where = append(where, "note_type = ?")
		args = append(args, opts.NoteType)
	}
	if !opts.IncludeInactive {
		where = append(where, "active = 1")
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notes"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: count notes: %w", err)
	}

	// SortBy/SortOrder are whitelisted by Normalize, safe to interpolate.
	query := fmt.Sprintf("SELECT %s FROM notes%s ORDER BY %s %s LIMIT ? OFFSET ?",
		noteColumns, clause, opts.SortBy, opts.SortOrder)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.AtomicNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan note: %w", err)
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
// exists for the owner. Comparison is exact and case-sensitive.
func (s *Store) ContentExists(ctx context.Context, ownerID, content string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM notes
		WHERE owner_id = ? AND content = ? AND active = 1
		LIMIT 1`, ownerID, content).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: content lookup: %w", err)
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
		`UPDATE notes SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to set active flag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeNote hard-deletes a note along with its embedding row.
func (s *Store) PurgeNote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: purge embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: purge note: %w", err)
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
		`SELECT DISTINCT owner_id FROM notes WHERE active = 1 ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list owners: %w", err)
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

// rowScanner abstracts *sql.Row and *sql.Rows for scanNote.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*types.AtomicNote, error) {
	var n types.AtomicNote
	var keywords, tags, mutability string
	var enriched, active int
	var sourceTurn sql.NullString

	err := row.Scan(&n.ID, &n.OwnerID, &n.Content, &n.NoteType, &n.Context,
		&n.Confidence, &n.OriginalConfidence, &n.Importance,
		&keywords, &tags, &n.ContextualDescription, &enriched, &n.EmbeddingID,
		&sourceTurn, &mutability, &n.LastValidated, &active, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	n.Keywords = unmarshalStrings(keywords)
	n.Tags = unmarshalStrings(tags)
	n.Enriched = enriched != 0
	n.Active = active != 0
	n.Mutability = types.MutabilityClass(mutability)
	if sourceTurn.Valid {
		n.SourceTurnID = sourceTurn.String
	}
	return &n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
