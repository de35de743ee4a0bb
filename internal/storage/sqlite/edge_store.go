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

const edgeColumns = `id, owner_id, from_id, to_id, type, strength, reasoning, created_at, updated_at`

func validateEdge(rel *types.NoteRelationship) error {
	if rel == nil || rel.FromID == "" || rel.ToID == "" || rel.Type == "" {
		return fmt.Errorf("%w: edge endpoints and type are required", storage.ErrInvalidInput)
	}
	if rel.FromID == rel.ToID {
		return storage.ErrSelfLoop
	}
	if !types.IsValidRelationshipType(rel.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", storage.ErrInvalidInput, rel.Type)
	}
	return nil
}

// CreateEdge inserts a new edge. Duplicate (from, to, type) triples are
// rejected with ErrDuplicateEdge so the graph builder can apply its
// stronger-wins update rule explicitly.
func (s *Store) CreateEdge(ctx context.Context, rel *types.NoteRelationship) error {
	if err := validateEdge(rel); err != nil {
		return err
	}

	now := time.Now()
	rel.CreatedAt = now
	rel.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.OwnerID, rel.FromID, rel.ToID, rel.Type,
		rel.Strength, rel.Reasoning, rel.CreatedAt, rel.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateEdge
		}
		return fmt.Errorf("sqlite: failed to create edge: %w", err)
	}
	return nil
}

// UpsertStronger inserts the edge or raises the stored strength, but only
// when the incoming strength is strictly greater. Returns true when a row
// was inserted or updated.
func (s *Store) UpsertStronger(ctx context.Context, rel *types.NoteRelationship) (bool, error) {
	if err := validateEdge(rel); err != nil {
		return false, err
	}

	var existing float64
	err := s.db.QueryRowContext(ctx, `
		SELECT strength FROM edges WHERE from_id = ? AND to_id = ? AND type = ?`,
		rel.FromID, rel.ToID, rel.Type).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		if insErr := s.CreateEdge(ctx, rel); insErr != nil {
			// A concurrent writer may have inserted the edge between the
			// read and the insert; treat that as "not updated".
			if insErr == storage.ErrDuplicateEdge {
				return false, nil
			}
			return false, insErr
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("sqlite: edge lookup: %w", err)
	}

	if rel.Strength <= existing {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE edges SET strength = ?, reasoning = ?, updated_at = ?
		WHERE from_id = ? AND to_id = ? AND type = ?`,
		rel.Strength, rel.Reasoning, time.Now(), rel.FromID, rel.ToID, rel.Type)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to update edge strength: %w", err)
	}
	return true, nil
}

// EdgesTouching returns all edges where the note is either endpoint.
func (s *Store) EdgesTouching(ctx context.Context, noteID string) ([]*types.NoteRelationship, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE from_id = ? OR to_id = ?`, noteID, noteID)
}

// EdgesFrom returns outgoing edges of a note.
func (s *Store) EdgesFrom(ctx context.Context, noteID string) ([]*types.NoteRelationship, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE from_id = ?`, noteID)
}

// DeleteEdgesTouching removes all edges where the note is either endpoint.
func (s *Store) DeleteEdgesTouching(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE from_id = ? OR to_id = ?`, noteID, noteID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete edges: %w", err)
	}
	return nil
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]*types.NoteRelationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.NoteRelationship
	for rows.Next() {
		var e types.NoteRelationship
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.FromID, &e.ToID, &e.Type,
			&e.Strength, &e.Reasoning, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
// modernc.org/sqlite does not export a typed error for this, so the message
// text is the stable signal.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
