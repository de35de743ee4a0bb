package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

const edgeSelectColumns = `id, owner_id, from_id, to_id, type, strength, reasoning, created_at, updated_at`

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

// CreateEdge inserts a new edge, rejecting duplicates with ErrDuplicateEdge.
func (s *Store) CreateEdge(ctx context.Context, rel *types.NoteRelationship) error {
	if err := validateEdge(rel); err != nil {
		return err
	}

	now := nowUTC()
	rel.CreatedAt = now
	rel.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (`+edgeSelectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rel.ID, rel.OwnerID, rel.FromID, rel.ToID, rel.Type,
		rel.Strength, rel.Reasoning, rel.CreatedAt, rel.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return storage.ErrDuplicateEdge
		}
		return fmt.Errorf("postgres: failed to create edge: %w", err)
	}
	return nil
}

// UpsertStronger inserts the edge or raises the stored strength only when the
// incoming strength is strictly greater. A single statement with a WHERE on
// the conflict update keeps the stronger-wins rule race-free.
func (s *Store) UpsertStronger(ctx context.Context, rel *types.NoteRelationship) (bool, error) {
	if err := validateEdge(rel); err != nil {
		return false, err
	}

	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, owner_id, from_id, to_id, type, strength, reasoning, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (from_id, to_id, type) DO UPDATE SET
			strength = EXCLUDED.strength,
			reasoning = EXCLUDED.reasoning,
			updated_at = EXCLUDED.updated_at
		WHERE edges.strength < EXCLUDED.strength`,
		rel.ID, rel.OwnerID, rel.FromID, rel.ToID, rel.Type,
		rel.Strength, rel.Reasoning, now)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to upsert edge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EdgesTouching returns all edges where the note is either endpoint.
func (s *Store) EdgesTouching(ctx context.Context, noteID string) ([]*types.NoteRelationship, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeSelectColumns+` FROM edges WHERE from_id = $1 OR to_id = $1`, noteID)
}

// EdgesFrom returns outgoing edges of a note.
func (s *Store) EdgesFrom(ctx context.Context, noteID string) ([]*types.NoteRelationship, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeSelectColumns+` FROM edges WHERE from_id = $1`, noteID)
}

// DeleteEdgesTouching removes all edges where the note is either endpoint.
func (s *Store) DeleteEdgesTouching(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE from_id = $1 OR to_id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete edges: %w", err)
	}
	return nil
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]*types.NoteRelationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.NoteRelationship
	for rows.Next() {
		var e types.NoteRelationship
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.FromID, &e.ToID, &e.Type,
			&e.Strength, &e.Reasoning, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// Upsert stores or replaces the vector for a note in the pgvector column.
func (s *Store) Upsert(ctx context.Context, noteID, ownerID string, vector []float32) error {
	if noteID == "" || ownerID == "" {
		return fmt.Errorf("%w: note and owner IDs are required", storage.ErrInvalidInput)
	}
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: vector dimension %d does not match store dimension %d",
			storage.ErrInvalidInput, len(vector), s.dimension)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (note_id, owner_id, embedding, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (note_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		noteID, ownerID, pgvector.NewVector(vector), nowUTC())
	if err != nil {
		return fmt.Errorf("postgres: failed to store embedding: %w", err)
	}
	return nil
}

// GetVector returns a note's stored vector.
func (s *Store) GetVector(ctx context.Context, noteID string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM embeddings WHERE note_id = $1`, noteID).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load embedding: %w", err)
	}
	return vec.Slice(), nil
}

// Delete removes a note's vector.
func (s *Store) Delete(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete embedding: %w", err)
	}
	return nil
}

// Search runs an indexed cosine-distance query via pgvector, returning the
// topK closest active notes for the owner, best first. pgvector's <=> is
// cosine distance, so similarity = 1 - distance.
func (s *Store) Search(ctx context.Context, vector []float32, ownerID string, topK int) ([]storage.VectorHit, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.note_id, 1 - (e.embedding <=> $1) AS similarity
		FROM embeddings e
		JOIN notes n ON n.id = e.note_id
		WHERE e.owner_id = $2 AND n.active
		ORDER BY e.embedding <=> $1
		LIMIT $3`, pgvector.NewVector(vector), ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.VectorHit
	for rows.Next() {
		var hit storage.VectorHit
		if err := rows.Scan(&hit.NoteID, &hit.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan vector hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// LexicalSearch performs tsvector full-text search over the owner's active
// notes, ranked by ts_rank descending.
func (s *Store) LexicalSearch(ctx context.Context, ownerID, query string, topK int) ([]storage.LexicalHit, error) {
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM notes
		WHERE owner_id = $2 AND active
		  AND content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $3`, query, ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: LexicalSearch %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.LexicalHit
	for rows.Next() {
		var hit storage.LexicalHit
		if err := rows.Scan(&hit.NoteID, &hit.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan lexical hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
