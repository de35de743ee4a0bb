package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/engram-memory/engram/internal/storage"
)

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a search. Candidates are selected in recency order so the most
// recently touched notes are always considered. For typical per-user
// datasets (< 10k notes) this limit is never hit; beyond that, the
// PostgreSQL + pgvector backend provides indexed ANN search.
const vectorSearchMaxCandidates = 10_000

// Upsert stores or replaces the vector for a note.
// Vectors are serialised as little-endian float32 BLOBs.
func (s *Store) Upsert(ctx context.Context, noteID, ownerID string, vector []float32) error {
	if noteID == "" || ownerID == "" {
		return fmt.Errorf("%w: note and owner IDs are required", storage.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (note_id, owner_id, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at`,
		noteID, ownerID, serializeVector(vector), len(vector), time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store embedding: %w", err)
	}
	return nil
}

// GetVector returns a note's stored vector.
func (s *Store) GetVector(ctx context.Context, noteID string) ([]float32, error) {
	var blob []byte
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, dimension FROM embeddings WHERE note_id = ?`, noteID).Scan(&blob, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embedding: %w", err)
	}
	return deserializeVector(blob, dim)
}

// Delete removes a note's vector.
func (s *Store) Delete(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete embedding: %w", err)
	}
	return nil
}

// Search brute-forces cosine similarity over the owner's stored embeddings
// and returns the topK closest active notes, best first.
func (s *Store) Search(ctx context.Context, vector []float32, ownerID string, topK int) ([]storage.VectorHit, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.note_id, e.embedding, e.dimension
		FROM embeddings e
		JOIN notes n ON n.id = e.note_id
		WHERE e.owner_id = ? AND n.active = 1
		ORDER BY e.updated_at DESC
		LIMIT ?`, ownerID, vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.VectorHit
	for rows.Next() {
		var noteID string
		var blob []byte
		var dim int
		if err := rows.Scan(&noteID, &blob, &dim); err != nil {
			continue
		}
		candidate, err := deserializeVector(blob, dim)
		if err != nil {
			continue
		}
		hits = append(hits, storage.VectorHit{
			NoteID: noteID,
			Score:  cosineSimilarity(vector, candidate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating embeddings: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// serializeVector encodes a float32 vector as a little-endian BLOB.
func serializeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeVector decodes a little-endian BLOB into a float32 vector,
// validating the stored dimension against the blob length.
func deserializeVector(blob []byte, dim int) ([]float32, error) {
	if dim <= 0 || len(blob) != 4*dim {
		return nil, fmt.Errorf("embedding blob length %d does not match dimension %d", len(blob), dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}

// cosineSimilarity computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
