// Package storage provides composable storage interfaces for the Engram system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Two backends ship with
// the system: SQLite (modernc.org/sqlite, CGO-free, the default) and
// PostgreSQL with pgvector for indexed ANN search.
package storage

import (
	"context"

	"github.com/engram-memory/engram/pkg/types"
)

// TurnStore persists dialogue turns and the monotonic extracted flag.
type TurnStore interface {
	// CreateTurn stores a new dialogue turn.
	CreateTurn(ctx context.Context, turn *types.DialogueTurn) error

	// GetTurn retrieves a turn by ID. Returns ErrNotFound if absent.
	GetTurn(ctx context.Context, id string) (*types.DialogueTurn, error)

	// MarkExtracted flips the extracted flag to true. The flag is monotonic:
	// there is no API to reset it short of ResetExtraction.
	MarkExtracted(ctx context.Context, id string) error

	// ResetExtraction explicitly clears the extracted flag for reprocessing.
	ResetExtraction(ctx context.Context, id string) error

	// ListUnextracted returns up to limit turns with extracted=false, oldest
	// first. Used by startup recovery to re-queue interrupted extractions.
	ListUnextracted(ctx context.Context, limit int) ([]*types.DialogueTurn, error)
}

// NoteStore provides CRUD, listing and dedup lookups for atomic notes.
type NoteStore interface {
	// CreateNote stores a new note.
	CreateNote(ctx context.Context, note *types.AtomicNote) error

	// GetNote retrieves a note by ID. Returns ErrNotFound if absent.
	GetNote(ctx context.Context, id string) (*types.AtomicNote, error)

	// UpdateNote modifies an existing note. Returns ErrNotFound if absent.
	UpdateNote(ctx context.Context, note *types.AtomicNote) error

	// ListNotes retrieves notes with pagination and filtering.
	ListNotes(ctx context.Context, opts ListOptions) (*PaginatedResult[types.AtomicNote], error)

	// ContentExists reports whether an active note with byte-identical
	// content already exists for the owner. This is the extractor's exact,
	// case-sensitive dedup check.
	ContentExists(ctx context.Context, ownerID, content string) (bool, error)

	// DeactivateNote soft-deletes a note (active=false).
	DeactivateNote(ctx context.Context, id string) error

	// RestoreNote un-deletes a soft-deleted note.
	RestoreNote(ctx context.Context, id string) error

	// PurgeNote hard-deletes a note and its embedding row.
	PurgeNote(ctx context.Context, id string) error

	// ListOwners returns the distinct owner IDs that have active notes.
	// Sweep jobs iterate owners independently.
	ListOwners(ctx context.Context) ([]string, error)
}

// EdgeStore manages the directed relationship graph between notes.
type EdgeStore interface {
	// UpsertStronger inserts the edge, or updates the stored strength only if
	// rel.Strength is strictly greater than the existing one. Returns true
	// when a row was inserted or updated. Rejects self-loops with ErrSelfLoop.
	UpsertStronger(ctx context.Context, rel *types.NoteRelationship) (bool, error)

	// CreateEdge inserts a new edge, returning ErrDuplicateEdge when the
	// (from, to, type) triple already exists and ErrSelfLoop for self-loops.
	CreateEdge(ctx context.Context, rel *types.NoteRelationship) error

	// EdgesTouching returns all edges where the note is either endpoint.
	EdgesTouching(ctx context.Context, noteID string) ([]*types.NoteRelationship, error)

	// EdgesFrom returns outgoing edges of a note.
	EdgesFrom(ctx context.Context, noteID string) ([]*types.NoteRelationship, error)

	// DeleteEdgesTouching removes all edges where the note is either
	// endpoint. Used when consolidation purges a duplicate.
	DeleteEdgesTouching(ctx context.Context, noteID string) error
}

// VectorIndex is the opaque nearest-neighbour service contract. The SQLite
// backend brute-forces cosine similarity over BLOB-encoded vectors; the
// PostgreSQL backend delegates to pgvector.
type VectorIndex interface {
	// Upsert stores or replaces the vector for a note.
	Upsert(ctx context.Context, noteID, ownerID string, vector []float32) error

	// Search returns the topK most similar notes for the owner, best first.
	// Inactive notes are excluded.
	Search(ctx context.Context, vector []float32, ownerID string, topK int) ([]VectorHit, error)

	// GetVector returns a note's stored vector. Returns ErrNotFound when no
	// vector has been written for the note.
	GetVector(ctx context.Context, noteID string) ([]float32, error)

	// Delete removes a note's vector.
	Delete(ctx context.Context, noteID string) error
}

// LexicalSearcher ranks notes by term overlap with a free-text query.
type LexicalSearcher interface {
	// LexicalSearch returns up to topK active notes of the owner ranked by
	// lexical relevance, best first. An empty result is not an error.
	LexicalSearch(ctx context.Context, ownerID, query string, topK int) ([]LexicalHit, error)
}

// SettingsStore persists per-owner setting overrides as an opaque JSON
// document. Interpretation of the document is the settings service's job.
type SettingsStore interface {
	// GetOwnerSettings returns the raw settings document for the owner.
	// Returns ErrNotFound when the owner has no stored overrides.
	GetOwnerSettings(ctx context.Context, ownerID string) ([]byte, error)

	// PutOwnerSettings stores or replaces the settings document.
	PutOwnerSettings(ctx context.Context, ownerID string, doc []byte) error

	// DeleteOwnerSettings removes the owner's overrides.
	DeleteOwnerSettings(ctx context.Context, ownerID string) error
}

// Store composes everything a backend must provide.
type Store interface {
	TurnStore
	NoteStore
	EdgeStore
	VectorIndex
	LexicalSearcher
	SettingsStore

	// Close releases any resources held by the store.
	Close() error
}
