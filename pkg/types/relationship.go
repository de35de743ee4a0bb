package types

import "time"

// NoteRelationship is a directed, typed edge between two notes of the same
// owner. The (FromID, ToID, Type) triple is unique; self-loops are rejected
// and strengths below the configured floor are never persisted.
type NoteRelationship struct {
	ID      string `json:"id"`       // Unique identifier (format: rel:uuid)
	OwnerID string `json:"owner_id"` // Owner of both endpoint notes
	FromID  string `json:"from_id"`  // Source note ID
	ToID    string `json:"to_id"`    // Target note ID
	Type    string `json:"type"`     // One of the Rel* constants

	// Strength is the classifier's confidence in the edge (0.0-1.0).
	// An existing edge is only overwritten by a strictly greater strength.
	Strength float64 `json:"strength"`

	// Reasoning is the classifier's short justification. Informational only.
	Reasoning string `json:"reasoning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsolidationGroup is an ephemeral clustering result: a primary note plus
// the duplicates that should fold into it. Groups are computed on demand by
// the consolidation engine and never stored.
type ConsolidationGroup struct {
	PrimaryID  string            `json:"primary_id"`
	Duplicates []ScoredDuplicate `json:"duplicates"`
}

// ScoredDuplicate identifies a candidate duplicate within a group, with its
// similarity to the primary when known.
type ScoredDuplicate struct {
	NoteID     string  `json:"note_id"`
	Similarity float64 `json:"similarity,omitempty"`
}
