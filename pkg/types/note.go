package types

import (
	"strings"
	"time"
)

// AtomicNote is a single short, independently meaningful fact, preference, or
// skill extracted from a dialogue turn. Notes are the atomic units of storage:
// they carry content, semantic enrichment, an embedding handle, and the
// confidence/importance signals used by decay and retrieval.
type AtomicNote struct {
	// Core identification fields
	ID      string `json:"id"`       // Unique identifier (format: note:uuid)
	OwnerID string `json:"owner_id"` // User the note belongs to
	Content string `json:"content"`  // Short note text
	// NoteType is a namespaced type string, e.g. "preference:ui" or
	// "fact:biography". Namespace validity is checked with IsValidNoteNamespace.
	NoteType string `json:"note_type"`
	Context  string `json:"context,omitempty"` // Free-text source context

	// Confidence and importance signals
	Confidence float64 `json:"confidence"` // Current confidence (0.0-1.0)
	// OriginalConfidence is an immutable snapshot of the confidence at
	// creation time. Decay always computes from this value, never from the
	// already-decayed current confidence.
	OriginalConfidence float64 `json:"original_confidence"`
	// Importance is derived: confidence plus a capped graph-connectivity
	// bonus. It is recomputable at any time and never persisted as truth.
	Importance float64 `json:"importance"`

	// Enrichment fields (populated by the enrichment stage)
	Keywords   []string `json:"keywords,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ContextualDescription string `json:"contextual_description,omitempty"`
	Enriched   bool     `json:"enriched"` // True once enrichment ran, rich or degraded

	// EmbeddingID is the handle under which the composite embedding was
	// upserted into the vector index. Empty until enrichment succeeds.
	EmbeddingID string `json:"embedding_id,omitempty"`

	// Provenance
	SourceTurnID string `json:"source_turn_id,omitempty"` // Turn the note came from (may be empty)

	// Lifecycle
	Mutability    MutabilityClass `json:"mutability"`
	LastValidated time.Time       `json:"last_validated"` // Last time the fact was confirmed
	Active        bool            `json:"active"`         // Soft-delete flag
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Namespace returns the namespace part of the note type ("preference" for
// "preference:ui"). Returns the whole type when there is no colon.
func (n *AtomicNote) Namespace() string {
	if i := strings.IndexByte(n.NoteType, ':'); i >= 0 {
		return n.NoteType[:i]
	}
	return n.NoteType
}

// AgeDays returns the note's age in days measured from LastValidated.
// Negative values (clock skew) are possible and handled by the decay resolver.
func (n *AtomicNote) AgeDays(now time.Time) float64 {
	return now.Sub(n.LastValidated).Hours() / 24.0
}

// Validate checks the invariants every stored note must satisfy.
func (n *AtomicNote) Validate() error {
	switch {
	case n.OwnerID == "":
		return ErrMissingOwner
	case strings.TrimSpace(n.Content) == "":
		return ErrEmptyContent
	case n.NoteType == "":
		return ErrMissingNoteType
	case n.Confidence < 0 || n.Confidence > 1:
		return ErrConfidenceRange
	case !IsValidMutabilityClass(n.Mutability):
		return ErrBadMutability
	}
	return nil
}
