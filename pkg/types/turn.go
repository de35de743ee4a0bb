package types

import (
	"errors"
	"time"
)

// Validation sentinel errors shared by the types package.
var (
	ErrMissingOwner    = errors.New("owner id is required")
	ErrEmptyContent    = errors.New("content must not be empty")
	ErrMissingNoteType = errors.New("note type is required")
	ErrConfidenceRange = errors.New("confidence must be in [0,1]")
	ErrBadMutability   = errors.New("unknown mutability class")
)

// DialogueTurn is one user/assistant exchange ingested for extraction.
// Turns are created on ingest and mutated only to flip Extracted false→true;
// the flag is never reset except by explicit reprocessing.
type DialogueTurn struct {
	ID            string    `json:"id"`         // Unique identifier (format: turn:uuid)
	OwnerID       string    `json:"owner_id"`   // User the turn belongs to
	SessionID     string    `json:"session_id"` // Conversation session
	TurnNumber    int       `json:"turn_number"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Extracted     bool      `json:"extracted"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transcript renders the turn as the text fed to the extraction prompt.
func (t *DialogueTurn) Transcript() string {
	return "User: " + t.UserText + "\nAssistant: " + t.AssistantText
}
