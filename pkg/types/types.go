// Package types defines the core data structures for the Engram memory system:
// dialogue turns, atomic notes, typed note relationships, and their metadata.
package types

import "strings"

// ExtractStatus represents the outcome of an extraction attempt on a turn.
type ExtractStatus string

// Extraction outcome constants
const (
	// ExtractCompleted indicates extraction finished; the turn is marked extracted.
	ExtractCompleted ExtractStatus = "completed"

	// ExtractAlreadyExtracted indicates the turn was previously extracted
	// and the call was an idempotent no-op.
	ExtractAlreadyExtracted ExtractStatus = "already_extracted"

	// ExtractRetryScheduled indicates the generator response was unparseable
	// and a bounded retry has been queued.
	ExtractRetryScheduled ExtractStatus = "retry_scheduled"

	// ExtractFailed indicates the retry budget is exhausted; the turn stays
	// unextracted until an external re-trigger.
	ExtractFailed ExtractStatus = "failed"
)

// MutabilityClass describes how a fact ages. It drives the confidence floor
// applied during temporal decay.
type MutabilityClass string

const (
	// MutabilityMutable marks facts expected to change (preferences, plans).
	MutabilityMutable MutabilityClass = "mutable"

	// MutabilityImmutable marks facts that do not change (birthplace, history).
	// Immutable notes keep at least 80% of their original confidence.
	MutabilityImmutable MutabilityClass = "immutable"

	// MutabilityTemporal marks facts tied to a point in time (current job,
	// current address). They decay like mutable facts.
	MutabilityTemporal MutabilityClass = "temporal"
)

// Relationship type constants for the directed, typed edges between notes.
const (
	// RelRelatedTo is the generic association edge.
	RelRelatedTo = "related_to"

	// RelContradicts links a note to one it conflicts with.
	RelContradicts = "contradicts"

	// RelRefines links a more specific note to the note it sharpens.
	RelRefines = "refines"

	// RelContextFor links a note that provides background for another.
	RelContextFor = "context_for"

	// RelFollowsFrom links a note that supersedes or derives from another.
	RelFollowsFrom = "follows_from"
)

// ValidRelationshipTypes is a slice of all valid relationship types for validation.
var ValidRelationshipTypes = []string{
	RelRelatedTo,
	RelContradicts,
	RelRefines,
	RelContextFor,
	RelFollowsFrom,
}

// IsValidRelationshipType checks if the given relationship type is valid.
func IsValidRelationshipType(relType string) bool {
	for _, validType := range ValidRelationshipTypes {
		if validType == relType {
			return true
		}
	}
	return false
}

// IsValidMutabilityClass checks if the given mutability class is valid.
func IsValidMutabilityClass(class MutabilityClass) bool {
	switch class {
	case MutabilityMutable, MutabilityImmutable, MutabilityTemporal:
		return true
	}
	return false
}

// Note type namespace constants. Note types are namespaced strings such as
// "preference:ui" or "fact:biography"; the part before the colon is the
// namespace, the part after it a free-form qualifier.
const (
	NoteNamespacePreference = "preference"
	NoteNamespaceFact       = "fact"
	NoteNamespaceSkill      = "skill"
	NoteNamespaceGoal       = "goal"
	NoteNamespaceEvent      = "event"
	NoteNamespaceRelation   = "relation"
)

// ValidNoteNamespaces is a slice of all recognised note type namespaces.
var ValidNoteNamespaces = []string{
	NoteNamespacePreference,
	NoteNamespaceFact,
	NoteNamespaceSkill,
	NoteNamespaceGoal,
	NoteNamespaceEvent,
	NoteNamespaceRelation,
}

// IsValidNoteNamespace checks whether ns is a recognised note type namespace.
func IsValidNoteNamespace(ns string) bool {
	for _, valid := range ValidNoteNamespaces {
		if valid == ns {
			return true
		}
	}
	return false
}

// IsValidNoteType checks whether the note type's namespace is recognised.
// Types may carry a qualifier after a colon, e.g. "preference:ui".
func IsValidNoteType(noteType string) bool {
	if i := strings.IndexByte(noteType, ':'); i >= 0 {
		noteType = noteType[:i]
	}
	return IsValidNoteNamespace(noteType)
}
