package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateEdge indicates an insert collided with an existing
	// (from, to, type) edge. Callers that want conditional update semantics
	// use EdgeStore.UpsertStronger instead of Create.
	ErrDuplicateEdge = errors.New("duplicate relationship edge")

	// ErrSelfLoop indicates a relationship pointing a note at itself.
	ErrSelfLoop = errors.New("relationship endpoints must differ")
)

// ListOptions provides pagination and filtering for note listing.
type ListOptions struct {
	// OwnerID restricts results to one owner. Empty means all owners
	// (used only by the sweep jobs).
	OwnerID string

	// NoteType filters by exact note type string (e.g. "preference:ui").
	// Empty string means no filter.
	NoteType string

	// IncludeInactive includes soft-deleted notes in results.
	IncludeInactive bool

	// CreatedAfter filters to notes created strictly after this time.
	// Zero value means no lower bound.
	CreatedAfter time.Time

	// CreatedBefore filters to notes created strictly before this time.
	// Zero value means no upper bound.
	CreatedBefore time.Time

	// SortBy specifies the sort field. Whitelisted in Normalize.
	SortBy string

	// SortOrder is "asc" or "desc" (default "desc").
	SortOrder string

	// Page is the page number (1-indexed).
	Page int

	// Limit is the number of items per page (default 50, max 500).
	Limit int
}

// Normalize applies defaults and whitelists the sort field so option values
// can be interpolated into ORDER BY clauses safely.
func (o *ListOptions) Normalize() {
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"importance": true,
		"confidence": true,
		"id":         true,
	}
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// PaginatedResult represents a paginated result set.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// VectorHit is a single nearest-neighbour result from the vector index.
type VectorHit struct {
	// NoteID is the note the stored vector belongs to.
	NoteID string

	// Score is the similarity to the query vector (higher is closer).
	Score float64
}

// LexicalHit is a single ranked result from lexical (term-overlap) search.
type LexicalHit struct {
	NoteID string

	// Score is the lexical relevance. Only the ordering matters to the
	// retrieval engine; rank fusion ignores the raw value.
	Score float64
}
