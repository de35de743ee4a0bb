// Package engine provides the core memory engine: asynchronous note
// extraction from dialogue turns, enrichment, relationship graph building,
// importance scoring, decay, consolidation, and retrieval. Extraction runs
// on a worker pool fed by a bounded job queue so recording a turn never
// blocks on the LLM.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engram-memory/engram/pkg/types"
)

// ErrMaxRetriesExceeded is the terminal error string recorded on an
// extraction that exhausted its retry budget.
const ErrMaxRetriesExceeded = "max_retries_exceeded"

// ExtractionJob represents a queued extraction of one dialogue turn.
type ExtractionJob struct {
	// TurnID is the turn to extract notes from.
	TurnID string

	// OwnerID is the turn's owner.
	OwnerID string

	// Attempt counts extraction attempts so far; 0 for the first try.
	Attempt int

	// Enqueued is when the job entered the queue.
	Enqueued time.Time
}

// ExtractResult reports the outcome of processing one turn.
type ExtractResult struct {
	TurnID string
	Status types.ExtractStatus

	// Notes are the notes created by a completed extraction.
	Notes []*types.AtomicNote

	// Skipped counts candidates dropped by validation or dedup.
	Skipped int

	// Err holds the terminal error string for failed extractions.
	Err string
}

// Config holds worker pool configuration for the engine.
type Config struct {
	// Workers is the number of extraction worker goroutines (default: 4).
	Workers int

	// QueueSize is the extraction job queue capacity (default: 256).
	QueueSize int

	// MaxRetries is the number of retries after the first failed attempt
	// (default: 2, so three attempts in total).
	MaxRetries int

	// MultiPass enables the second extraction pass that surfaces facts the
	// first pass missed (default: true).
	MultiPass bool

	// RetryBackoff is the delay before a retry attempt (default: 30s).
	RetryBackoff time.Duration

	// ShutdownTimeout bounds the wait for workers to drain (default: 30s).
	ShutdownTimeout time.Duration

	// RecoveryBatchSize is the number of unextracted turns re-queued per
	// startup recovery batch (default: 256).
	RecoveryBatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueSize:         256,
		MaxRetries:        2,
		MultiPass:         true,
		RetryBackoff:      30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RecoveryBatchSize: 256,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RetryBackoff must be >= 0, got %v", c.RetryBackoff)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.RecoveryBatchSize < 1 {
		return fmt.Errorf("RecoveryBatchSize must be >= 1, got %d", c.RecoveryBatchSize)
	}
	return nil
}

// NewTurnID generates a unique dialogue turn ID.
func NewTurnID() string {
	return "turn:" + uuid.NewString()
}

// NewNoteID generates a unique note ID.
func NewNoteID() string {
	return "note:" + uuid.NewString()
}

// NewRelationshipID generates a unique relationship ID.
func NewRelationshipID() string {
	return "rel:" + uuid.NewString()
}
