package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// ImportanceScorer derives a note's importance from its confidence and its
// position in the relationship graph. Well-connected notes matter more:
// the total strength of edges touching the note (either direction) is
// scaled by the edge weight factor and added to confidence, with the boost
// capped so a hub note cannot dominate retrieval outright.
type ImportanceScorer struct {
	store storage.Store
	cfg   config.MemoryConfig
}

// NewImportanceScorer creates an importance scorer.
func NewImportanceScorer(store storage.Store, cfg config.MemoryConfig) *ImportanceScorer {
	return &ImportanceScorer{store: store, cfg: cfg}
}

// Score computes importance from a confidence and summed edge strength
// without touching storage.
func (s *ImportanceScorer) Score(confidence, totalEdgeStrength float64) float64 {
	boost := s.cfg.EdgeWeightFactor * totalEdgeStrength
	if boost > s.cfg.ImportanceBoostCap {
		boost = s.cfg.ImportanceBoostCap
	}
	return confidence + boost
}

// Recompute reloads the note's edges and persists the refreshed importance.
func (s *ImportanceScorer) Recompute(ctx context.Context, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return fmt.Errorf("failed to load note %s: %w", noteID, err)
	}
	return s.recomputeNote(ctx, note)
}

func (s *ImportanceScorer) recomputeNote(ctx context.Context, note *types.AtomicNote) error {
	edges, err := s.store.EdgesTouching(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("failed to load edges for note %s: %w", note.ID, err)
	}

	var total float64
	for _, edge := range edges {
		total += edge.Strength
	}

	importance := s.Score(note.Confidence, total)
	if importance == note.Importance {
		return nil
	}

	note.Importance = importance
	note.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return fmt.Errorf("failed to persist importance for note %s: %w", note.ID, err)
	}
	return nil
}
