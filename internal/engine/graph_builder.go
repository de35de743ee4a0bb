package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// GraphBuilder connects a new note to its semantic neighbours. For each new
// note it finds the most similar existing notes, asks the LLM to classify
// the relationship per pair, and persists edges that clear the strength
// floor. When the LLM is unavailable it falls back to similarity-based
// heuristics so the graph still grows, just with coarser edges.
type GraphBuilder struct {
	store     storage.Store
	generator llm.TextGenerator
	settings  *services.SettingsService
	scorer    *ImportanceScorer
}

// NewGraphBuilder creates a graph builder.
func NewGraphBuilder(store storage.Store, generator llm.TextGenerator, settings *services.SettingsService, scorer *ImportanceScorer) *GraphBuilder {
	return &GraphBuilder{store: store, generator: generator, settings: settings, scorer: scorer}
}

// BuildFor classifies and persists relationships between the note and its
// nearest neighbours, then refreshes importance for every touched note.
func (g *GraphBuilder) BuildFor(ctx context.Context, note *types.AtomicNote, vector []float32) error {
	eff, err := g.settings.Effective(ctx, note.OwnerID)
	if err != nil {
		return err
	}

	// One extra hit because the search includes the note itself.
	hits, err := g.store.Search(ctx, vector, note.OwnerID, eff.GraphNeighborLimit+1)
	if err != nil {
		return fmt.Errorf("neighbour search failed for note %s: %w", note.ID, err)
	}

	neighbours := make([]storage.VectorHit, 0, len(hits))
	for _, h := range hits {
		if h.NoteID == note.ID {
			continue
		}
		neighbours = append(neighbours, h)
		if len(neighbours) == eff.GraphNeighborLimit {
			break
		}
	}
	if len(neighbours) == 0 {
		return nil
	}

	classified, err := g.classify(ctx, note, neighbours)
	if err != nil {
		log.Printf("[graph] classification failed for note %s, using heuristics: %v", note.ID, err)
		classified = heuristicRelationships(ctx, g.store, note, neighbours)
	}

	touched := map[string]bool{}
	for _, rel := range classified {
		if rel.Strength < eff.WeakEdgeFloor {
			continue
		}
		edge := &types.NoteRelationship{
			ID:        NewRelationshipID(),
			OwnerID:   note.OwnerID,
			FromID:    note.ID,
			ToID:      rel.NoteID,
			Type:      rel.Type,
			Strength:  rel.Strength,
			Reasoning: rel.Reasoning,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		changed, err := g.store.UpsertStronger(ctx, edge)
		if err != nil {
			if errors.Is(err, storage.ErrSelfLoop) {
				continue
			}
			log.Printf("[graph] failed to persist edge %s -> %s: %v", edge.FromID, edge.ToID, err)
			continue
		}
		if changed {
			touched[edge.FromID] = true
			touched[edge.ToID] = true
		}
	}

	for noteID := range touched {
		if err := g.scorer.Recompute(ctx, noteID); err != nil {
			log.Printf("[graph] importance recompute failed for note %s: %v", noteID, err)
		}
	}
	return nil
}

func (g *GraphBuilder) classify(ctx context.Context, note *types.AtomicNote, neighbours []storage.VectorHit) ([]llm.RelationshipResponse, error) {
	candidates := make([]llm.RelationshipCandidate, 0, len(neighbours))
	for _, h := range neighbours {
		neighbour, err := g.store.GetNote(ctx, h.NoteID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, llm.RelationshipCandidate{ID: neighbour.ID, Content: neighbour.Content})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	raw, err := g.generator.Complete(ctx, llm.Request{
		System: llm.SystemMemoryCurator,
		Prompt: llm.RelationshipClassificationPrompt(note.Content, candidates),
	})
	if err != nil {
		return nil, err
	}

	classified, err := llm.ParseRelationshipResponse(raw)
	if err != nil {
		return nil, err
	}

	// Drop classifications pointing at notes that were not offered.
	offered := map[string]bool{}
	for _, c := range candidates {
		offered[c.ID] = true
	}
	valid := classified[:0]
	for _, rel := range classified {
		if offered[rel.NoteID] && rel.NoteID != note.ID {
			valid = append(valid, rel)
		}
	}
	return valid, nil
}
