package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// extractionTemperature keeps extraction output stable across attempts.
const extractionTemperature = 0.1

// Extractor turns a dialogue turn into atomic notes. Extraction is
// idempotent per turn: the extracted flag on the turn guards against
// duplicate processing, and exact content dedup guards against re-creating
// notes that already exist for the owner.
type Extractor struct {
	store      storage.Store
	generator  llm.TextGenerator
	enricher   *Enricher
	graph      *GraphBuilder
	importance *ImportanceScorer
	multiPass  bool
}

// NewExtractor creates an extractor wired to the full write-path pipeline.
// multiPass enables the second extraction pass that surfaces missed facts.
func NewExtractor(store storage.Store, generator llm.TextGenerator, enricher *Enricher, graph *GraphBuilder, importance *ImportanceScorer, multiPass bool) *Extractor {
	return &Extractor{
		store:      store,
		generator:  generator,
		enricher:   enricher,
		graph:      graph,
		importance: importance,
		multiPass:  multiPass,
	}
}

// ExtractTurn processes one turn end to end. A non-nil error means the
// attempt failed and may be retried; a non-nil result is terminal for this
// attempt (completed or already_extracted).
func (e *Extractor) ExtractTurn(ctx context.Context, turnID string) (*ExtractResult, error) {
	turn, err := e.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turn %s: %w", turnID, err)
	}

	if turn.Extracted {
		return &ExtractResult{TurnID: turnID, Status: types.ExtractAlreadyExtracted}, nil
	}

	candidates, skipped, err := e.extractCandidates(ctx, turn)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{TurnID: turnID, Status: types.ExtractCompleted, Skipped: skipped}

	for _, cand := range candidates {
		note, err := e.materialize(ctx, turn, cand)
		if err != nil {
			log.Printf("[extractor] dropping candidate for turn %s: %v", turnID, err)
			result.Skipped++
			continue
		}
		if note == nil {
			// Exact duplicate of an existing active note.
			result.Skipped++
			continue
		}
		result.Notes = append(result.Notes, note)
	}

	if err := e.store.MarkExtracted(ctx, turnID); err != nil {
		return nil, fmt.Errorf("failed to mark turn %s extracted: %w", turnID, err)
	}

	return result, nil
}

// extractCandidates runs the extraction passes. The first pass pulls
// candidate notes from the transcript; when multi-pass extraction is
// enabled a second pass surfaces facts the first pass missed, and its
// output is added to the first pass's candidates. A failure in the first
// pass fails the attempt; a failure in the second keeps the first-pass
// candidates.
func (e *Extractor) extractCandidates(ctx context.Context, turn *types.DialogueTurn) ([]llm.NoteResponse, int, error) {
	raw, err := e.generator.Complete(ctx, llm.Request{
		System:      llm.SystemMemoryCurator,
		Prompt:      llm.NoteExtractionPrompt(turn.Transcript()),
		Temperature: extractionTemperature,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("extraction call failed for turn %s: %w", turn.ID, err)
	}

	candidates, skippedNotes, err := llm.ParseNoteResponse(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("extraction response for turn %s: %w", turn.ID, err)
	}
	for _, s := range skippedNotes {
		log.Printf("[extractor] skipped candidate for turn %s: %s", turn.ID, s.Reason)
	}

	if len(candidates) == 0 || !e.multiPass {
		return candidates, len(skippedNotes), nil
	}

	additional, err := e.secondPass(ctx, turn, candidates)
	if err != nil {
		log.Printf("[extractor] second extraction pass failed for turn %s, keeping first-pass notes: %v", turn.ID, err)
		return candidates, len(skippedNotes), nil
	}
	return append(candidates, additional...), len(skippedNotes), nil
}

// secondPass asks for facts the first pass missed. The first-pass
// candidates are never replaced; only additional notes come back.
func (e *Extractor) secondPass(ctx context.Context, turn *types.DialogueTurn, candidates []llm.NoteResponse) ([]llm.NoteResponse, error) {
	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}

	raw, err := e.generator.Complete(ctx, llm.Request{
		System:      llm.SystemMemoryCurator,
		Prompt:      llm.SecondPassPrompt(turn.Transcript(), contents),
		Temperature: extractionTemperature,
	})
	if err != nil {
		return nil, err
	}

	additional, _, err := llm.ParseNoteResponse(raw)
	if err != nil {
		return nil, err
	}
	return additional, nil
}

// materialize validates, dedups, stores, enriches, and wires one candidate
// into the graph. Returns (nil, nil) for exact duplicates. Any failure
// after the note row is created rolls the row back so a half-built note
// never becomes visible.
func (e *Extractor) materialize(ctx context.Context, turn *types.DialogueTurn, cand llm.NoteResponse) (*types.AtomicNote, error) {
	now := time.Now().UTC()
	note := &types.AtomicNote{
		ID:                 NewNoteID(),
		OwnerID:            turn.OwnerID,
		Content:            cand.Content,
		NoteType:           cand.NoteType,
		Confidence:         cand.Confidence,
		OriginalConfidence: cand.Confidence,
		Importance:         cand.Confidence,
		Tags:               cand.Tags,
		Mutability:         types.MutabilityClass(cand.Mutability),
		SourceTurnID:       turn.ID,
		LastValidated:      now,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := note.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}

	exists, err := e.store.ContentExists(ctx, turn.OwnerID, note.Content)
	if err != nil {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}
	if exists {
		return nil, nil
	}

	if err := e.store.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	vector, err := e.enricher.Process(ctx, note)
	if err != nil {
		if purgeErr := e.store.PurgeNote(ctx, note.ID); purgeErr != nil {
			log.Printf("[extractor] ERROR: rollback of note %s failed: %v", note.ID, purgeErr)
		}
		return nil, fmt.Errorf("enrichment failed, note rolled back: %w", err)
	}

	// Graph building is best effort: a note without edges is still useful.
	if err := e.graph.BuildFor(ctx, note, vector); err != nil {
		log.Printf("[extractor] graph building failed for note %s: %v", note.ID, err)
	}

	return note, nil
}
