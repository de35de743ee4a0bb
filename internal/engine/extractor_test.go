package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

func TestExtractTurnCreatesEnrichedNote(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user drinks espresso every morning"),
		"enrich":   `{"tags":["coffee"],"keywords":["espresso","morning"],"context":"Daily coffee habit"}`,
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "I have an espresso every morning")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if result.Status != types.ExtractCompleted {
		t.Fatalf("status: got %s, want completed", result.Status)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("note count: got %d, want 1", len(result.Notes))
	}

	note, err := eng.store.GetNote(ctx, result.Notes[0].ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if !note.Enriched {
		t.Error("note not marked enriched")
	}
	if len(note.Tags) != 1 || note.Tags[0] != "coffee" {
		t.Errorf("tags: got %v, want [coffee]", note.Tags)
	}
	if note.ContextualDescription != "Daily coffee habit" {
		t.Errorf("context: got %q", note.ContextualDescription)
	}
	if note.OriginalConfidence != 0.9 || note.Confidence != 0.9 {
		t.Errorf("confidence: got %v/%v, want 0.9/0.9", note.Confidence, note.OriginalConfidence)
	}
	if note.SourceTurnID != turn.ID {
		t.Errorf("source turn: got %q, want %q", note.SourceTurnID, turn.ID)
	}
	if note.EmbeddingID != note.ID {
		t.Errorf("embedding id: got %q, want %q", note.EmbeddingID, note.ID)
	}
	if _, err := eng.store.GetVector(ctx, note.ID); err != nil {
		t.Errorf("GetVector() failed: %v", err)
	}

	gotTurn, _ := eng.store.GetTurn(ctx, turn.ID)
	if !gotTurn.Extracted {
		t.Error("turn not marked extracted")
	}
}

func TestExtractTurnEnrichmentFallbacks(t *testing.T) {
	// No scripted enrich response: the enricher must fall back to derived
	// metadata rather than fail the note.
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user is fluent in Portuguese"),
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "Eu falo português fluentemente")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}

	note := result.Notes[0]
	if len(note.Tags) != 1 || note.Tags[0] != "fact" {
		t.Errorf("fallback tags: got %v, want [fact]", note.Tags)
	}
	if note.ContextualDescription != note.Content {
		t.Errorf("fallback context: got %q, want the content", note.ContextualDescription)
	}
	if len(note.Keywords) != 0 {
		t.Errorf("fallback keywords: got %v, want empty", note.Keywords)
	}
	if !note.Enriched {
		t.Error("degraded enrichment should still mark the note enriched")
	}

	stored, err := eng.store.GetNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if !stored.Enriched {
		t.Error("stored note not marked enriched")
	}
}

func TestExtractTurnEmptyNotesCompletes(t *testing.T) {
	gen := newFakeGenerator(map[string]string{"extract": `{"notes":[]}`})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "nice weather today")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if result.Status != types.ExtractCompleted || len(result.Notes) != 0 {
		t.Errorf("result: got %s with %d notes, want completed with 0", result.Status, len(result.Notes))
	}

	gotTurn, _ := eng.store.GetTurn(ctx, turn.ID)
	if !gotTurn.Extracted {
		t.Error("turn with no memorable content must still be marked extracted")
	}
	if gen.calls("refine") != 0 {
		t.Error("refinement pass should be skipped when there are no candidates")
	}
}

func TestExtractTurnIsIdempotent(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user owns a cat"),
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "my cat knocked over a plant")
	first, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("first ExtractTurn() failed: %v", err)
	}
	if first.Status != types.ExtractCompleted {
		t.Fatalf("first status: got %s", first.Status)
	}

	second, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("second ExtractTurn() failed: %v", err)
	}
	if second.Status != types.ExtractAlreadyExtracted {
		t.Errorf("second status: got %s, want already_extracted", second.Status)
	}
	if len(second.Notes) != 0 {
		t.Errorf("second run created %d notes", len(second.Notes))
	}
	if gen.calls("extract") != 1 {
		t.Errorf("extraction calls: got %d, want 1", gen.calls("extract"))
	}
}

func TestExtractTurnDedupsExactContent(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user owns a cat"),
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	addTurn(t, eng, "turn:1", "alice", "I have a cat")
	addTurn(t, eng, "turn:2", "alice", "did I mention my cat?")

	if _, err := eng.extractor.ExtractTurn(ctx, "turn:1"); err != nil {
		t.Fatalf("first ExtractTurn() failed: %v", err)
	}
	result, err := eng.extractor.ExtractTurn(ctx, "turn:2")
	if err != nil {
		t.Fatalf("second ExtractTurn() failed: %v", err)
	}
	if result.Status != types.ExtractCompleted {
		t.Errorf("status: got %s, want completed", result.Status)
	}
	if len(result.Notes) != 0 || result.Skipped != 1 {
		t.Errorf("dedup: got %d notes, %d skipped, want 0 and 1", len(result.Notes), result.Skipped)
	}

	gotTurn, _ := eng.store.GetTurn(ctx, "turn:2")
	if !gotTurn.Extracted {
		t.Error("dedup-only turn must still be marked extracted")
	}
}

func TestExtractTurnUnparseableResponseFailsAttempt(t *testing.T) {
	gen := newFakeGenerator(map[string]string{"extract": "I cannot produce JSON today."})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "something memorable")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err == nil {
		t.Fatalf("ExtractTurn(): got result %+v, want error", result)
	}

	gotTurn, _ := eng.store.GetTurn(ctx, turn.ID)
	if gotTurn.Extracted {
		t.Error("failed attempt must leave the turn unextracted")
	}
}

func TestExtractTurnRefinementFailureKeepsFirstPass(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user runs marathons"),
		"classify": `{"relationships":[]}`,
	})
	// Unscripted refine stage returns an error.
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "I ran my third marathon last week")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if len(result.Notes) != 1 || result.Notes[0].Content != "The user runs marathons" {
		t.Errorf("fallback to first pass: got %+v", result.Notes)
	}
	if gen.calls("refine") != 1 {
		t.Errorf("refine calls: got %d, want 1", gen.calls("refine"))
	}
}

func TestExtractTurnSecondPassAddsMissedFacts(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract": singleNoteResponse("The user lives in Berlin"),
		"refine": `{"notes":[
			{"content":"The user works as a nurse","note_type":"fact","confidence":0.9,"mutability":"temporal"}
		]}`,
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "I live in Berlin and work as a nurse")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if len(result.Notes) != 2 {
		t.Fatalf("note count: got %d, want 2", len(result.Notes))
	}
	// First-pass notes survive; the second pass only appends.
	if result.Notes[0].Content != "The user lives in Berlin" {
		t.Errorf("first note: got %q", result.Notes[0].Content)
	}
	if result.Notes[1].Content != "The user works as a nurse" {
		t.Errorf("second note: got %q", result.Notes[1].Content)
	}
}

func TestExtractTurnSecondPassDisabled(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user lives in Berlin"),
		"classify": `{"relationships":[]}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	eng.extractor.multiPass = false
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "I live in Berlin")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("note count: got %d, want 1", len(result.Notes))
	}
	if gen.calls("refine") != 0 {
		t.Errorf("refine calls: got %d, want 0 when the second pass is off", gen.calls("refine"))
	}
}

func TestExtractTurnCarriesProposedTags(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract": `{"notes":[{"content":"The user prefers dark mode","note_type":"preference:ui",` +
			`"confidence":0.8,"mutability":"mutable","tags":["ui","appearance"]}]}`,
		"classify": `{"relationships":[]}`,
	})
	// Unscripted enrich stage: fallback metadata must keep the proposed tags.
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "always use dark mode please")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("note count: got %d, want 1", len(result.Notes))
	}
	note := result.Notes[0]
	if note.NoteType != "preference:ui" {
		t.Errorf("note type: got %q, want preference:ui", note.NoteType)
	}
	if len(note.Tags) != 2 || note.Tags[0] != "ui" || note.Tags[1] != "appearance" {
		t.Errorf("tags: got %v, want [ui appearance]", note.Tags)
	}
}

func TestExtractTurnRollsBackOnEmbeddingFailure(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"extract":  singleNoteResponse("The user collects vinyl records"),
		"classify": `{"relationships":[]}`,
	})
	emb := newFakeEmbedder()
	emb.setError(fmt.Errorf("embedding backend down"))
	eng := newTestEngine(t, gen, emb)
	ctx := context.Background()

	turn := addTurn(t, eng, "turn:1", "alice", "I collect vinyl")
	result, err := eng.extractor.ExtractTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ExtractTurn() failed: %v", err)
	}
	if len(result.Notes) != 0 || result.Skipped != 1 {
		t.Errorf("result: got %d notes, %d skipped, want 0 and 1", len(result.Notes), result.Skipped)
	}

	// The half-built note row must be gone.
	listed, err := eng.store.ListNotes(ctx, storage.ListOptions{OwnerID: "alice", IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if listed.Total != 0 {
		t.Errorf("rolled-back notes still present: %d", listed.Total)
	}
}

func TestExtractTurnMissingTurn(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())

	_, err := eng.extractor.ExtractTurn(context.Background(), "turn:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing turn: got %v, want ErrNotFound", err)
	}
}
