package engine

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/engram-memory/engram/pkg/types"
)

// addNoteAt is addActiveNote with an explicit creation time and confidence,
// for tests that depend on primary selection order.
func addNoteAt(t *testing.T, eng *Engine, id, ownerID, content string, vec []float32, createdAt time.Time, confidence float64) *types.AtomicNote {
	t.Helper()
	ctx := context.Background()
	note := &types.AtomicNote{
		ID:                 id,
		OwnerID:            ownerID,
		Content:            content,
		NoteType:           "fact",
		Confidence:         confidence,
		OriginalConfidence: confidence,
		Importance:         confidence,
		Mutability:         types.MutabilityMutable,
		Tags:               []string{"fact"},
		Enriched:           true,
		LastValidated:      createdAt,
		Active:             true,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if err := eng.store.CreateNote(ctx, note); err != nil {
		t.Fatalf("failed to create note %s: %v", id, err)
	}
	if err := eng.store.Upsert(ctx, id, ownerID, vec); err != nil {
		t.Fatalf("failed to store vector for %s: %v", id, err)
	}
	return note
}

func TestFindCandidatesClustersSimilarNotes(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour)
	same := []float32{1, 0, 0, 0}
	other := []float32{0, 1, 0, 0}

	addNoteAt(t, eng, "note:a", "alice", "alice drinks coffee", same, base, 0.9)
	addNoteAt(t, eng, "note:b", "alice", "alice enjoys coffee", same, base.Add(time.Hour), 0.9)
	addNoteAt(t, eng, "note:c", "alice", "alice plays chess", other, base.Add(2*time.Hour), 0.9)

	groups, err := eng.consolidator.FindCandidates(ctx, "alice", 0.85)
	if err != nil {
		t.Fatalf("FindCandidates() failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	group := groups[0]
	if group.PrimaryID != "note:a" {
		t.Errorf("primary: got %q, want oldest note %q", group.PrimaryID, "note:a")
	}
	if len(group.Duplicates) != 1 || group.Duplicates[0].NoteID != "note:b" {
		t.Errorf("duplicates: got %v, want [note:b]", group.Duplicates)
	}
}

func TestFindCandidatesRanksDuplicatesBySimilarity(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour)
	exact := []float32{1, 0, 0, 0}
	// Unit vector at cosine 0.9 to the primary.
	near := []float32{0.9, 0.43588989, 0, 0}

	addNoteAt(t, eng, "note:primary", "alice", "alice drinks coffee", exact, base, 0.9)
	addNoteAt(t, eng, "note:near", "alice", "alice likes a coffee", near, base.Add(time.Hour), 0.9)
	addNoteAt(t, eng, "note:exact", "alice", "alice enjoys coffee", exact, base.Add(2*time.Hour), 0.9)

	groups, err := eng.consolidator.FindCandidates(ctx, "alice", 0.85)
	if err != nil {
		t.Fatalf("FindCandidates() failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	dups := groups[0].Duplicates
	if len(dups) != 2 {
		t.Fatalf("duplicates: got %v, want 2 entries", dups)
	}
	if dups[0].NoteID != "note:exact" || dups[1].NoteID != "note:near" {
		t.Errorf("duplicate order: got [%s %s], want strongest match first", dups[0].NoteID, dups[1].NoteID)
	}
	if dups[0].Similarity < 0.99 {
		t.Errorf("exact duplicate similarity: got %v, want ~1.0", dups[0].Similarity)
	}
	if dups[1].Similarity < 0.88 || dups[1].Similarity > 0.92 {
		t.Errorf("near duplicate similarity: got %v, want ~0.9", dups[1].Similarity)
	}
}

func TestFindCandidatesPrimaryTieBreaksOnConfidence(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()

	at := time.Now().UTC().Add(-time.Hour)
	vec := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:weak", "alice", "alice likes coffee", vec, at, 0.6)
	addNoteAt(t, eng, "note:strong", "alice", "alice loves coffee", vec, at, 0.95)

	groups, err := eng.consolidator.FindCandidates(ctx, "alice", 0.85)
	if err != nil {
		t.Fatalf("FindCandidates() failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	if groups[0].PrimaryID != "note:strong" {
		t.Errorf("primary: got %q, want higher-confidence %q", groups[0].PrimaryID, "note:strong")
	}
}

func TestFindCandidatesNoDuplicates(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC()
	addNoteAt(t, eng, "note:a", "alice", "alice drinks coffee", []float32{1, 0, 0, 0}, base, 0.9)
	addNoteAt(t, eng, "note:b", "alice", "alice plays chess", []float32{0, 1, 0, 0}, base, 0.9)

	groups, err := eng.consolidator.FindCandidates(ctx, "alice", 0.85)
	if err != nil {
		t.Fatalf("FindCandidates() failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups for orthogonal notes: got %v, want none", groups)
	}
}

func TestMergeAutomatic(t *testing.T) {
	gen := newFakeGenerator(nil)
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	vec := []float32{1, 0, 0, 0}
	primary := addNoteAt(t, eng, "note:primary", "alice", "alice drinks coffee", vec, base, 0.9)
	primary.Tags = []string{"coffee"}
	if err := eng.store.UpdateNote(ctx, primary); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}
	dup := addNoteAt(t, eng, "note:dup", "alice", "alice enjoys her coffee", vec, base.Add(time.Hour), 0.95)
	dup.Tags = []string{"coffee", "espresso"}
	if err := eng.store.UpdateNote(ctx, dup); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}
	addNoteAt(t, eng, "note:other", "alice", "alice works from a cafe", []float32{0, 1, 0, 0}, base, 0.9)

	// The duplicate carries an edge that must survive on the primary.
	if err := eng.store.CreateEdge(ctx, &types.NoteRelationship{
		ID: NewRelationshipID(), OwnerID: "alice",
		FromID: "note:dup", ToID: "note:other",
		Type: types.RelRelatedTo, Strength: 0.7,
		CreatedAt: base, UpdatedAt: base,
	}); err != nil {
		t.Fatalf("CreateEdge() failed: %v", err)
	}

	group := types.ConsolidationGroup{
		PrimaryID:  "note:primary",
		Duplicates: []types.ScoredDuplicate{{NoteID: "note:dup"}},
	}
	if err := eng.consolidator.Merge(ctx, group, "automatic"); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if gen.calls("merge") != 0 {
		t.Errorf("automatic merge called the LLM %d times", gen.calls("merge"))
	}

	merged, err := eng.store.GetNote(ctx, "note:primary")
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if merged.Content != "alice drinks coffee" {
		t.Errorf("primary content changed: %q", merged.Content)
	}
	gotTags := append([]string{}, merged.Tags...)
	sort.Strings(gotTags)
	wantTags := []string{"coffee", "espresso"}
	if len(gotTags) != len(wantTags) || gotTags[0] != wantTags[0] || gotTags[1] != wantTags[1] {
		t.Errorf("merged tags: got %v, want %v", merged.Tags, wantTags)
	}
	if merged.Confidence != 0.95 {
		t.Errorf("merged confidence: got %v, want the duplicate's 0.95", merged.Confidence)
	}

	gotDup, err := eng.store.GetNote(ctx, "note:dup")
	if err != nil {
		t.Fatalf("GetNote(dup) failed: %v", err)
	}
	if gotDup.Active {
		t.Error("duplicate still active after merge")
	}

	dupEdges, _ := eng.store.EdgesTouching(ctx, "note:dup")
	if len(dupEdges) != 0 {
		t.Errorf("duplicate edges remain: %d", len(dupEdges))
	}
	primaryEdges, _ := eng.store.EdgesFrom(ctx, "note:primary")
	if len(primaryEdges) != 1 || primaryEdges[0].ToID != "note:other" {
		t.Errorf("redirected edge: got %v, want one edge to note:other", primaryEdges)
	}
}

func TestMergeManualIsNoOp(t *testing.T) {
	gen := newFakeGenerator(nil)
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC()
	vec := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:primary", "alice", "alice drinks coffee", vec, base, 0.9)
	addNoteAt(t, eng, "note:dup", "alice", "alice enjoys coffee", vec, base, 0.9)

	group := types.ConsolidationGroup{
		PrimaryID:  "note:primary",
		Duplicates: []types.ScoredDuplicate{{NoteID: "note:dup"}},
	}
	if err := eng.consolidator.Merge(ctx, group, "manual"); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	gotDup, _ := eng.store.GetNote(ctx, "note:dup")
	if !gotDup.Active {
		t.Error("manual strategy deactivated the duplicate")
	}
}

func TestMergeLLMGuided(t *testing.T) {
	gen := newFakeGenerator(map[string]string{
		"merge": `{"content":"alice drinks coffee every morning"}`,
	})
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC()
	vec := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:primary", "alice", "alice drinks coffee", vec, base, 0.9)
	addNoteAt(t, eng, "note:dup", "alice", "alice has coffee in the morning", vec, base.Add(time.Minute), 0.9)

	group := types.ConsolidationGroup{
		PrimaryID:  "note:primary",
		Duplicates: []types.ScoredDuplicate{{NoteID: "note:dup"}},
	}
	if err := eng.consolidator.Merge(ctx, group, "llm_guided"); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	merged, _ := eng.store.GetNote(ctx, "note:primary")
	if merged.Content != "alice drinks coffee every morning" {
		t.Errorf("merged content: got %q", merged.Content)
	}
	gotDup, _ := eng.store.GetNote(ctx, "note:dup")
	if gotDup.Active {
		t.Error("duplicate still active after llm_guided merge")
	}
}

func TestMergeLLMGuidedFailureLeavesGroupUntouched(t *testing.T) {
	// No scripted merge response, so the merge call errors out.
	gen := newFakeGenerator(nil)
	eng := newTestEngine(t, gen, newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC()
	vec := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:primary", "alice", "alice drinks coffee", vec, base, 0.9)
	addNoteAt(t, eng, "note:dup", "alice", "alice enjoys coffee", vec, base, 0.9)

	group := types.ConsolidationGroup{
		PrimaryID:  "note:primary",
		Duplicates: []types.ScoredDuplicate{{NoteID: "note:dup"}},
	}
	if err := eng.consolidator.Merge(ctx, group, "llm_guided"); err == nil {
		t.Fatal("expected merge failure, got nil")
	}

	gotDup, _ := eng.store.GetNote(ctx, "note:dup")
	if !gotDup.Active {
		t.Error("failed merge deactivated the duplicate")
	}
	gotPrimary, _ := eng.store.GetNote(ctx, "note:primary")
	if gotPrimary.Content != "alice drinks coffee" {
		t.Errorf("failed merge modified the primary: %q", gotPrimary.Content)
	}
}

func TestMergeUnknownStrategy(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	group := types.ConsolidationGroup{PrimaryID: "note:x"}
	if err := eng.consolidator.Merge(context.Background(), group, "eager"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestConsolidationSweepOwner(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	vec := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:a", "alice", "alice drinks coffee", vec, base, 0.9)
	addNoteAt(t, eng, "note:b", "alice", "alice enjoys coffee", vec, base.Add(time.Minute), 0.9)
	addNoteAt(t, eng, "note:c", "alice", "alice plays chess", []float32{0, 1, 0, 0}, base, 0.9)

	// The default strategy is automatic, so the sweep merges the pair.
	merged, err := eng.consolidator.SweepOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("SweepOwner() failed: %v", err)
	}
	if merged != 1 {
		t.Errorf("merged groups: got %d, want 1", merged)
	}

	gotB, _ := eng.store.GetNote(ctx, "note:b")
	if gotB.Active {
		t.Error("duplicate still active after sweep")
	}
	gotC, _ := eng.store.GetNote(ctx, "note:c")
	if !gotC.Active {
		t.Error("unrelated note deactivated by sweep")
	}
}
