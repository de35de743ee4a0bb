package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/engram-memory/engram/pkg/types"
)

func TestDecayFactor(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	d := eng.decay

	if got := d.DecayFactor(0); got != 1 {
		t.Errorf("DecayFactor(0): got %v, want 1", got)
	}
	if got := d.DecayFactor(-5); got != 1 {
		t.Errorf("DecayFactor(-5): got %v, want 1", got)
	}
	// One interval of 30 days applies the base once.
	if got := d.DecayFactor(30); math.Abs(got-0.99) > 1e-9 {
		t.Errorf("DecayFactor(30): got %v, want 0.99", got)
	}
	if got := d.DecayFactor(60); math.Abs(got-0.99*0.99) > 1e-9 {
		t.Errorf("DecayFactor(60): got %v, want 0.9801", got)
	}
}

func decayTestNote(mutability types.MutabilityClass, original float64, age time.Duration, now time.Time) *types.AtomicNote {
	return &types.AtomicNote{
		ID:                 "note:decay",
		OwnerID:            "alice",
		Content:            "decaying fact",
		NoteType:           "fact",
		Confidence:         original,
		OriginalConfidence: original,
		Mutability:         mutability,
		LastValidated:      now.Add(-age),
		Active:             true,
	}
}

func TestDecayedConfidenceMutableAtThirtyDays(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	now := time.Now().UTC()

	note := decayTestNote(types.MutabilityMutable, 0.8, 30*24*time.Hour, now)
	got := eng.decay.DecayedConfidence(note, now)
	if math.Abs(got-0.792) > 1e-9 {
		t.Errorf("mutable 0.8 at 30 days: got %.6f, want 0.792", got)
	}
}

func TestDecayedConfidenceImmutableFloor(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	now := time.Now().UTC()

	// A century of decay cannot take an immutable note below 80% of its
	// original confidence.
	note := decayTestNote(types.MutabilityImmutable, 0.8, 100*365*24*time.Hour, now)
	got := eng.decay.DecayedConfidence(note, now)
	if math.Abs(got-0.64) > 1e-9 {
		t.Errorf("immutable floor: got %.6f, want 0.64", got)
	}
}

func TestDecayedConfidenceAbsoluteMinimum(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	now := time.Now().UTC()

	note := decayTestNote(types.MutabilityMutable, 0.2, 100*365*24*time.Hour, now)
	got := eng.decay.DecayedConfidence(note, now)
	if got != 0.1 {
		t.Errorf("absolute minimum: got %.6f, want 0.1", got)
	}
}

func TestDecayedConfidenceTemporalDecaysLikeMutable(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	now := time.Now().UTC()

	mutable := decayTestNote(types.MutabilityMutable, 0.8, 90*24*time.Hour, now)
	temporal := decayTestNote(types.MutabilityTemporal, 0.8, 90*24*time.Hour, now)
	if eng.decay.DecayedConfidence(mutable, now) != eng.decay.DecayedConfidence(temporal, now) {
		t.Error("temporal notes must decay exactly like mutable notes")
	}
}

func TestDecayComputesFromOriginalConfidence(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	now := time.Now().UTC()

	// Current confidence already decayed far below the candidate; the
	// result must come from the original, not compound the decay.
	note := decayTestNote(types.MutabilityMutable, 0.8, 30*24*time.Hour, now)
	note.Confidence = 0.5
	got := eng.decay.DecayedConfidence(note, now)
	if math.Abs(got-0.792) > 1e-9 {
		t.Errorf("decay from original: got %.6f, want 0.792", got)
	}
}

func TestSweepOwnerAppliesDecay(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()
	now := time.Now().UTC()
	eng.decay.now = func() time.Time { return now }

	aged := addActiveNote(t, eng, "note:aged", "alice", "aged fact", nil)
	aged.OriginalConfidence = 0.8
	aged.Confidence = 0.8
	aged.LastValidated = now.Add(-90 * 24 * time.Hour)
	if err := eng.store.UpdateNote(ctx, aged); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	fresh := addActiveNote(t, eng, "note:fresh", "alice", "fresh fact", nil)

	changed, err := eng.decay.SweepOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("SweepOwner() failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("materially changed: got %d, want 1", changed)
	}

	want := 0.8 * math.Pow(0.99, 3)
	gotAged, _ := eng.store.GetNote(ctx, aged.ID)
	if math.Abs(gotAged.Confidence-want) > 1e-6 {
		t.Errorf("aged confidence: got %.6f, want %.6f", gotAged.Confidence, want)
	}
	// Importance follows the decayed confidence.
	if math.Abs(gotAged.Importance-want) > 1e-6 {
		t.Errorf("aged importance: got %.6f, want %.6f", gotAged.Importance, want)
	}

	gotFresh, _ := eng.store.GetNote(ctx, fresh.ID)
	if math.Abs(gotFresh.Confidence-0.9) > 1e-9 {
		t.Errorf("fresh confidence: got %.6f, want 0.9", gotFresh.Confidence)
	}
}

func TestSweepOwnerImmaterialChangeNotCounted(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()
	now := time.Now().UTC()
	eng.decay.now = func() time.Time { return now }

	// One interval of decay moves 0.8 to 0.792. Pin the threshold to that
	// exact delta: a change equal to the threshold is not material, so the
	// sweep writes the new confidence but does not count the note.
	eng.decay.cfg.MaterialChangeThreshold = math.Abs(0.8*0.99 - 0.8)
	note := addActiveNote(t, eng, "note:slight", "alice", "slightly aged fact", nil)
	note.OriginalConfidence = 0.8
	note.Confidence = 0.8
	note.LastValidated = now.Add(-30 * 24 * time.Hour)
	if err := eng.store.UpdateNote(ctx, note); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	changed, err := eng.decay.SweepOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("SweepOwner() failed: %v", err)
	}
	if changed != 0 {
		t.Errorf("materially changed: got %d, want 0", changed)
	}

	got, _ := eng.store.GetNote(ctx, note.ID)
	if math.Abs(got.Confidence-0.792) > 1e-9 {
		t.Errorf("confidence: got %.6f, want 0.792", got.Confidence)
	}
}

func TestSweepOwnerLeavesOtherOwnersAlone(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()
	now := time.Now().UTC()
	eng.decay.now = func() time.Time { return now }

	bobNote := addActiveNote(t, eng, "note:bob", "bob", "bob fact", nil)
	bobNote.LastValidated = now.Add(-300 * 24 * time.Hour)
	if err := eng.store.UpdateNote(ctx, bobNote); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	if _, err := eng.decay.SweepOwner(ctx, "alice"); err != nil {
		t.Fatalf("SweepOwner() failed: %v", err)
	}

	got, _ := eng.store.GetNote(ctx, bobNote.ID)
	if got.Confidence != 0.9 {
		t.Errorf("bob's confidence changed: got %.6f, want 0.9", got.Confidence)
	}
}
