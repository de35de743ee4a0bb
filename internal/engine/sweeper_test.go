package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/engram-memory/engram/internal/services"
)

func TestSweepAllDecaysAndConsolidates(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()
	now := time.Now().UTC()
	eng.decay.now = func() time.Time { return now }

	aged := addActiveNote(t, eng, "note:aged", "alice", "alice plays chess", []float32{0, 1, 0, 0})
	aged.OriginalConfidence = 0.8
	aged.Confidence = 0.8
	aged.LastValidated = now.Add(-90 * 24 * time.Hour)
	if err := eng.store.UpdateNote(ctx, aged); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	dup := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:d1", "alice", "alice drinks coffee", dup, now.Add(-2*time.Hour), 0.9)
	addNoteAt(t, eng, "note:d2", "alice", "alice enjoys coffee", dup, now.Add(-time.Hour), 0.9)

	NewSweeper(eng, time.Hour).SweepAll(ctx)

	want := 0.8 * math.Pow(0.99, 3)
	gotAged, _ := eng.store.GetNote(ctx, aged.ID)
	if math.Abs(gotAged.Confidence-want) > 1e-6 {
		t.Errorf("aged confidence: got %.6f, want %.6f", gotAged.Confidence, want)
	}

	primary, _ := eng.store.GetNote(ctx, "note:d1")
	if !primary.Active {
		t.Error("merge primary must stay active")
	}
	merged, _ := eng.store.GetNote(ctx, "note:d2")
	if merged.Active {
		t.Error("merged duplicate must be deactivated")
	}
}

func TestSweepAllSkipsOwnersWithSweepDisabled(t *testing.T) {
	eng := newTestEngine(t, newFakeGenerator(nil), newFakeEmbedder())
	ctx := context.Background()
	now := time.Now().UTC()
	eng.decay.now = func() time.Time { return now }

	off := false
	if err := eng.Settings().Save(ctx, "bob", &services.OwnerSettings{SweepEnabled: &off}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	aged := addActiveNote(t, eng, "note:bob-aged", "bob", "bob plays chess", []float32{0, 1, 0, 0})
	aged.OriginalConfidence = 0.8
	aged.Confidence = 0.8
	aged.LastValidated = now.Add(-90 * 24 * time.Hour)
	if err := eng.store.UpdateNote(ctx, aged); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	dup := []float32{1, 0, 0, 0}
	addNoteAt(t, eng, "note:bob-d1", "bob", "bob drinks coffee", dup, now.Add(-2*time.Hour), 0.9)
	addNoteAt(t, eng, "note:bob-d2", "bob", "bob enjoys coffee", dup, now.Add(-time.Hour), 0.9)

	NewSweeper(eng, time.Hour).SweepAll(ctx)

	gotAged, _ := eng.store.GetNote(ctx, aged.ID)
	if gotAged.Confidence != 0.8 {
		t.Errorf("disabled owner decayed: got %.6f, want 0.8", gotAged.Confidence)
	}
	for _, id := range []string{"note:bob-d1", "note:bob-d2"} {
		got, _ := eng.store.GetNote(ctx, id)
		if !got.Active {
			t.Errorf("disabled owner note %s was merged", id)
		}
	}
}

func TestSweeperJitterBounds(t *testing.T) {
	s := NewSweeper(nil, 10*time.Second)
	for i := 0; i < 200; i++ {
		j := s.jitter()
		if j < 0 || j > time.Second {
			t.Fatalf("jitter out of bounds: %s", j)
		}
	}

	if got := NewSweeper(nil, 0).jitter(); got != 0 {
		t.Errorf("zero interval jitter: got %s, want 0", got)
	}
}
