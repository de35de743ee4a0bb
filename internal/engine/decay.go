package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// DecayManager ages note confidence over time. Confidence follows
// base^(age_days/interval) of the original confidence, clamped to an
// absolute minimum, and immutable notes additionally never drop below a
// fixed fraction of their original confidence. The decayed value is always
// written back; the material-change threshold only gates logging.
type DecayManager struct {
	store  storage.Store
	scorer *ImportanceScorer
	cfg    config.MemoryConfig
	now    func() time.Time
}

// NewDecayManager creates a decay manager.
func NewDecayManager(store storage.Store, scorer *ImportanceScorer, cfg config.MemoryConfig) *DecayManager {
	return &DecayManager{store: store, scorer: scorer, cfg: cfg, now: time.Now}
}

// DecayFactor returns the multiplicative factor for a note of the given age.
func (d *DecayManager) DecayFactor(ageDays float64) float64 {
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(d.cfg.DecayBase, ageDays/d.cfg.DecayIntervalDays)
}

// DecayedConfidence computes the note's confidence at the given time.
func (d *DecayManager) DecayedConfidence(note *types.AtomicNote, now time.Time) float64 {
	factor := d.DecayFactor(note.AgeDays(now))
	candidate := note.OriginalConfidence * factor
	if candidate < d.cfg.MinConfidence {
		candidate = d.cfg.MinConfidence
	}
	if note.Mutability == types.MutabilityImmutable {
		floor := note.OriginalConfidence * d.cfg.ImmutableFloorRatio
		if candidate < floor {
			candidate = floor
		}
	}
	return candidate
}

// SweepOwner applies decay to every active note of one owner. Returns the
// number of notes whose confidence materially changed.
func (d *DecayManager) SweepOwner(ctx context.Context, ownerID string) (int, error) {
	now := d.now().UTC()
	changed := 0
	opts := storage.ListOptions{OwnerID: ownerID, SortBy: "created_at", Limit: 500}

	for page := 1; ; page++ {
		opts.Page = page
		result, err := d.store.ListNotes(ctx, opts)
		if err != nil {
			return changed, fmt.Errorf("failed to list notes for owner %s: %w", ownerID, err)
		}

		for i := range result.Items {
			note := &result.Items[i]
			if err := d.decayNote(ctx, note, now, &changed); err != nil {
				log.Printf("[decay] failed to decay note %s: %v", note.ID, err)
			}
		}

		if !result.HasMore {
			break
		}
	}
	return changed, nil
}

func (d *DecayManager) decayNote(ctx context.Context, note *types.AtomicNote, now time.Time, changed *int) error {
	candidate := d.DecayedConfidence(note, now)
	delta := math.Abs(candidate - note.Confidence)

	if delta > d.cfg.MaterialChangeThreshold {
		*changed++
		log.Printf("[decay] note %s confidence %.3f -> %.3f (age %.1fd)",
			note.ID, note.Confidence, candidate, note.AgeDays(now))
	}

	note.Confidence = candidate
	note.UpdatedAt = now
	if err := d.store.UpdateNote(ctx, note); err != nil {
		return err
	}

	// Importance is derived from confidence, so it moves with it.
	return d.scorer.recomputeNote(ctx, note)
}
