package engine

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// Sweeper periodically runs maintenance over every owner: confidence decay
// first, then consolidation, so duplicates are compared at their current
// confidence. Owners that disabled sweeping in their settings are skipped.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper creates a sweeper driving the engine's maintenance operations.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled. The first
// sweep runs after one full interval, not at startup, so a crash-restart
// loop cannot turn into a sweep loop. Each wait carries a random jitter so
// multiple daemons sharing a store do not sweep in lockstep.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[sweeper] started, interval %s", s.interval)
	for {
		timer := time.NewTimer(s.interval + s.jitter())
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("[sweeper] stopped")
			return
		case <-timer.C:
			s.SweepAll(ctx)
		}
	}
}

// jitter returns a random delay of up to a tenth of the interval.
func (s *Sweeper) jitter() time.Duration {
	if s.interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(s.interval)/10 + 1))
}

// SweepAll runs one maintenance pass across all owners.
func (s *Sweeper) SweepAll(ctx context.Context) {
	owners, err := s.engine.Owners(ctx)
	if err != nil {
		log.Printf("[sweeper] failed to list owners: %v", err)
		return
	}

	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return
		}
		s.sweepOwner(ctx, ownerID)
	}
}

func (s *Sweeper) sweepOwner(ctx context.Context, ownerID string) {
	eff, err := s.engine.Settings().Effective(ctx, ownerID)
	if err != nil {
		log.Printf("[sweeper] failed to resolve settings for %s: %v", ownerID, err)
		return
	}
	if !eff.SweepEnabled {
		return
	}

	start := time.Now()
	decayed, err := s.engine.DecaySweep(ctx, ownerID)
	if err != nil {
		log.Printf("[sweeper] decay sweep failed for %s: %v", ownerID, err)
		return
	}

	merged, err := s.engine.ConsolidationSweep(ctx, ownerID)
	if err != nil {
		log.Printf("[sweeper] consolidation sweep failed for %s: %v", ownerID, err)
		return
	}

	log.Printf("[sweeper] owner %s: %d notes decayed, %d groups merged in %s",
		ownerID, decayed, merged, time.Since(start).Round(time.Millisecond))
}
