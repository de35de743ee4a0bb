// Package services holds application services that sit between storage and
// the engine: per-owner settings with caching.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/storage"
)

// OwnerSettings are the per-owner tuning overrides. Nil fields mean the
// global config value applies.
type OwnerSettings struct {
	SimilarityThreshold   *float64 `json:"similarity_threshold,omitempty"`
	WeakEdgeFloor         *float64 `json:"weak_edge_floor,omitempty"`
	GraphNeighborLimit    *int     `json:"graph_neighbor_limit,omitempty"`
	RetrievalTopK         *int     `json:"retrieval_top_k,omitempty"`
	MaxQueryVariants      *int     `json:"max_query_variants,omitempty"`
	ConsolidationStrategy *string  `json:"consolidation_strategy,omitempty"`
	SweepEnabled          *bool    `json:"sweep_enabled,omitempty"`
}

// EffectiveSettings are the fully resolved per-owner values after applying
// overrides on top of the global config.
type EffectiveSettings struct {
	SimilarityThreshold   float64
	WeakEdgeFloor         float64
	GraphNeighborLimit    int
	RetrievalTopK         int
	MaxQueryVariants      int
	ConsolidationStrategy string
	SweepEnabled          bool
}

// SettingsService resolves per-owner settings against global defaults and
// caches resolved values in an LRU. The cache is invalidated explicitly by
// whoever writes settings; there is no TTL.
type SettingsService struct {
	store    storage.SettingsStore
	defaults config.Config
	cache    *lru.Cache[string, EffectiveSettings]
}

// NewSettingsService creates a settings service backed by store, resolving
// against cfg. cacheSize bounds the LRU; a non-positive size disables
// caching.
func NewSettingsService(store storage.SettingsStore, cfg *config.Config, cacheSize int) (*SettingsService, error) {
	s := &SettingsService{store: store, defaults: *cfg}
	if cacheSize > 0 {
		cache, err := lru.New[string, EffectiveSettings](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create settings cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Effective returns the resolved settings for an owner, consulting the
// cache first.
func (s *SettingsService) Effective(ctx context.Context, ownerID string) (EffectiveSettings, error) {
	if s.cache != nil {
		if eff, ok := s.cache.Get(ownerID); ok {
			return eff, nil
		}
	}

	eff := s.globalDefaults()
	doc, err := s.store.GetOwnerSettings(ctx, ownerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return eff, fmt.Errorf("failed to load settings for %s: %w", ownerID, err)
	}
	if err == nil {
		var overrides OwnerSettings
		if err := json.Unmarshal(doc, &overrides); err != nil {
			return eff, fmt.Errorf("corrupt settings document for %s: %w", ownerID, err)
		}
		applyOverrides(&eff, &overrides)
	}

	if s.cache != nil {
		s.cache.Add(ownerID, eff)
	}
	return eff, nil
}

// Save validates and persists overrides for an owner, then invalidates the
// cached entry.
func (s *SettingsService) Save(ctx context.Context, ownerID string, overrides *OwnerSettings) error {
	if err := validateOverrides(overrides); err != nil {
		return err
	}
	doc, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := s.store.PutOwnerSettings(ctx, ownerID, doc); err != nil {
		return err
	}
	s.Invalidate(ownerID)
	return nil
}

// Reset removes all overrides for an owner.
func (s *SettingsService) Reset(ctx context.Context, ownerID string) error {
	if err := s.store.DeleteOwnerSettings(ctx, ownerID); err != nil {
		return err
	}
	s.Invalidate(ownerID)
	return nil
}

// Invalidate drops the cached entry for an owner. Called after any write
// that changes the owner's settings, including writes made out of band.
func (s *SettingsService) Invalidate(ownerID string) {
	if s.cache != nil {
		s.cache.Remove(ownerID)
	}
}

// InvalidateAll drops every cached entry. The config watcher calls this
// when global defaults change.
func (s *SettingsService) InvalidateAll() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// UpdateDefaults replaces the global defaults and flushes the cache.
func (s *SettingsService) UpdateDefaults(cfg *config.Config) {
	s.defaults = *cfg
	s.InvalidateAll()
}

func (s *SettingsService) globalDefaults() EffectiveSettings {
	return EffectiveSettings{
		SimilarityThreshold:   s.defaults.Sweep.SimilarityThreshold,
		WeakEdgeFloor:         s.defaults.Memory.WeakEdgeFloor,
		GraphNeighborLimit:    s.defaults.Memory.GraphNeighborLimit,
		RetrievalTopK:         s.defaults.Retrieval.TopK,
		MaxQueryVariants:      s.defaults.Retrieval.MaxVariants,
		ConsolidationStrategy: s.defaults.Sweep.ConsolidationStrategy,
		SweepEnabled:          s.defaults.Sweep.Enabled,
	}
}

func applyOverrides(eff *EffectiveSettings, o *OwnerSettings) {
	if o.SimilarityThreshold != nil {
		eff.SimilarityThreshold = *o.SimilarityThreshold
	}
	if o.WeakEdgeFloor != nil {
		eff.WeakEdgeFloor = *o.WeakEdgeFloor
	}
	if o.GraphNeighborLimit != nil {
		eff.GraphNeighborLimit = *o.GraphNeighborLimit
	}
	if o.RetrievalTopK != nil {
		eff.RetrievalTopK = *o.RetrievalTopK
	}
	if o.MaxQueryVariants != nil {
		eff.MaxQueryVariants = *o.MaxQueryVariants
	}
	if o.ConsolidationStrategy != nil {
		eff.ConsolidationStrategy = *o.ConsolidationStrategy
	}
	if o.SweepEnabled != nil {
		eff.SweepEnabled = *o.SweepEnabled
	}
}

func validateOverrides(o *OwnerSettings) error {
	if o == nil {
		return fmt.Errorf("settings: nil overrides")
	}
	if o.SimilarityThreshold != nil && (*o.SimilarityThreshold <= 0 || *o.SimilarityThreshold > 1) {
		return fmt.Errorf("settings: similarity threshold %.2f out of (0, 1]", *o.SimilarityThreshold)
	}
	if o.WeakEdgeFloor != nil && (*o.WeakEdgeFloor < 0 || *o.WeakEdgeFloor > 1) {
		return fmt.Errorf("settings: weak edge floor %.2f out of [0, 1]", *o.WeakEdgeFloor)
	}
	if o.GraphNeighborLimit != nil && *o.GraphNeighborLimit < 1 {
		return fmt.Errorf("settings: graph neighbor limit must be at least 1")
	}
	if o.RetrievalTopK != nil && *o.RetrievalTopK < 1 {
		return fmt.Errorf("settings: retrieval top k must be at least 1")
	}
	if o.MaxQueryVariants != nil && *o.MaxQueryVariants < 0 {
		return fmt.Errorf("settings: max query variants cannot be negative")
	}
	if o.ConsolidationStrategy != nil {
		switch *o.ConsolidationStrategy {
		case "automatic", "llm_guided", "manual":
		default:
			return fmt.Errorf("settings: unsupported consolidation strategy %q", *o.ConsolidationStrategy)
		}
	}
	return nil
}
