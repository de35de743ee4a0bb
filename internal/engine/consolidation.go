package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// consolidationScanCap bounds how many notes one owner scan will consider.
const consolidationScanCap = 2000

// Consolidator detects near-duplicate notes and merges each duplicate
// cluster into its primary note. The primary keeps the cluster's identity;
// duplicates are deactivated, their edges re-pointed at the primary, and
// their tags and keywords folded in. Merging is all-or-nothing per group:
// a failure leaves every note in the group untouched.
type Consolidator struct {
	store     storage.Store
	generator llm.TextGenerator
	enricher  *Enricher
	scorer    *ImportanceScorer
	settings  *services.SettingsService
}

// NewConsolidator creates a consolidator.
func NewConsolidator(store storage.Store, generator llm.TextGenerator, enricher *Enricher, scorer *ImportanceScorer, settings *services.SettingsService) *Consolidator {
	return &Consolidator{store: store, generator: generator, enricher: enricher, scorer: scorer, settings: settings}
}

// FindCandidates clusters an owner's active notes whose embeddings exceed
// the similarity threshold. Each returned group has the primary first.
// The primary is the oldest note in the cluster; on equal age the higher
// confidence wins.
func (c *Consolidator) FindCandidates(ctx context.Context, ownerID string, threshold float64) ([]types.ConsolidationGroup, error) {
	notes, err := c.listActiveNotes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(notes) < 2 {
		return nil, nil
	}

	// Union-find over similarity pairs discovered through the vector index.
	parent := make(map[string]string, len(notes))
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		parent[find(a)] = find(b)
	}
	byID := make(map[string]*types.AtomicNote, len(notes))
	for i := range notes {
		parent[notes[i].ID] = notes[i].ID
		byID[notes[i].ID] = &notes[i]
	}

	// bestScore remembers the strongest pairwise similarity each note was
	// clustered on, so groups can report ranked duplicates.
	bestScore := map[string]float64{}
	for i := range notes {
		note := &notes[i]
		vec, err := c.noteVector(ctx, note)
		if err != nil {
			log.Printf("[consolidation] skipping note %s, no usable vector: %v", note.ID, err)
			continue
		}
		hits, err := c.store.Search(ctx, vec, ownerID, 10)
		if err != nil {
			return nil, fmt.Errorf("similarity search failed for note %s: %w", note.ID, err)
		}
		for _, h := range hits {
			if h.NoteID == note.ID || h.Score < threshold {
				continue
			}
			if _, ok := byID[h.NoteID]; !ok {
				continue
			}
			union(note.ID, h.NoteID)
			if h.Score > bestScore[h.NoteID] {
				bestScore[h.NoteID] = h.Score
			}
			if h.Score > bestScore[note.ID] {
				bestScore[note.ID] = h.Score
			}
		}
	}

	clusters := map[string][]*types.AtomicNote{}
	for id := range parent {
		root := find(id)
		clusters[root] = append(clusters[root], byID[id])
	}

	var groups []types.ConsolidationGroup
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].Confidence > members[j].Confidence
		})
		group := types.ConsolidationGroup{PrimaryID: members[0].ID}
		for _, m := range members[1:] {
			group.Duplicates = append(group.Duplicates, types.ScoredDuplicate{
				NoteID:     m.ID,
				Similarity: bestScore[m.ID],
			})
		}
		sort.Slice(group.Duplicates, func(i, j int) bool {
			if group.Duplicates[i].Similarity != group.Duplicates[j].Similarity {
				return group.Duplicates[i].Similarity > group.Duplicates[j].Similarity
			}
			return group.Duplicates[i].NoteID < group.Duplicates[j].NoteID
		})
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].PrimaryID < groups[j].PrimaryID })
	return groups, nil
}

// Merge consolidates one group using the given strategy. The manual
// strategy never modifies anything; it exists so operators can inspect the
// groups FindCandidates reports and merge by hand. On any failure the
// group is returned to its prior state logically: nothing is written until
// the merged content is known.
func (c *Consolidator) Merge(ctx context.Context, group types.ConsolidationGroup, strategy string) error {
	if strategy == "manual" {
		return nil
	}

	primary, err := c.store.GetNote(ctx, group.PrimaryID)
	if err != nil {
		return fmt.Errorf("failed to load primary note %s: %w", group.PrimaryID, err)
	}

	duplicates := make([]*types.AtomicNote, 0, len(group.Duplicates))
	for _, d := range group.Duplicates {
		dup, err := c.store.GetNote(ctx, d.NoteID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to load duplicate note %s: %w", d.NoteID, err)
		}
		if !dup.Active {
			continue
		}
		duplicates = append(duplicates, dup)
	}
	if len(duplicates) == 0 {
		return nil
	}

	content := primary.Content
	switch strategy {
	case "automatic":
		// The primary's wording survives unchanged.
	case "llm_guided":
		contents := make([]string, 0, len(duplicates)+1)
		contents = append(contents, primary.Content)
		for _, dup := range duplicates {
			contents = append(contents, dup.Content)
		}
		raw, err := c.generator.Complete(ctx, llm.Request{
			System: llm.SystemMemoryCurator,
			Prompt: llm.MergePrompt(contents),
		})
		if err != nil {
			return fmt.Errorf("merge call failed for group %s: %w", group.PrimaryID, err)
		}
		content, err = llm.ParseMergeResponse(raw)
		if err != nil {
			return fmt.Errorf("merge response for group %s: %w", group.PrimaryID, err)
		}
	default:
		return fmt.Errorf("unsupported consolidation strategy %q", strategy)
	}

	return c.applyMerge(ctx, primary, duplicates, content)
}

// applyMerge performs the writes: fold metadata and confidence into the
// primary, re-point and drop duplicate edges, deactivate duplicates, then
// re-embed the primary to reflect its merged form.
func (c *Consolidator) applyMerge(ctx context.Context, primary *types.AtomicNote, duplicates []*types.AtomicNote, content string) error {
	now := time.Now().UTC()

	primary.Content = content
	for _, dup := range duplicates {
		primary.Tags = unionStrings(primary.Tags, dup.Tags)
		primary.Keywords = unionStrings(primary.Keywords, dup.Keywords)
		if dup.Confidence > primary.Confidence {
			primary.Confidence = dup.Confidence
			primary.OriginalConfidence = dup.OriginalConfidence
		}
	}
	primary.LastValidated = now
	primary.UpdatedAt = now

	for _, dup := range duplicates {
		edges, err := c.store.EdgesTouching(ctx, dup.ID)
		if err != nil {
			return fmt.Errorf("failed to load edges of duplicate %s: %w", dup.ID, err)
		}
		for _, edge := range edges {
			redirected := *edge
			redirected.ID = NewRelationshipID()
			if redirected.FromID == dup.ID {
				redirected.FromID = primary.ID
			}
			if redirected.ToID == dup.ID {
				redirected.ToID = primary.ID
			}
			if redirected.FromID == redirected.ToID {
				continue
			}
			redirected.UpdatedAt = now
			if _, err := c.store.UpsertStronger(ctx, &redirected); err != nil {
				return fmt.Errorf("failed to redirect edge %s: %w", edge.ID, err)
			}
		}
		if err := c.store.DeleteEdgesTouching(ctx, dup.ID); err != nil {
			return fmt.Errorf("failed to drop edges of duplicate %s: %w", dup.ID, err)
		}
		if err := c.store.DeactivateNote(ctx, dup.ID); err != nil {
			return fmt.Errorf("failed to deactivate duplicate %s: %w", dup.ID, err)
		}
		log.Printf("[consolidation] merged note %s into %s", dup.ID, primary.ID)
	}

	if err := c.store.UpdateNote(ctx, primary); err != nil {
		return fmt.Errorf("failed to persist merged primary %s: %w", primary.ID, err)
	}
	if _, err := c.enricher.Process(ctx, primary); err != nil {
		return fmt.Errorf("failed to re-embed merged primary %s: %w", primary.ID, err)
	}
	return c.scorer.Recompute(ctx, primary.ID)
}

// SweepOwner finds and merges all duplicate groups for one owner using the
// owner's effective strategy. Returns the number of groups merged.
func (c *Consolidator) SweepOwner(ctx context.Context, ownerID string) (int, error) {
	eff, err := c.settings.Effective(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	groups, err := c.FindCandidates(ctx, ownerID, eff.SimilarityThreshold)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, group := range groups {
		if err := c.Merge(ctx, group, eff.ConsolidationStrategy); err != nil {
			log.Printf("[consolidation] merge failed for group %s: %v", group.PrimaryID, err)
			continue
		}
		if eff.ConsolidationStrategy != "manual" {
			merged++
		}
	}
	return merged, nil
}

func (c *Consolidator) listActiveNotes(ctx context.Context, ownerID string) ([]types.AtomicNote, error) {
	var notes []types.AtomicNote
	opts := storage.ListOptions{OwnerID: ownerID, SortBy: "created_at", Limit: 500}
	for page := 1; ; page++ {
		opts.Page = page
		result, err := c.store.ListNotes(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for owner %s: %w", ownerID, err)
		}
		notes = append(notes, result.Items...)
		if !result.HasMore || len(notes) >= consolidationScanCap {
			break
		}
	}
	if len(notes) > consolidationScanCap {
		notes = notes[:consolidationScanCap]
	}
	return notes, nil
}

// noteVector prefers the stored embedding and falls back to re-embedding
// for notes whose vector is missing.
func (c *Consolidator) noteVector(ctx context.Context, note *types.AtomicNote) ([]float32, error) {
	vec, err := c.store.GetVector(ctx, note.ID)
	if err == nil {
		return vec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return c.enricher.embed(ctx, note)
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
