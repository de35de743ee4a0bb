package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// rerankPoolMultiplier bounds the candidate pool handed to the reranker at
// a multiple of the requested result count.
const rerankPoolMultiplier = 3

// RetrievedNote pairs a note with its fused retrieval score.
type RetrievedNote struct {
	Note  *types.AtomicNote
	Score float64
}

// Reranker reorders a candidate list with a stronger model. It is optional;
// retrieval works without one.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievedNote) ([]RetrievedNote, error)
}

// Retriever answers free-text queries over an owner's notes. The pipeline:
// expand the query into variants, run a hybrid vector+lexical search per
// variant fused with reciprocal rank fusion, sum scores across variants,
// pull in graph neighbours of the strongest hits, then optionally rerank.
type Retriever struct {
	store      storage.Store
	generator  llm.TextGenerator
	embedder   llm.EmbeddingGenerator
	settings   *services.SettingsService
	cfg        config.RetrievalConfig
	reranker   Reranker
	queryCache *lru.Cache[string, []float32]
}

// NewRetriever creates a retriever. reranker may be nil.
func NewRetriever(store storage.Store, generator llm.TextGenerator, embedder llm.EmbeddingGenerator, settings *services.SettingsService, cfg config.RetrievalConfig, reranker Reranker) (*Retriever, error) {
	r := &Retriever{
		store:     store,
		generator: generator,
		embedder:  embedder,
		settings:  settings,
		cfg:       cfg,
		reranker:  reranker,
	}
	if cfg.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query embedding cache: %w", err)
		}
		r.queryCache = cache
	}
	return r, nil
}

// Retrieve returns the topK most relevant active notes for the query.
// A topK of zero or less uses the owner's configured default.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, topK int) ([]RetrievedNote, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	eff, err := r.settings.Effective(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = eff.RetrievalTopK
	}

	variants := r.expandQuery(ctx, query, eff.MaxQueryVariants)

	scores := r.searchVariants(ctx, ownerID, variants)
	if len(scores) == 0 {
		return nil, nil
	}

	r.expandGraph(ctx, scores)

	results, err := r.loadResults(ctx, scores)
	if err != nil {
		return nil, err
	}

	if r.reranker != nil && len(results) > 1 {
		pool := results
		if limit := topK * rerankPoolMultiplier; len(pool) > limit {
			pool = pool[:limit]
		}
		reranked, err := r.reranker.Rerank(ctx, query, pool)
		if err != nil {
			log.Printf("[retriever] rerank failed, keeping fused order: %v", err)
		} else {
			results = reranked
		}
	}

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// expandQuery asks the LLM for alternative phrasings. The original query is
// always the first variant; on any failure it is the only one.
func (r *Retriever) expandQuery(ctx context.Context, query string, maxVariants int) []string {
	variants := []string{query}
	if maxVariants <= 0 {
		return variants
	}

	raw, err := r.generator.Complete(ctx, llm.Request{
		System:      llm.SystemMemoryCurator,
		Prompt:      llm.QueryExpansionPrompt(query, maxVariants),
		Temperature: 0.5,
	})
	if err != nil {
		log.Printf("[retriever] query expansion failed, searching original only: %v", err)
		return variants
	}
	parsed, err := llm.ParseQueryVariants(raw)
	if err != nil {
		log.Printf("[retriever] query expansion unparseable, searching original only: %v", err)
		return variants
	}

	seen := map[string]bool{query: true}
	for _, v := range parsed {
		if seen[v] || len(variants) > maxVariants {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	return variants
}

// searchVariants runs the hybrid search for every variant concurrently and
// sums the per-variant fused scores by note ID.
func (r *Retriever) searchVariants(ctx context.Context, ownerID string, variants []string) map[string]float64 {
	var mu sync.Mutex
	var wg sync.WaitGroup
	total := map[string]float64{}

	for _, variant := range variants {
		wg.Add(1)
		go func(variant string) {
			defer wg.Done()
			fused, err := r.hybridSearch(ctx, ownerID, variant)
			if err != nil {
				log.Printf("[retriever] variant %q failed: %v", variant, err)
				return
			}
			mu.Lock()
			for id, score := range fused {
				total[id] += score
			}
			mu.Unlock()
		}(variant)
	}
	wg.Wait()
	return total
}

// hybridSearch fuses one variant's vector and lexical rankings with
// reciprocal rank fusion: each list contributes 1/(k+rank) per note, rank
// starting at 1.
func (r *Retriever) hybridSearch(ctx context.Context, ownerID, variant string) (map[string]float64, error) {
	fused := map[string]float64{}

	vector, err := r.embedQuery(ctx, variant)
	if err != nil {
		log.Printf("[retriever] embedding failed for %q, lexical only: %v", variant, err)
	} else {
		hits, err := r.store.Search(ctx, vector, ownerID, r.cfg.CandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		for rank, hit := range hits {
			fused[hit.NoteID] += r.rrf(rank + 1)
		}
	}

	lexical, err := r.store.LexicalSearch(ctx, ownerID, variant, r.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	for rank, hit := range lexical {
		fused[hit.NoteID] += r.rrf(rank + 1)
	}

	return fused, nil
}

func (r *Retriever) rrf(rank int) float64 {
	return 1.0 / float64(r.cfg.RRFK+rank)
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.queryCache != nil {
		if vec, ok := r.queryCache.Get(text); ok {
			return vec, nil
		}
	}
	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	if r.queryCache != nil {
		r.queryCache.Add(text, vectors[0])
	}
	return vectors[0], nil
}

// expandGraph adds relationship neighbours of the scored notes. A
// neighbour's contribution is the source score discounted by the edge
// strength and by the hop decay once per hop, so distant or weakly linked
// notes surface only behind strong direct hits.
func (r *Retriever) expandGraph(ctx context.Context, scores map[string]float64) {
	if r.cfg.MaxHops <= 0 {
		return
	}

	frontier := make(map[string]float64, len(scores))
	for id, score := range scores {
		frontier[id] = score
	}
	visited := map[string]bool{}
	for id := range scores {
		visited[id] = true
	}

	for hop := 1; hop <= r.cfg.MaxHops; hop++ {
		next := map[string]float64{}
		for id, pathScore := range frontier {
			edges, err := r.store.EdgesTouching(ctx, id)
			if err != nil {
				log.Printf("[retriever] graph expansion failed at note %s: %v", id, err)
				continue
			}
			for _, edge := range edges {
				neighbour := edge.ToID
				if neighbour == id {
					neighbour = edge.FromID
				}
				if visited[neighbour] {
					continue
				}
				contribution := pathScore * edge.Strength * r.cfg.HopDecay
				scores[neighbour] += contribution
				if next[neighbour] < contribution {
					next[neighbour] = contribution
				}
			}
		}
		for id := range next {
			visited[id] = true
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
}

// loadResults materialises scored IDs into notes, dropping inactive or
// vanished notes, ordered by score descending with ID as the tiebreak.
func (r *Retriever) loadResults(ctx context.Context, scores map[string]float64) ([]RetrievedNote, error) {
	results := make([]RetrievedNote, 0, len(scores))
	for id, score := range scores {
		note, err := r.store.GetNote(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load note %s: %w", id, err)
		}
		if !note.Active {
			continue
		}
		results = append(results, RetrievedNote{Note: note, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Note.ID < results[j].Note.ID
	})
	return results, nil
}
