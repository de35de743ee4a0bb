package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// contextFallbackLimit caps the fallback contextual description taken from
// the note content.
const contextFallbackLimit = 200

// Enricher adds retrieval metadata to notes and writes their embeddings.
// Metadata generation degrades gracefully when the LLM fails; embedding
// generation does not, because a note without a vector is invisible to
// semantic retrieval.
type Enricher struct {
	store     storage.Store
	generator llm.TextGenerator
	embedder  llm.EmbeddingGenerator
}

// NewEnricher creates an enricher.
func NewEnricher(store storage.Store, generator llm.TextGenerator, embedder llm.EmbeddingGenerator) *Enricher {
	return &Enricher{store: store, generator: generator, embedder: embedder}
}

// Process enriches the note in place, persists it, and upserts its
// embedding. Returns the embedding vector for reuse by the graph builder.
// The note row must already exist; the caller owns rollback on error.
func (en *Enricher) Process(ctx context.Context, note *types.AtomicNote) ([]float32, error) {
	en.enrichMetadata(ctx, note)

	vector, err := en.embed(ctx, note)
	if err != nil {
		return nil, err
	}

	if err := en.store.Upsert(ctx, note.ID, note.OwnerID, vector); err != nil {
		return nil, fmt.Errorf("failed to store embedding for note %s: %w", note.ID, err)
	}

	note.EmbeddingID = note.ID
	note.Enriched = true
	note.UpdatedAt = time.Now().UTC()
	if err := en.store.UpdateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to persist enriched note %s: %w", note.ID, err)
	}

	return vector, nil
}

// enrichMetadata fills tags, keywords, and the contextual description.
// On LLM or parse failure each field falls back: tags to the note type,
// context to a prefix of the content, keywords to empty.
func (en *Enricher) enrichMetadata(ctx context.Context, note *types.AtomicNote) {
	raw, err := en.generator.Complete(ctx, llm.Request{
		System: llm.SystemMemoryCurator,
		Prompt: llm.EnrichmentPrompt(note.Content, note.NoteType),
	})
	if err == nil {
		var parsed *llm.EnrichmentResponse
		parsed, err = llm.ParseEnrichmentResponse(raw)
		if err == nil {
			// Extraction-proposed tags survive; enrichment adds to them.
			note.Tags = unionStrings(note.Tags, parsed.Tags)
			note.Keywords = parsed.Keywords
			note.ContextualDescription = strings.TrimSpace(parsed.Context)
		}
	}
	if err != nil {
		log.Printf("[enricher] enrichment failed for note %s, applying fallbacks: %v", note.ID, err)
	}

	if len(note.Tags) == 0 {
		note.Tags = []string{note.NoteType}
	}
	if note.Keywords == nil {
		note.Keywords = []string{}
	}
	if note.ContextualDescription == "" {
		note.ContextualDescription = truncate(note.Content, contextFallbackLimit)
	}
}

// embed generates the note's embedding from a labelled composite of its
// content and metadata, so the vector reflects the enriched note rather
// than the raw sentence alone.
func (en *Enricher) embed(ctx context.Context, note *types.AtomicNote) ([]float32, error) {
	composite := compositeText(note)
	vectors, err := en.embedder.Embed(ctx, []string{composite})
	if err != nil {
		return nil, fmt.Errorf("embedding call failed for note %s: %w", note.ID, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding for note %s, got %d", note.ID, len(vectors))
	}
	return vectors[0], nil
}

func compositeText(note *types.AtomicNote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "type: %s\n", note.NoteType)
	fmt.Fprintf(&b, "content: %s\n", note.Content)
	if note.ContextualDescription != "" {
		fmt.Fprintf(&b, "context: %s\n", note.ContextualDescription)
	}
	if len(note.Keywords) > 0 {
		fmt.Fprintf(&b, "keywords: %s\n", strings.Join(note.Keywords, ", "))
	}
	if len(note.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(note.Tags, ", "))
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
