package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage/sqlite"
	"github.com/engram-memory/engram/pkg/types"
)

// promptKind maps a prompt to the pipeline stage that produced it, so the
// fake generator can be scripted per stage instead of per call.
func promptKind(prompt string) string {
	switch {
	case strings.Contains(prompt, "Extract atomic memory notes"):
		return "extract"
	case strings.Contains(prompt, "Review candidate memory notes"):
		return "refine"
	case strings.Contains(prompt, "Enrich one memory note"):
		return "enrich"
	case strings.Contains(prompt, "Classify the relationship"):
		return "classify"
	case strings.Contains(prompt, "Rephrase a memory search query"):
		return "expand"
	case strings.Contains(prompt, "Merge near-duplicate"):
		return "merge"
	}
	return "unknown"
}

// fakeGenerator is a scripted llm.TextGenerator. Stages without a scripted
// response return an error, which exercises each stage's fallback path.
type fakeGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	callCount map[string]int

	// respond, when set, takes precedence over the responses map.
	respond func(kind string, call int, req llm.Request) (string, error)
}

func newFakeGenerator(responses map[string]string) *fakeGenerator {
	return &fakeGenerator{responses: responses, callCount: map[string]int{}}
}

func (g *fakeGenerator) Complete(_ context.Context, req llm.Request) (string, error) {
	kind := promptKind(req.Prompt)
	g.mu.Lock()
	call := g.callCount[kind]
	g.callCount[kind]++
	respond := g.respond
	resp, ok := g.responses[kind]
	g.mu.Unlock()

	if respond != nil {
		return respond(kind, call, req)
	}
	if !ok {
		return "", fmt.Errorf("no scripted response for %s prompt", kind)
	}
	return resp, nil
}

func (g *fakeGenerator) Model() string { return "fake-generator" }

func (g *fakeGenerator) calls(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callCount[kind]
}

// fakeEmbedder assigns a fixed vector to any text containing one of its
// keywords, so semantically "similar" texts get identical vectors.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	def     []float32
	err     error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{},
		def:     []float32{1, 0, 0, 0},
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := f.def
		for key, v := range f.vectors {
			if strings.Contains(lower, key) {
				vec = v
				break
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func (f *fakeEmbedder) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// newTestEngine wires a full engine onto an in-memory SQLite store with
// fast retry timing. The engine is not started; tests that need the worker
// pool call Start themselves.
func newTestEngine(t *testing.T, gen llm.TextGenerator, emb llm.EmbeddingGenerator) *Engine {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	settings, err := services.NewSettingsService(store, cfg, 64)
	if err != nil {
		t.Fatalf("failed to create settings service: %v", err)
	}

	engineCfg := DefaultConfig()
	engineCfg.Workers = 1
	engineCfg.RetryBackoff = time.Millisecond
	engineCfg.ShutdownTimeout = 5 * time.Second
	engineCfg.RecoveryBatchSize = 16

	eng, err := New(store, gen, emb, settings, cfg, engineCfg, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

// addTurn stores a turn directly for tests that bypass RecordTurn.
func addTurn(t *testing.T, eng *Engine, id, ownerID, userText string) *types.DialogueTurn {
	t.Helper()
	turn := &types.DialogueTurn{
		ID:        id,
		OwnerID:   ownerID,
		UserText:  userText,
		CreatedAt: time.Now().UTC(),
	}
	if err := eng.store.CreateTurn(context.Background(), turn); err != nil {
		t.Fatalf("failed to create turn %s: %v", id, err)
	}
	return turn
}

// addActiveNote stores an enriched note plus its embedding, skipping the
// extraction pipeline.
func addActiveNote(t *testing.T, eng *Engine, id, ownerID, content string, vec []float32) *types.AtomicNote {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	note := &types.AtomicNote{
		ID:                 id,
		OwnerID:            ownerID,
		Content:            content,
		NoteType:           "fact",
		Confidence:         0.9,
		OriginalConfidence: 0.9,
		Importance:         0.9,
		Mutability:         types.MutabilityMutable,
		Enriched:           true,
		LastValidated:      now,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := eng.store.CreateNote(ctx, note); err != nil {
		t.Fatalf("failed to create note %s: %v", id, err)
	}
	if vec != nil {
		if err := eng.store.Upsert(ctx, id, ownerID, vec); err != nil {
			t.Fatalf("failed to store vector for %s: %v", id, err)
		}
	}
	return note
}

// singleNoteResponse builds a minimal valid extraction response.
func singleNoteResponse(content string) string {
	return fmt.Sprintf(`{"notes":[{"content":%q,"note_type":"fact","confidence":0.9,"mutability":"mutable"}]}`, content)
}
