package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// Engine is the orchestrator for the memory system. RecordTurn writes the
// turn synchronously and queues extraction; worker goroutines run the
// extraction pipeline in the background. Retrieval, decay, and
// consolidation are exposed as synchronous operations.
type Engine struct {
	config Config
	store  storage.Store

	extractor    *Extractor
	enricher     *Enricher
	graph        *GraphBuilder
	scorer       *ImportanceScorer
	decay        *DecayManager
	consolidator *Consolidator
	retriever    *Retriever
	settings     *services.SettingsService

	queue        chan *ExtractionJob
	workerWG     sync.WaitGroup
	workerCtx    context.Context
	workerCancel context.CancelFunc

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	onTurnRecorded       func(turnID string)
	onExtractionComplete func(result *ExtractResult)
	onNoteCreated        func(noteID string)
}

// New assembles an engine from its external dependencies. reranker may be
// nil.
func New(store storage.Store, generator llm.TextGenerator, embedder llm.EmbeddingGenerator, settings *services.SettingsService, globalCfg *config.Config, engineCfg Config, reranker Reranker) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if generator == nil || embedder == nil {
		return nil, fmt.Errorf("LLM clients are required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings service is required")
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		config:   engineCfg,
		store:    store,
		settings: settings,
		queue:    make(chan *ExtractionJob, engineCfg.QueueSize),
	}

	e.scorer = NewImportanceScorer(store, globalCfg.Memory)
	e.enricher = NewEnricher(store, generator, embedder)
	e.graph = NewGraphBuilder(store, generator, settings, e.scorer)
	e.extractor = NewExtractor(store, generator, e.enricher, e.graph, e.scorer, engineCfg.MultiPass)
	e.decay = NewDecayManager(store, e.scorer, globalCfg.Memory)
	e.consolidator = NewConsolidator(store, generator, e.enricher, e.scorer, settings)

	retriever, err := NewRetriever(store, generator, embedder, settings, globalCfg.Retrieval, reranker)
	if err != nil {
		return nil, err
	}
	e.retriever = retriever

	return e, nil
}

// SetOnTurnRecorded sets a callback fired after a turn is stored, before
// extraction runs.
func (e *Engine) SetOnTurnRecorded(fn func(turnID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTurnRecorded = fn
}

// SetOnExtractionComplete sets a callback fired with the result of every
// extraction attempt, including retry_scheduled interim results.
func (e *Engine) SetOnExtractionComplete(fn func(result *ExtractResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExtractionComplete = fn
}

// SetOnNoteCreated sets a callback fired for each note a completed
// extraction created.
func (e *Engine) SetOnNoteCreated(fn func(noteID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNoteCreated = fn
}

// Start launches the worker pool and begins recovery of turns left
// unextracted by a previous run. It must be called before RecordTurn.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	log.Println("[engine] starting")
	e.workerCtx, e.workerCancel = context.WithCancel(context.Background())

	for i := 0; i < e.config.Workers; i++ {
		e.workerWG.Add(1)
		go e.extractionWorker(e.workerCtx, i)
	}

	go func() {
		if err := e.recoverUnextracted(ctx); err != nil {
			log.Printf("[engine] ERROR: extraction recovery failed: %v", err)
		}
	}()

	e.started = true
	log.Printf("[engine] started with %d workers, queue size %d", e.config.Workers, e.config.QueueSize)
	return nil
}

// TurnInput is the caller-supplied content of one dialogue turn.
type TurnInput struct {
	OwnerID       string
	SessionID     string
	TurnNumber    int
	UserText      string
	AssistantText string
}

// RecordTurn stores a dialogue turn and queues it for extraction. The turn
// is durable even when the queue is full; recovery re-queues it on the next
// start.
func (e *Engine) RecordTurn(ctx context.Context, in TurnInput) (*types.DialogueTurn, error) {
	e.mu.RLock()
	ready := e.started && !e.shuttingDown
	e.mu.RUnlock()
	if !ready {
		return nil, fmt.Errorf("engine not started")
	}
	if in.OwnerID == "" {
		return nil, types.ErrMissingOwner
	}
	if in.UserText == "" && in.AssistantText == "" {
		return nil, types.ErrEmptyContent
	}

	turn := &types.DialogueTurn{
		ID:            NewTurnID(),
		OwnerID:       in.OwnerID,
		SessionID:     in.SessionID,
		TurnNumber:    in.TurnNumber,
		UserText:      in.UserText,
		AssistantText: in.AssistantText,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("failed to store turn: %w", err)
	}

	if fn := e.callbackTurnRecorded(); fn != nil {
		fn(turn.ID)
	}

	if !e.enqueue(&ExtractionJob{TurnID: turn.ID, OwnerID: in.OwnerID, Enqueued: time.Now()}) {
		log.Printf("[engine] WARNING: extraction queue full, turn %s deferred to recovery", turn.ID)
	}
	return turn, nil
}

// ExtractNow runs extraction for one turn synchronously, outside the worker
// pool, honoring the same retry budget.
func (e *Engine) ExtractNow(ctx context.Context, turnID string) (*ExtractResult, error) {
	turn, err := e.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	job := &ExtractionJob{TurnID: turn.ID, OwnerID: turn.OwnerID, Enqueued: time.Now()}
	var result *ExtractResult
	for {
		result = e.attempt(ctx, job)
		if result != nil {
			break
		}
		job.Attempt++
	}
	e.finish(result)
	return result, nil
}

// Retrieve answers a free-text query over the owner's notes.
func (e *Engine) Retrieve(ctx context.Context, ownerID, query string, topK int) ([]RetrievedNote, error) {
	return e.retriever.Retrieve(ctx, ownerID, query, topK)
}

// GetNote retrieves a note by ID.
func (e *Engine) GetNote(ctx context.Context, id string) (*types.AtomicNote, error) {
	return e.store.GetNote(ctx, id)
}

// ListNotes retrieves notes with pagination and filtering.
func (e *Engine) ListNotes(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.AtomicNote], error) {
	return e.store.ListNotes(ctx, opts)
}

// ForgetNote soft-deletes a note and removes it from the vector index.
func (e *Engine) ForgetNote(ctx context.Context, id string) error {
	if err := e.store.DeactivateNote(ctx, id); err != nil {
		return err
	}
	return e.store.Delete(ctx, id)
}

// RestoreNote un-deletes a soft-deleted note and rebuilds its embedding.
func (e *Engine) RestoreNote(ctx context.Context, id string) error {
	if err := e.store.RestoreNote(ctx, id); err != nil {
		return err
	}
	note, err := e.store.GetNote(ctx, id)
	if err != nil {
		return err
	}
	_, err = e.enricher.Process(ctx, note)
	return err
}

// DecaySweep applies decay to one owner's notes.
func (e *Engine) DecaySweep(ctx context.Context, ownerID string) (int, error) {
	return e.decay.SweepOwner(ctx, ownerID)
}

// ConsolidationSweep finds and merges duplicate notes for one owner.
func (e *Engine) ConsolidationSweep(ctx context.Context, ownerID string) (int, error) {
	return e.consolidator.SweepOwner(ctx, ownerID)
}

// ConsolidationCandidates reports duplicate groups without merging them.
func (e *Engine) ConsolidationCandidates(ctx context.Context, ownerID string) ([]types.ConsolidationGroup, error) {
	eff, err := e.settings.Effective(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return e.consolidator.FindCandidates(ctx, ownerID, eff.SimilarityThreshold)
}

// Owners lists the owner IDs with active notes.
func (e *Engine) Owners(ctx context.Context) ([]string, error) {
	return e.store.ListOwners(ctx)
}

// Settings exposes the settings service for per-owner overrides.
func (e *Engine) Settings() *services.SettingsService {
	return e.settings
}

// QueueLength reports the number of extraction jobs waiting.
func (e *Engine) QueueLength() int {
	return len(e.queue)
}

// Shutdown stops intake, drains queued extractions, and waits for workers
// up to the configured timeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	e.mu.Unlock()

	log.Println("[engine] shutting down")
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		log.Println("[engine] WARNING: shutdown timeout, abandoning workers")
		e.workerCancel()
	case <-ctx.Done():
		e.workerCancel()
		return ctx.Err()
	}

	e.workerCancel()
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	log.Println("[engine] stopped")
	return nil
}

// enqueue tries to queue a job without blocking. Returns false when the
// queue is full or the engine is shutting down.
func (e *Engine) enqueue(job *ExtractionJob) bool {
	e.mu.RLock()
	ready := e.started && !e.shuttingDown
	e.mu.RUnlock()
	if !ready {
		return false
	}
	select {
	case e.queue <- job:
		return true
	default:
		return false
	}
}

// recoverUnextracted re-queues turns whose extraction never completed.
// Turns stay recoverable forever because the extracted flag only flips
// after a successful run.
func (e *Engine) recoverUnextracted(ctx context.Context) error {
	turns, err := e.store.ListUnextracted(ctx, e.config.RecoveryBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unextracted turns: %w", err)
	}
	if len(turns) == 0 {
		return nil
	}

	queued := 0
	for _, turn := range turns {
		if e.enqueue(&ExtractionJob{TurnID: turn.ID, OwnerID: turn.OwnerID, Enqueued: time.Now()}) {
			queued++
		}
	}
	log.Printf("[engine] recovery queued %d/%d unextracted turns", queued, len(turns))
	return nil
}

func (e *Engine) callbackTurnRecorded() func(string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onTurnRecorded
}

func (e *Engine) callbackExtractionComplete() func(*ExtractResult) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onExtractionComplete
}

func (e *Engine) callbackNoteCreated() func(string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onNoteCreated
}
