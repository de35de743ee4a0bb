package engine

import (
	"context"
	"log"
	"time"

	"github.com/engram-memory/engram/pkg/types"
)

// extractionWorker is a worker goroutine that processes extraction jobs
// until the queue is closed.
func (e *Engine) extractionWorker(ctx context.Context, workerID int) {
	defer e.workerWG.Done()

	log.Printf("[engine] extraction worker %d started", workerID)
	for job := range e.queue {
		e.processJob(ctx, workerID, job)
	}
	log.Printf("[engine] extraction worker %d stopped", workerID)
}

// processJob runs one extraction attempt for a queued job and handles the
// retry budget. A failed attempt with retries left re-queues the job after
// the configured backoff; an exhausted budget terminates the job as failed.
func (e *Engine) processJob(ctx context.Context, workerID int, job *ExtractionJob) {
	if job.Attempt > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.config.RetryBackoff):
		}
	}

	result, err := e.extractor.ExtractTurn(ctx, job.TurnID)
	if err == nil {
		log.Printf("[engine] worker %d: turn %s %s (%d notes, %d skipped)",
			workerID, job.TurnID, result.Status, len(result.Notes), result.Skipped)
		e.finish(result)
		return
	}

	if job.Attempt >= e.config.MaxRetries {
		log.Printf("[engine] worker %d: turn %s failed after %d attempts: %v",
			workerID, job.TurnID, job.Attempt+1, err)
		e.finish(&ExtractResult{
			TurnID: job.TurnID,
			Status: types.ExtractFailed,
			Err:    ErrMaxRetriesExceeded,
		})
		return
	}

	log.Printf("[engine] worker %d: turn %s attempt %d failed, retry scheduled: %v",
		workerID, job.TurnID, job.Attempt+1, err)
	e.notify(&ExtractResult{TurnID: job.TurnID, Status: types.ExtractRetryScheduled})

	retry := &ExtractionJob{
		TurnID:   job.TurnID,
		OwnerID:  job.OwnerID,
		Attempt:  job.Attempt + 1,
		Enqueued: time.Now(),
	}
	if !e.enqueue(retry) {
		log.Printf("[engine] WARNING: could not re-queue turn %s, deferred to recovery", job.TurnID)
	}
}

// attempt runs one synchronous extraction attempt. It returns nil when the
// attempt failed but retries remain.
func (e *Engine) attempt(ctx context.Context, job *ExtractionJob) *ExtractResult {
	result, err := e.extractor.ExtractTurn(ctx, job.TurnID)
	if err == nil {
		return result
	}
	if job.Attempt >= e.config.MaxRetries {
		log.Printf("[engine] turn %s failed after %d attempts: %v", job.TurnID, job.Attempt+1, err)
		return &ExtractResult{
			TurnID: job.TurnID,
			Status: types.ExtractFailed,
			Err:    ErrMaxRetriesExceeded,
		}
	}
	log.Printf("[engine] turn %s attempt %d failed, retrying: %v", job.TurnID, job.Attempt+1, err)
	e.notify(&ExtractResult{TurnID: job.TurnID, Status: types.ExtractRetryScheduled})
	return nil
}

// finish reports a terminal result through the callbacks.
func (e *Engine) finish(result *ExtractResult) {
	e.notify(result)
	if result.Status == types.ExtractCompleted {
		if fn := e.callbackNoteCreated(); fn != nil {
			for _, note := range result.Notes {
				fn(note.ID)
			}
		}
	}
}

func (e *Engine) notify(result *ExtractResult) {
	if fn := e.callbackExtractionComplete(); fn != nil {
		fn(result)
	}
}
