package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Worker executes one embedding attempt for a queued memory. It is shared
// by the in-process and NATS dispatchers; retry scheduling belongs to the
// dispatcher, terminal-failure accounting to the worker.
type Worker struct {
	store    store.Store
	provider embeddings.Provider
	logger   *logging.Logger
}

// NewWorker creates an embedding worker.
func NewWorker(st store.Store, provider embeddings.Provider, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{store: st, provider: provider, logger: logger}
}

// Process runs attempt number attempt (1-based) for the given memory.
// A nil return means the job is settled: embedded, already embedded,
// deleted in the meantime, or terminally failed. A non-nil return means
// the attempt failed retryably and the dispatcher should reschedule.
func (w *Worker) Process(ctx context.Context, memoryID string, attempt int) error {
	m, err := w.store.Get(ctx, memoryID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			// Deleted while queued; nothing to embed.
			return nil
		}
		return err
	}

	// Idempotent under redelivery.
	if m.EmbeddingStatus == memory.EmbeddingCompleted {
		return nil
	}

	if w.provider == nil {
		// No provider configured: the pipeline cannot ever succeed, so
		// settle immediately instead of burning retries.
		reason := memory.ErrPipelineUnavailable.Error()
		if err := w.store.MarkEmbeddingFailed(ctx, memoryID, reason); err != nil && !errors.Is(err, memory.ErrNotFound) {
			return err
		}
		return nil
	}

	vectors, embedErr := w.provider.EmbedDocuments(ctx, []string{m.Content})
	if embedErr == nil && len(vectors) != 1 {
		embedErr = fmt.Errorf("%w: expected 1 vector, got %d", memory.ErrProvider, len(vectors))
	}
	if embedErr == nil {
		if err := w.store.SetEmbedding(ctx, memoryID, vectors[0]); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return nil
			}
			return err
		}
		w.logger.Debug(ctx, "embedding generated",
			zap.String("memory_id", memoryID),
			zap.Int("attempt", attempt))
		return nil
	}

	if attempt >= MaxAttempts {
		w.logger.Warn(ctx, "embedding failed permanently",
			zap.String("memory_id", memoryID),
			zap.Int("attempts", attempt),
			zap.Error(embedErr))
		if err := w.store.MarkEmbeddingFailed(ctx, memoryID, embedErr.Error()); err != nil && !errors.Is(err, memory.ErrNotFound) {
			return err
		}
		return nil
	}

	w.logger.Debug(ctx, "embedding attempt failed, will retry",
		zap.String("memory_id", memoryID),
		zap.Int("attempt", attempt),
		zap.Error(embedErr))
	return embedErr
}
