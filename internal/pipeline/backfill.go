package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// backfillBatchSize bounds memory usage and keeps progress observable on
// large backlogs.
const backfillBatchSize = 100

// BackfillResult summarizes one backfill sweep.
type BackfillResult struct {
	Processed int
	Embedded  int
	Failed    int
}

// Backfiller embeds historical memories that never received a vector:
// rows written before embeddings were enabled, or whose pipeline attempts
// were exhausted. Runs oldest first so the longest-waiting rows gain
// semantic retrieval soonest.
type Backfiller struct {
	store    store.Store
	provider embeddings.Provider
	logger   *logging.Logger

	// BatchSize overrides the per-sweep fetch size. Zero uses the default.
	BatchSize int

	// Limit caps how many rows one run processes. Zero means unlimited.
	Limit int
}

// NewBackfiller creates a backfill sweep over the given store.
func NewBackfiller(st store.Store, provider embeddings.Provider, logger *logging.Logger) *Backfiller {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Backfiller{store: st, provider: provider, logger: logger}
}

// Run sweeps until no unseen rows remain or ctx is canceled. Per-row
// provider failures are recorded on the row and counted; they do not stop
// the sweep. Cancellation returns the partial result with ctx's error.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	if b.provider == nil {
		return res, memory.ErrPipelineUnavailable
	}

	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = backfillBatchSize
	}

	// Failed rows stay visible to the next sweep, so track what this one
	// already touched to terminate.
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if b.Limit > 0 && res.Processed >= b.Limit {
			return res, nil
		}

		batch, err := b.store.ListMissingEmbeddings(ctx, batchSize)
		if err != nil {
			return res, fmt.Errorf("listing memories without embeddings: %w", err)
		}

		var pending []*memory.Memory
		for _, m := range batch {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			pending = append(pending, m)
		}
		if len(pending) == 0 {
			return res, nil
		}
		if b.Limit > 0 && res.Processed+len(pending) > b.Limit {
			pending = pending[:b.Limit-res.Processed]
		}
		res.Processed += len(pending)

		texts := make([]string, len(pending))
		for i, m := range pending {
			texts[i] = m.Content
		}

		vectors, err := b.provider.EmbedDocuments(ctx, texts)
		if err == nil && len(vectors) != len(pending) {
			err = fmt.Errorf("expected %d vectors, got %d", len(pending), len(vectors))
		}
		if err != nil {
			// Batch failed as a whole; retry item by item so one bad
			// input cannot poison the rest.
			for _, m := range pending {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				b.embedOne(ctx, m, &res)
			}
			continue
		}
		for i, m := range pending {
			if err := b.store.SetEmbedding(ctx, m.ID, vectors[i]); err != nil {
				res.Failed++
				b.logger.Warn(ctx, "storing backfilled embedding failed",
					zap.String("memory_id", m.ID), zap.Error(err))
				continue
			}
			res.Embedded++
		}
	}
}

func (b *Backfiller) embedOne(ctx context.Context, m *memory.Memory, res *BackfillResult) {
	vectors, err := b.provider.EmbedDocuments(ctx, []string{m.Content})
	if err != nil || len(vectors) != 1 {
		if err == nil {
			err = fmt.Errorf("expected 1 vector, got %d", len(vectors))
		}
		res.Failed++
		b.logger.Warn(ctx, "backfill embedding failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		if markErr := b.store.MarkEmbeddingFailed(ctx, m.ID, err.Error()); markErr != nil {
			b.logger.Warn(ctx, "recording backfill failure failed",
				zap.String("memory_id", m.ID), zap.Error(markErr))
		}
		return
	}
	if err := b.store.SetEmbedding(ctx, m.ID, vectors[0]); err != nil {
		res.Failed++
		b.logger.Warn(ctx, "storing backfilled embedding failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	res.Embedded++
}
