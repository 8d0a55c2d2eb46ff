// Package dedup links near-duplicate memories at write time through
// supersession instead of deletion, so history stays intact while
// retrieval surfaces only the freshest version of a fact.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// dedupCandidates bounds the nearest-neighbor lookup. Only the top hit is
// linked, but a few spares absorb the new memory's own index entry and any
// already-superseded neighbors.
const dedupCandidates = 5

// defaultThreshold applies when the config leaves the threshold unset.
const defaultThreshold = 0.90

// Engine detects and links near-duplicates.
type Engine struct {
	store     store.Store
	threshold float64
	logger    *logging.Logger
}

// New creates a dedup engine over the given store.
func New(st store.Store, cfg config.DedupConfig, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	return &Engine{
		store:     st,
		threshold: threshold,
		logger:    logger,
	}
}

// LinkExplicit applies a caller-asserted supersession of oldID by newID.
// Unlike similarity dedup this path is authoritative, so validation
// failures are returned to the caller rather than swallowed.
func (e *Engine) LinkExplicit(ctx context.Context, oldID, newID string) error {
	old, err := e.store.Get(ctx, oldID)
	if err != nil {
		return fmt.Errorf("superseded memory: %w", err)
	}
	if old.Superseded() {
		return fmt.Errorf("%w: %s already superseded by %s", memory.ErrAlreadySuperseded, oldID, old.SupersededBy)
	}
	return e.store.SetSuperseded(ctx, oldID, newID)
}

// FindAndLink searches the new memory's own scope for its nearest neighbor
// and, when similarity exceeds the threshold, marks that neighbor as
// superseded by it. Returns the superseded id, or "" when nothing matched.
//
// Dedup is best-effort: the memory is already written when this runs, so
// failures are logged and reported but must not fail the write. Callers
// treat a non-nil error as advisory.
func (e *Engine) FindAndLink(ctx context.Context, m *memory.Memory) (string, error) {
	if len(m.Embedding) == 0 {
		return "", nil
	}
	if !e.store.Capabilities().Has(store.CapVector) {
		return "", nil
	}

	f := store.Filter{Selectors: []memory.ScopeSelector{selectorFor(m)}}
	matches, err := e.store.SearchVector(ctx, m.Embedding, f, dedupCandidates)
	if err != nil {
		e.logger.Warn(ctx, "dedup similarity search failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		return "", err
	}

	for _, match := range matches {
		if match.Memory.ID == m.ID {
			continue
		}
		if match.Score <= e.threshold {
			break
		}
		if err := e.store.SetSuperseded(ctx, match.Memory.ID, m.ID); err != nil {
			if errors.Is(err, memory.ErrAlreadySuperseded) || errors.Is(err, memory.ErrNotFound) {
				// Raced with a concurrent write or delete; skip it.
				continue
			}
			e.logger.Warn(ctx, "dedup supersession failed",
				zap.String("memory_id", match.Memory.ID), zap.Error(err))
			return "", err
		}
		e.logger.Info(ctx, "near-duplicate superseded",
			zap.String("superseded", match.Memory.ID),
			zap.String("superseded_by", m.ID),
			zap.Float64("similarity", match.Score))
		return match.Memory.ID, nil
	}
	return "", nil
}

// selectorFor restricts dedup to the scope the memory was written into.
// A personal note must never supersede a team note, even verbatim.
func selectorFor(m *memory.Memory) memory.ScopeSelector {
	sel := memory.ScopeSelector{Scope: m.Scope, ScopeID: m.ScopeID}
	if m.Scope == memory.ScopePersonal {
		sel.OwnerID = m.AuthorID
	}
	return sel
}
