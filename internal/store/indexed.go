package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// overfetchFactor widens vector index queries so that filter exclusions
// (scope, tags, superseded rows) still leave enough hits to fill the limit.
const overfetchFactor = 4

// IndexedStore is the vector+fulltext capability tier: MemStore rows paired
// with an approximate nearest-neighbor index. The rows stay authoritative;
// the index only accelerates similarity queries and is kept in sync on
// SetEmbedding and Delete.
type IndexedStore struct {
	*MemStore
	index  VectorIndex
	logger *logging.Logger
}

// NewIndexedStore wraps a row store with a vector index.
func NewIndexedStore(rows *MemStore, index VectorIndex, logger *logging.Logger) (*IndexedStore, error) {
	if rows == nil {
		return nil, fmt.Errorf("%w: row store is required", ErrInvalidConfig)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &IndexedStore{MemStore: rows, index: index, logger: logger}, nil
}

// Capabilities reports vector and ranked-text support.
func (s *IndexedStore) Capabilities() Capability {
	return CapVector | CapFullText
}

func (s *IndexedStore) Delete(ctx context.Context, id string) error {
	if err := s.MemStore.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		// The row is gone; a stale index entry only wastes a candidate
		// slot on future queries. Log and move on.
		IndexErrors.WithLabelValues("delete").Inc()
		s.logger.Warn(ctx, "removing vector from index failed",
			zap.String("memory_id", id), zap.Error(err))
	}
	return nil
}

func (s *IndexedStore) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	m, err := s.MemStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.MemStore.SetEmbedding(ctx, id, vector); err != nil {
		return err
	}
	meta := map[string]string{
		"scope":    string(m.Scope),
		"scope_id": m.ScopeID,
		"author":   m.AuthorID,
	}
	if err := s.index.Upsert(ctx, id, vector, meta); err != nil {
		IndexErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("indexing vector for %s: %w", id, err)
	}
	return nil
}

func (s *IndexedStore) SearchVector(ctx context.Context, vector []float32, f Filter, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", memory.ErrValidation)
	}

	start := time.Now()
	defer func() {
		VectorQueryDuration.Observe(time.Since(start).Seconds())
	}()
	OpsTotal.WithLabelValues("search_vector").Inc()

	k := limit * overfetchFactor
	hits, err := s.index.Query(ctx, vector, k)
	if err != nil {
		IndexErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	matches := make([]Match, 0, limit)
	for _, hit := range hits {
		m, err := s.MemStore.Get(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				// Row deleted after indexing; skip the orphan.
				continue
			}
			return nil, err
		}
		if !f.Matches(m) {
			continue
		}
		matches = append(matches, Match{Memory: m, Score: hit.Score})
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (s *IndexedStore) Close() error {
	rowErr := s.MemStore.Close()
	idxErr := s.index.Close()
	if rowErr != nil {
		return rowErr
	}
	return idxErr
}
