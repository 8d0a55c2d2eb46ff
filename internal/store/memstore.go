package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// timeNow is a variable for testing purposes.
var timeNow = time.Now

// RowPersistence mirrors rows to durable storage so they survive restarts.
// The MemStore map stays the in-process authority; implementations replay
// rows at open and absorb write-through updates.
type RowPersistence interface {
	// SaveRow stores or replaces the durable copy of a row.
	SaveRow(ctx context.Context, m *memory.Memory) error

	// DeleteRow removes the durable copy. Unknown ids are not an error.
	DeleteRow(ctx context.Context, id string) error

	// LoadRows returns every persisted row.
	LoadRows(ctx context.Context) ([]*memory.Memory, error)

	// Close releases persistence resources.
	Close() error
}

// MemStore is the basic capability tier: an in-process row store supporting
// only substring matching. It also serves as the row authority underneath
// the IndexedStore vector tier, where it is paired with a RowPersistence
// mirror so rows are as durable as the vectors beside them.
//
// MemStore is safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	rows    map[string]*memory.Memory
	persist RowPersistence
	logger  *logging.Logger
}

// NewMemStore creates an empty, volatile MemStore.
func NewMemStore(logger *logging.Logger) *MemStore {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MemStore{
		rows:   make(map[string]*memory.Memory),
		logger: logger,
	}
}

// NewDurableMemStore creates a MemStore mirrored to p, replaying the rows a
// previous run persisted.
func NewDurableMemStore(ctx context.Context, p RowPersistence, logger *logging.Logger) (*MemStore, error) {
	s := NewMemStore(logger)
	s.persist = p

	rows, err := p.LoadRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying persisted rows: %w", err)
	}
	for _, m := range rows {
		s.rows[m.ID] = m
	}
	if len(rows) > 0 {
		s.logger.Info(ctx, "rows replayed from durable storage", zap.Int("count", len(rows)))
	}
	return s, nil
}

// saveRow mirrors a row to durable storage. Callers hold the write lock.
func (s *MemStore) saveRow(ctx context.Context, m *memory.Memory) error {
	if s.persist == nil {
		return nil
	}
	return s.persist.SaveRow(ctx, m)
}

// Capabilities reports no vector or full-text support.
func (s *MemStore) Capabilities() Capability {
	return 0
}

func (s *MemStore) Insert(ctx context.Context, m *memory.Memory) (*memory.Memory, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[m.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate memory id %s", memory.ErrValidation, m.ID)
	}
	row := m.Clone()
	if err := s.saveRow(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting memory: %w", err)
	}
	s.rows[m.ID] = row

	s.logger.Debug(ctx, "memory inserted",
		zap.String("memory_id", m.ID),
		zap.String("scope", string(m.Scope)))
	OpsTotal.WithLabelValues("insert").Inc()
	return m.Clone(), nil
}

func (s *MemStore) Get(_ context.Context, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	return m.Clone(), nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	if s.persist != nil {
		if err := s.persist.DeleteRow(ctx, id); err != nil {
			return fmt.Errorf("deleting persisted memory: %w", err)
		}
	}
	delete(s.rows, id)

	s.logger.Debug(ctx, "memory deleted", zap.String("memory_id", id))
	OpsTotal.WithLabelValues("delete").Inc()
	return nil
}

func (s *MemStore) List(_ context.Context, f Filter, limit int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(f, limit, nil), nil
}

func (s *MemStore) SearchKeyword(_ context.Context, query string, f Filter, limit int) ([]*memory.Memory, error) {
	needle := strings.ToLower(query)
	match := func(m *memory.Memory) bool {
		return strings.Contains(strings.ToLower(m.Content), needle)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	OpsTotal.WithLabelValues("search_keyword").Inc()
	return s.collect(f, limit, match), nil
}

// SearchVector is unsupported on the basic tier.
func (s *MemStore) SearchVector(context.Context, []float32, Filter, int) ([]Match, error) {
	return nil, fmt.Errorf("%w: backend lacks vector capability", ErrIndexUnavailable)
}

func (s *MemStore) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	updated := m.Clone()
	updated.Embedding = append([]float32(nil), vector...)
	updated.EmbeddingStatus = memory.EmbeddingCompleted
	updated.EmbeddingError = ""
	if err := s.saveRow(ctx, updated); err != nil {
		return fmt.Errorf("persisting embedding: %w", err)
	}
	s.rows[id] = updated
	return nil
}

func (s *MemStore) MarkEmbeddingPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	updated := m.Clone()
	updated.EmbeddingStatus = memory.EmbeddingPending
	if err := s.saveRow(ctx, updated); err != nil {
		return fmt.Errorf("persisting embedding status: %w", err)
	}
	s.rows[id] = updated
	return nil
}

func (s *MemStore) MarkEmbeddingFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	updated := m.Clone()
	updated.EmbeddingStatus = memory.EmbeddingFailed
	updated.EmbeddingError = reason
	if err := s.saveRow(ctx, updated); err != nil {
		return fmt.Errorf("persisting embedding status: %w", err)
	}
	s.rows[id] = updated
	return nil
}

func (s *MemStore) SetSuperseded(ctx context.Context, id, byID string) error {
	if id == byID {
		return fmt.Errorf("%w: memory cannot supersede itself", memory.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	successor, ok := s.rows[byID]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, byID)
	}
	if m.Superseded() {
		return fmt.Errorf("%w: %s", memory.ErrAlreadySuperseded, id)
	}
	// Forward-only: the successor must not already be superseded by the
	// memory it is replacing.
	if successor.SupersededBy == id {
		return fmt.Errorf("%w: supersession cycle between %s and %s", memory.ErrValidation, id, byID)
	}

	updated := m.Clone()
	updated.SupersededBy = byID
	if err := s.saveRow(ctx, updated); err != nil {
		return fmt.Errorf("persisting supersession: %w", err)
	}
	s.rows[id] = updated
	s.logger.Debug(ctx, "memory superseded",
		zap.String("memory_id", id),
		zap.String("superseded_by", byID))
	OpsTotal.WithLabelValues("supersede").Inc()
	return nil
}

func (s *MemStore) TouchRetrieved(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: memory %s", memory.ErrNotFound, id)
	}
	now := timeNow()
	m.RecalledCount++
	m.RetrievalCount++
	m.LastRetrievedAt = &now
	// Counters tolerate loss; a failed mirror write must not fail the read.
	if err := s.saveRow(ctx, m); err != nil {
		s.logger.Warn(ctx, "persisting retrieval counters failed",
			zap.String("memory_id", id), zap.Error(err))
	}
	return nil
}

func (s *MemStore) ListMissingEmbeddings(_ context.Context, limit int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []*memory.Memory
	for _, m := range s.rows {
		if m.Superseded() || m.EmbeddingStatus == memory.EmbeddingCompleted {
			continue
		}
		missing = append(missing, m.Clone())
	}
	// Oldest first for backfill.
	sort.Slice(missing, func(i, j int) bool {
		return missing[i].CreatedAt.Before(missing[j].CreatedAt)
	})
	if limit > 0 && len(missing) > limit {
		missing = missing[:limit]
	}
	return missing, nil
}

func (s *MemStore) Close() error {
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}

// collect gathers filter matches newest first. Callers hold the read lock.
func (s *MemStore) collect(f Filter, limit int, match func(*memory.Memory) bool) []*memory.Memory {
	var out []*memory.Memory
	for _, m := range s.rows {
		if !f.Matches(m) {
			continue
		}
		if match != nil && !match(m) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
