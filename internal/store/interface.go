// Package store persists memories and exposes the capability-tagged search
// surface the retrieval and dedup engines branch on.
//
// Two capability tiers exist. The basic tier supports only substring
// matching over content; the vector tier adds approximate nearest-neighbor
// queries backed by chromem-go or Qdrant. Callers ask Capabilities(), never
// a backend name.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Sentinel errors for store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrIndexUnavailable indicates the vector index rejected an operation.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// Capability is the set of query features a backend supports.
type Capability uint8

const (
	// CapVector marks support for approximate nearest-neighbor queries.
	CapVector Capability = 1 << iota

	// CapFullText marks support for ranked text search.
	CapFullText
)

// Has reports whether all bits of want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Filter restricts reads to a union of scope selectors plus optional tag and
// embedding-status constraints. Superseded memories are always excluded
// unless IncludeSuperseded is set (backfill and bookkeeping paths only).
type Filter struct {
	Selectors         []memory.ScopeSelector
	Tags              []string
	EmbeddingStatus   *memory.EmbeddingStatus
	IncludeSuperseded bool
}

// Matches applies the filter to one memory.
func (f Filter) Matches(m *memory.Memory) bool {
	if !f.IncludeSuperseded && m.Superseded() {
		return false
	}
	if len(f.Selectors) > 0 && !memory.MatchesAny(f.Selectors, m) {
		return false
	}
	if len(f.Tags) > 0 && !m.HasTag(f.Tags) {
		return false
	}
	if f.EmbeddingStatus != nil && m.EmbeddingStatus != *f.EmbeddingStatus {
		return false
	}
	return true
}

// Match pairs a memory with a similarity score from a vector query.
type Match struct {
	Memory *memory.Memory
	// Score is cosine similarity in [0, 1], higher is more similar.
	Score float64
}

// Store is the persistence boundary for memories.
//
// Content, scope, and author are immutable after Insert; only embedding
// fields, usage counters, and the supersession link change afterwards, each
// through its own method so updates stay independent and non-blocking with
// respect to each other.
type Store interface {
	// Capabilities reports the query features of this backend, detected
	// once at startup.
	Capabilities() Capability

	// Insert persists a new, fully-formed memory and returns it.
	Insert(ctx context.Context, m *memory.Memory) (*memory.Memory, error)

	// Get returns a memory by id, or memory.ErrNotFound.
	Get(ctx context.Context, id string) (*memory.Memory, error)

	// Delete removes a memory by id, or returns memory.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns memories admitted by the filter, newest first.
	List(ctx context.Context, f Filter, limit int) ([]*memory.Memory, error)

	// SearchKeyword returns memories whose content matches the query as a
	// case-insensitive substring, newest first.
	SearchKeyword(ctx context.Context, query string, f Filter, limit int) ([]*memory.Memory, error)

	// SearchVector returns the nearest non-superseded memories to the
	// vector, best first. Only meaningful when CapVector is present.
	SearchVector(ctx context.Context, vector []float32, f Filter, limit int) ([]Match, error)

	// SetEmbedding stores a computed vector and moves the embedding
	// status to completed. Idempotent.
	SetEmbedding(ctx context.Context, id string, vector []float32) error

	// MarkEmbeddingPending moves the embedding status to pending.
	MarkEmbeddingPending(ctx context.Context, id string) error

	// MarkEmbeddingFailed records a terminal embedding failure with its
	// last error text. Idempotent.
	MarkEmbeddingFailed(ctx context.Context, id, reason string) error

	// SetSuperseded links a memory to its replacement. The link is set at
	// most once, never cleared, and rejected when it would form a cycle.
	SetSuperseded(ctx context.Context, id, byID string) error

	// TouchRetrieved bumps the usage counters and last-retrieved time.
	// Concurrent double-increments from overlapping reads are tolerated.
	TouchRetrieved(ctx context.Context, id string) error

	// ListMissingEmbeddings returns non-superseded memories without a
	// completed embedding, oldest first. Used by backfill.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*memory.Memory, error)

	// Close releases backend resources.
	Close() error
}

// IndexHit is one result from a vector index query.
type IndexHit struct {
	ID string
	// Score is cosine similarity, higher is more similar.
	Score float64
}

// VectorIndex is the approximate nearest-neighbor surface behind the vector
// capability tier. Rows remain authoritative in the Store; the index only
// maps memory ids to vectors.
type VectorIndex interface {
	// Upsert stores or replaces the vector for a memory id.
	Upsert(ctx context.Context, id string, vector []float32, meta map[string]string) error

	// Delete removes a memory id from the index. Unknown ids are not an
	// error.
	Delete(ctx context.Context, id string) error

	// Query returns up to k nearest ids, best first.
	Query(ctx context.Context, vector []float32, k int) ([]IndexHit, error)

	// Count returns the number of indexed vectors.
	Count(ctx context.Context) (int, error)

	// Close releases index resources.
	Close() error
}
