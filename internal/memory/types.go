package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope is the visibility/ownership domain of a memory.
type Scope string

const (
	// ScopePersonal restricts a memory to its author.
	ScopePersonal Scope = "personal"

	// ScopeTeam shares a memory with all members of a team.
	ScopeTeam Scope = "team"

	// ScopeApplication binds a memory to an application and its owners.
	ScopeApplication Scope = "application"

	// ScopeGlobal makes a memory visible to every caller.
	ScopeGlobal Scope = "global"
)

// Valid reports whether s is a known scope value.
func (s Scope) Valid() bool {
	switch s {
	case ScopePersonal, ScopeTeam, ScopeApplication, ScopeGlobal:
		return true
	}
	return false
}

// RequiresScopeID reports whether the scope must carry a scope id.
func (s Scope) RequiresScopeID() bool {
	return s == ScopeTeam || s == ScopeApplication
}

// EmbeddingStatus tracks the asynchronous embedding lifecycle of a memory.
//
// Transitions: none -> pending -> {completed, failed}. Terminal states only
// return to pending via an explicit backfill. The status is meaningful only
// when the storage backend supports vector capability.
type EmbeddingStatus string

const (
	EmbeddingNone      EmbeddingStatus = ""
	EmbeddingPending   EmbeddingStatus = "pending"
	EmbeddingCompleted EmbeddingStatus = "completed"
	EmbeddingFailed    EmbeddingStatus = "failed"
)

// Memory is the sole core entity of the store.
type Memory struct {
	// ID is the unique memory identifier (UUID).
	ID string `json:"id"`

	// AuthorID identifies the user that created the memory.
	AuthorID string `json:"author_id"`

	// Content is the free-text artifact. Immutable after creation.
	Content string `json:"content"`

	// Tags are labels for categorization.
	Tags []string `json:"tags,omitempty"`

	// Classification is an optional classification tag.
	Classification string `json:"classification,omitempty"`

	// Scope is the visibility domain. Immutable after creation.
	Scope Scope `json:"scope"`

	// ScopeID names the team or application when scope requires it.
	// Present iff scope is team or application.
	ScopeID string `json:"scope_id,omitempty"`

	// Embedding is the optional fixed-dimension vector for this content.
	Embedding []float32 `json:"embedding,omitempty"`

	// EmbeddingStatus reflects the asynchronous embedding pipeline state.
	EmbeddingStatus EmbeddingStatus `json:"embedding_status,omitempty"`

	// EmbeddingError holds the last pipeline error text once the status
	// reaches failed.
	EmbeddingError string `json:"embedding_error,omitempty"`

	// PromotedFrom is the source memory id if this row was created by a
	// promote operation. The source is untouched.
	PromotedFrom string `json:"promoted_from,omitempty"`

	// SupersededBy is the id of the memory that replaced this one. Set at
	// most once and never cleared; superseded memories are excluded from
	// all retrieval results.
	SupersededBy string `json:"superseded_by,omitempty"`

	// RecalledCount counts how many times the memory was returned by a read.
	RecalledCount int `json:"recalled_count"`

	// RetrievalCount mirrors RecalledCount for retrieval accounting.
	RetrievalCount int `json:"retrieval_count"`

	// LastRetrievedAt is when the memory was last returned by a read.
	LastRetrievedAt *time.Time `json:"last_retrieved_at,omitempty"`

	// CreatedAt is when the memory was created. Immutable.
	CreatedAt time.Time `json:"created_at"`
}

// New creates a memory with a generated UUID and creation timestamp.
func New(authorID, content string, scope Scope, scopeID string) (*Memory, error) {
	m := &Memory{
		ID:        uuid.New().String(),
		AuthorID:  authorID,
		Content:   content,
		Scope:     scope,
		ScopeID:   scopeID,
		CreatedAt: time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks structural invariants.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: memory id cannot be empty", ErrValidation)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("%w: invalid memory id format", ErrValidation)
	}
	if m.AuthorID == "" {
		return fmt.Errorf("%w: author id cannot be empty", ErrValidation)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrValidation)
	}
	if !m.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrValidation, m.Scope)
	}
	if m.Scope.RequiresScopeID() && m.ScopeID == "" {
		return fmt.Errorf("%w: scope %q requires a scope id", ErrValidation, m.Scope)
	}
	if !m.Scope.RequiresScopeID() && m.ScopeID != "" {
		return fmt.Errorf("%w: scope %q must not carry a scope id", ErrValidation, m.Scope)
	}
	return nil
}

// Superseded reports whether the memory has been replaced by a newer one.
func (m *Memory) Superseded() bool {
	return m.SupersededBy != ""
}

// HasTag reports whether the memory carries any of the requested tags.
func (m *Memory) HasTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted rows.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.LastRetrievedAt != nil {
		t := *m.LastRetrievedAt
		c.LastRetrievedAt = &t
	}
	return &c
}
