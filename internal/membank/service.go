// Package membank is the service layer of the memory store. It composes
// the scope resolver, store, dedup engine, retrieval engine, and embedding
// pipeline into the operations callers see: remember, recall, forget,
// promote, and listScopes.
package membank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/dedup"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/scope"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const defaultEmbedTimeout = 10 * time.Second

// Deps are the collaborators a Service needs. Provider and Dispatcher may
// be nil: without a provider the store runs keyword-only, without a
// dispatcher failed synchronous embeds settle as failed instead of retrying.
type Deps struct {
	Store        store.Store
	Resolver     *scope.Resolver
	Dedup        *dedup.Engine
	Recall       *recall.Engine
	Provider     embeddings.Provider
	Dispatcher   pipeline.Dispatcher
	EmbedTimeout time.Duration
	Logger       *logging.Logger
}

// Service implements the memory-store operations.
type Service struct {
	store        store.Store
	resolver     *scope.Resolver
	dedup        *dedup.Engine
	recall       *recall.Engine
	provider     embeddings.Provider
	dispatcher   pipeline.Dispatcher
	embedTimeout time.Duration
	logger       *logging.Logger
}

// NewService wires a Service from its dependencies.
func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("membank: store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("membank: scope resolver is required")
	}
	if deps.Dedup == nil {
		return nil, errors.New("membank: dedup engine is required")
	}
	if deps.Recall == nil {
		return nil, errors.New("membank: recall engine is required")
	}
	if deps.EmbedTimeout <= 0 {
		deps.EmbedTimeout = defaultEmbedTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Service{
		store:        deps.Store,
		resolver:     deps.Resolver,
		dedup:        deps.Dedup,
		recall:       deps.Recall,
		provider:     deps.Provider,
		dispatcher:   deps.Dispatcher,
		embedTimeout: deps.EmbedTimeout,
		logger:       deps.Logger,
	}, nil
}

// RememberRequest is one write.
type RememberRequest struct {
	Content        string
	Tags           []string
	Classification string

	// Scope and ScopeID override the credential's default scope.
	Scope   memory.Scope
	ScopeID string

	// Supersedes names a memory this write explicitly replaces. When set,
	// similarity dedup is skipped.
	Supersedes string
}

// RememberResult is the outcome of a write. MergedFrom is the id of the
// memory this write superseded, explicitly or via similarity dedup.
type RememberResult struct {
	Memory     *memory.Memory
	MergedFrom string
}

// Remember persists a new memory in the caller's effective scope. The call
// returns as soon as the row is written: embedding work that cannot
// complete synchronously continues in the pipeline.
func (s *Service) Remember(ctx context.Context, cred scope.Credential, req RememberRequest) (*RememberResult, error) {
	resolvedScope, scopeID, err := s.resolver.ResolveAndAuthorize(ctx, cred, req.Scope, req.ScopeID)
	if err != nil {
		return nil, err
	}

	m, err := memory.New(cred.Subject, req.Content, resolvedScope, scopeID)
	if err != nil {
		return nil, err
	}
	m.Tags = append([]string(nil), req.Tags...)
	m.Classification = req.Classification

	// Validate an explicit supersession target before writing anything.
	if req.Supersedes != "" {
		target, err := s.store.Get(ctx, req.Supersedes)
		if err != nil {
			return nil, fmt.Errorf("supersedes: %w", err)
		}
		if target.Superseded() {
			return nil, fmt.Errorf("%w: %s already superseded by %s", memory.ErrAlreadySuperseded, target.ID, target.SupersededBy)
		}
	}

	vector, embedErr := s.tryEmbed(ctx, req.Content)

	stored, err := s.store.Insert(ctx, m)
	if err != nil {
		return nil, err
	}

	switch {
	case vector != nil:
		if err := s.store.SetEmbedding(ctx, stored.ID, vector); err != nil {
			s.logger.Warn(ctx, "storing embedding failed",
				zap.String("memory_id", stored.ID), zap.Error(err))
		} else {
			stored.Embedding = vector
			stored.EmbeddingStatus = memory.EmbeddingCompleted
		}
	case embedErr != nil:
		s.queueEmbedding(ctx, stored)
	}

	result := &RememberResult{Memory: stored}
	if req.Supersedes != "" {
		if err := s.dedup.LinkExplicit(ctx, req.Supersedes, stored.ID); err != nil {
			// Pre-validated above; only a concurrent write loses here.
			s.logger.Warn(ctx, "explicit supersession failed",
				zap.String("supersedes", req.Supersedes), zap.Error(err))
		} else {
			result.MergedFrom = req.Supersedes
		}
		return result, nil
	}

	if merged, err := s.dedup.FindAndLink(ctx, stored); err == nil {
		result.MergedFrom = merged
	}
	return result, nil
}

// tryEmbed attempts a bounded synchronous embed. Returns (vector, nil) on
// success, (nil, nil) when embedding does not apply, and (nil, err) for a
// retryable failure that belongs in the pipeline.
//
// Embedding applies only when a provider is configured and the backend can
// index vectors; on the basic tier the embedding status stays unset.
func (s *Service) tryEmbed(ctx context.Context, content string) ([]float32, error) {
	if s.provider == nil || !s.store.Capabilities().Has(store.CapVector) {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vectors, err := s.provider.EmbedDocuments(embedCtx, []string{content})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", memory.ErrProvider, len(vectors))
	}
	return vectors[0], nil
}

// queueEmbedding hands a failed synchronous embed to the dispatcher. With
// no dispatcher the pipeline is unavailable and the status settles as
// failed immediately; either way the write has already succeeded.
func (s *Service) queueEmbedding(ctx context.Context, m *memory.Memory) {
	if s.dispatcher == nil {
		s.markPipelineUnavailable(ctx, m)
		return
	}
	if err := s.store.MarkEmbeddingPending(ctx, m.ID); err != nil {
		s.logger.Warn(ctx, "marking embedding pending failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	m.EmbeddingStatus = memory.EmbeddingPending
	if err := s.dispatcher.Dispatch(ctx, m.ID); err != nil {
		s.logger.Warn(ctx, "dispatching embedding job failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		s.markPipelineUnavailable(ctx, m)
	}
}

func (s *Service) markPipelineUnavailable(ctx context.Context, m *memory.Memory) {
	reason := memory.ErrPipelineUnavailable.Error()
	if err := s.store.MarkEmbeddingFailed(ctx, m.ID, reason); err != nil {
		s.logger.Warn(ctx, "marking embedding failed failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	m.EmbeddingStatus = memory.EmbeddingFailed
	m.EmbeddingError = reason
}

// RecallRequest is one read.
type RecallRequest struct {
	Query string
	Tags  []string

	// Scope and ScopeID optionally restrict the read to one scope. Empty
	// means the union of everything the caller can see.
	Scope   memory.Scope
	ScopeID string

	// EmbeddingStatus optionally filters by pipeline state, e.g. to find
	// rows whose embedding failed.
	EmbeddingStatus *memory.EmbeddingStatus

	Limit int
}

// Recall returns the caller's visible memories ranked for the request.
func (s *Service) Recall(ctx context.Context, cred scope.Credential, req RecallRequest) ([]recall.Result, error) {
	var (
		selectors []memory.ScopeSelector
		err       error
	)
	if req.Scope != "" {
		selectors, err = s.resolver.NarrowSelectors(ctx, cred, req.Scope, req.ScopeID)
	} else {
		selectors, err = s.resolver.VisibleSelectors(ctx, cred)
	}
	if err != nil {
		return nil, err
	}

	return s.recall.Recall(ctx, recall.Request{
		Query:           req.Query,
		Selectors:       selectors,
		Tags:            req.Tags,
		EmbeddingStatus: req.EmbeddingStatus,
		Limit:           req.Limit,
	})
}

// Forget deletes a memory after authorizing the caller against the
// memory's current scope.
func (s *Service) Forget(ctx context.Context, cred scope.Credential, memoryID string) error {
	m, err := s.store.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	if err := s.resolver.AuthorizeDelete(ctx, cred, m); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, memoryID); err != nil {
		return err
	}
	s.logger.Info(ctx, "memory forgotten",
		zap.String("memory_id", memoryID),
		zap.String("scope", string(m.Scope)))
	return nil
}

// Promote copies a memory into a wider scope. The source stays where it
// is; the copy records its origin in promoted_from. Promoting the same
// source twice produces two independent copies.
func (s *Service) Promote(ctx context.Context, cred scope.Credential, memoryID string, targetScope memory.Scope, targetScopeID string) (*memory.Memory, error) {
	if targetScope == "" {
		return nil, fmt.Errorf("%w: target scope required", memory.ErrValidation)
	}

	src, err := s.store.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	visible, err := s.resolver.VisibleSelectors(ctx, cred)
	if err != nil {
		return nil, err
	}
	if !memory.MatchesAny(visible, src) {
		return nil, fmt.Errorf("%w: memory %s is not visible to %s", memory.ErrPermissionDenied, memoryID, cred.Subject)
	}

	resolvedScope, scopeID, err := s.resolver.ResolveAndAuthorize(ctx, cred, targetScope, targetScopeID)
	if err != nil {
		return nil, err
	}

	promoted, err := memory.New(cred.Subject, src.Content, resolvedScope, scopeID)
	if err != nil {
		return nil, err
	}
	promoted.Tags = append([]string(nil), src.Tags...)
	promoted.Classification = src.Classification
	promoted.PromotedFrom = src.ID

	// The copy has the same content as the source, so an existing vector
	// carries over. Only sources without one go through the embed path.
	vector := src.Embedding
	var embedErr error
	if len(vector) == 0 {
		vector, embedErr = s.tryEmbed(ctx, promoted.Content)
	}

	stored, err := s.store.Insert(ctx, promoted)
	if err != nil {
		return nil, err
	}
	switch {
	case vector != nil:
		if err := s.store.SetEmbedding(ctx, stored.ID, vector); err != nil {
			s.logger.Warn(ctx, "storing embedding failed",
				zap.String("memory_id", stored.ID), zap.Error(err))
		} else {
			stored.Embedding = vector
			stored.EmbeddingStatus = memory.EmbeddingCompleted
		}
	case embedErr != nil:
		s.queueEmbedding(ctx, stored)
	}

	s.logger.Info(ctx, "memory promoted",
		zap.String("memory_id", stored.ID),
		zap.String("promoted_from", src.ID),
		zap.String("scope", string(resolvedScope)))
	return stored, nil
}

// ListScopes returns the scopes the caller can read: personal, their
// teams, their applications, and global.
func (s *Service) ListScopes(ctx context.Context, cred scope.Credential) ([]memory.ScopeSelector, error) {
	return s.resolver.VisibleSelectors(ctx, cred)
}
