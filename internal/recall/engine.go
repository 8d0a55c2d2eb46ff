// Package recall implements scope-aware hybrid retrieval: a blended
// vector-plus-keyword ranking on capable backends, degrading silently to
// substring matching everywhere else.
package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Request is one retrieval call, already scope-resolved: Selectors is the
// union of scopes the caller may read.
type Request struct {
	Query           string
	Selectors       []memory.ScopeSelector
	Tags            []string
	EmbeddingStatus *memory.EmbeddingStatus
	Limit           int
}

// Result pairs a memory with its blended relevance score. Score is zero
// for recency-ordered results (no query, or keyword fallback).
type Result struct {
	Memory *memory.Memory
	Score  float64
}

// Engine ranks memories for retrieval.
type Engine struct {
	store          store.Store
	provider       embeddings.Provider
	semanticWeight float64
	keywordWeight  float64
	defaultLimit   int
	logger         *logging.Logger
	audit          *logging.Logger
}

// New creates a retrieval engine. provider may be nil, which forces the
// keyword path for every query. Unset weights take the defaults; an
// explicit zero disables that term.
func New(st store.Store, provider embeddings.Provider, cfg config.RetrievalConfig, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	semantic, keyword := 0.7, 0.3
	if cfg.SemanticWeight != nil {
		semantic = *cfg.SemanticWeight
	}
	if cfg.KeywordWeight != nil {
		keyword = *cfg.KeywordWeight
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	return &Engine{
		store:          st,
		provider:       provider,
		semanticWeight: semantic,
		keywordWeight:  keyword,
		defaultLimit:   limit,
		logger:         logger,
		audit:          logger.Named("audit"),
	}
}

// Recall returns the caller's visible memories ranked for the request.
// Superseded memories never appear. Every returned memory has its usage
// counters bumped and an audit record emitted.
func (e *Engine) Recall(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Selectors) == 0 {
		return nil, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}

	f := store.Filter{
		Selectors:       req.Selectors,
		Tags:            req.Tags,
		EmbeddingStatus: req.EmbeddingStatus,
	}

	results, err := e.rank(ctx, req.Query, f, limit)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if err := e.store.TouchRetrieved(ctx, r.Memory.ID); err != nil {
			e.logger.Warn(ctx, "updating retrieval counters failed",
				zap.String("memory_id", r.Memory.ID), zap.Error(err))
		}
		e.audit.Info(ctx, "memory recalled",
			zap.String("memory_id", r.Memory.ID),
			zap.String("scope", string(r.Memory.Scope)),
			zap.String("author", r.Memory.AuthorID),
			zap.Float64("score", r.Score))
	}
	return results, nil
}

func (e *Engine) rank(ctx context.Context, query string, f store.Filter, limit int) ([]Result, error) {
	// No query: recency order.
	if query == "" {
		rows, err := e.store.List(ctx, f, limit)
		if err != nil {
			return nil, err
		}
		return plain(rows), nil
	}

	if !e.store.Capabilities().Has(store.CapVector) || e.provider == nil {
		return e.keywordFallback(ctx, query, f, limit)
	}

	queryVec, err := e.provider.EmbedQuery(ctx, query)
	if err != nil {
		// Degrade silently rather than failing the read.
		e.logger.Debug(ctx, "query embedding failed, using keyword fallback", zap.Error(err))
		return e.keywordFallback(ctx, query, f, limit)
	}

	return e.hybrid(ctx, query, queryVec, f, limit)
}

// hybrid scores every visible candidate. Rows without an embedding stay in
// the ranking with their vector term at zero, and an anti-aligned vector
// clamps to zero rather than dragging down a keyword match. A row with no
// signal on either axis is not a match and is dropped.
func (e *Engine) hybrid(ctx context.Context, query string, queryVec []float32, f store.Filter, limit int) ([]Result, error) {
	rows, err := e.store.List(ctx, f, 0)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, m := range rows {
		sem := memory.Cosine(m.Embedding, queryVec)
		if sem < 0 {
			sem = 0
		}
		score := e.semanticWeight*sem + e.keywordWeight*keywordRank(m.Content, query)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) keywordFallback(ctx context.Context, query string, f store.Filter, limit int) ([]Result, error) {
	rows, err := e.store.SearchKeyword(ctx, query, f, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return plain(rows), nil
}

func plain(rows []*memory.Memory) []Result {
	results := make([]Result, len(rows))
	for i, m := range rows {
		results[i] = Result{Memory: m}
	}
	return results
}

// keywordRank is the fraction of query terms present in the content,
// case-insensitive. 1.0 means every term matched, 0 means none did.
func keywordRank(content, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
