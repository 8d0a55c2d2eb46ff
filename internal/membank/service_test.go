package membank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/dedup"
	"github.com/fyrsmithlabs/memoryd/internal/directory"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/scope"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// hashProvider derives a deterministic vector from the first word of the
// text, so texts sharing a first word are near-identical and others are
// orthogonal-ish.
type hashProvider struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *hashProvider) embed(text string) []float32 {
	var key byte
	if len(text) > 0 {
		key = text[0]
	}
	vec := make([]float32, 8)
	vec[int(key)%8] = 1
	vec[(int(key)+3)%8] = 0.1
	return vec
}

func (p *hashProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, fmt.Errorf("%w: synthetic failure %d", memory.ErrProvider, p.calls)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embed(t)
	}
	return out, nil
}

func (p *hashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *hashProvider) Dimension() int { return 8 }
func (p *hashProvider) Close() error   { return nil }

func (p *hashProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// scanIndex is an exact-scan store.VectorIndex for tests.
type scanIndex struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

func (f *scanIndex) Upsert(_ context.Context, id string, vector []float32, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[id] = append([]float32(nil), vector...)
	return nil
}

func (f *scanIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, id)
	return nil
}

func (f *scanIndex) Query(_ context.Context, vector []float32, k int) ([]store.IndexHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hits := make([]store.IndexHit, 0, len(f.vectors))
	for id, v := range f.vectors {
		hits = append(hits, store.IndexHit{ID: id, Score: memory.Cosine(vector, v)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *scanIndex) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors), nil
}

func (f *scanIndex) Close() error { return nil }

func testDirectory() *directory.Static {
	dir := directory.NewStatic()
	dir.AddTeam("t1", []string{"alice", "bob"}, []string{"root"})
	dir.AddTeam("t2", []string{"alice"}, nil)
	dir.AddTeam("t3", []string{"eve"}, nil)
	dir.AddSystemAdmin("root")
	return dir
}

type fixture struct {
	svc      *Service
	store    store.Store
	provider *hashProvider
}

// newFixture builds a service over a vector-capable store with an
// in-process dispatcher that retries without sleeping.
func newFixture(t *testing.T, provider *hashProvider) *fixture {
	t.Helper()

	var st store.Store
	if provider != nil {
		idx := &scanIndex{vectors: make(map[string][]float32)}
		indexed, err := store.NewIndexedStore(store.NewMemStore(nil), idx, nil)
		require.NoError(t, err)
		st = indexed
	} else {
		st = store.NewMemStore(nil)
	}

	resolver, err := scope.NewResolver(testDirectory(), nil)
	require.NoError(t, err)

	dedupEngine := dedup.New(st, config.DedupConfig{Threshold: 0.90}, nil)
	semantic, keyword := 0.7, 0.3
	recallEngine := recall.New(st, providerOrNil(provider), config.RetrievalConfig{
		SemanticWeight: &semantic,
		KeywordWeight:  &keyword,
		DefaultLimit:   10,
	}, nil)

	var dispatcher pipeline.Dispatcher
	if provider != nil {
		d := pipeline.NewInprocDispatcher(pipeline.NewWorker(st, provider, nil), nil,
			pipeline.WithRetryDelay(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
		t.Cleanup(func() { _ = d.Close() })
		dispatcher = d
	}

	svc, err := NewService(Deps{
		Store:      st,
		Resolver:   resolver,
		Dedup:      dedupEngine,
		Recall:     recallEngine,
		Provider:   providerOrNil(provider),
		Dispatcher: dispatcher,
		Logger:     nil,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, store: st, provider: provider}
}

func providerOrNil(p *hashProvider) embeddings.Provider {
	if p == nil {
		return nil
	}
	return p
}

func alice() scope.Credential { return scope.Credential{Subject: "alice"} }

func TestRemember_PersonalKeywordRecallOnBasicTier(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "wifi password is hunter2"})
	require.NoError(t, err)
	require.NotNil(t, res.Memory)
	assert.Equal(t, memory.ScopePersonal, res.Memory.Scope)
	assert.Equal(t, memory.EmbeddingNone, res.Memory.EmbeddingStatus)

	got, err := fx.svc.Recall(ctx, alice(), RecallRequest{Query: "wifi"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Memory.ID, got[0].Memory.ID)
}

func TestRemember_SynchronousEmbedding(t *testing.T) {
	fx := newFixture(t, &hashProvider{})
	ctx := context.Background()

	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "wifi password is hunter2"})
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingCompleted, res.Memory.EmbeddingStatus)
	assert.NotEmpty(t, res.Memory.Embedding)
}

func TestRemember_DedupSupersedesNearDuplicate(t *testing.T) {
	fx := newFixture(t, &hashProvider{})
	ctx := context.Background()

	first, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "wifi password is hunter2"})
	require.NoError(t, err)
	second, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "wifi password is hunter3"})
	require.NoError(t, err)
	assert.Equal(t, first.Memory.ID, second.MergedFrom)

	old, err := fx.store.Get(ctx, first.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Memory.ID, old.SupersededBy)

	got, err := fx.svc.Recall(ctx, alice(), RecallRequest{Query: "wifi password"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.Memory.ID, got[0].Memory.ID)
}

func TestRemember_ExplicitSupersedes(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	first, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "old fact"})
	require.NoError(t, err)

	second, err := fx.svc.Remember(ctx, alice(), RememberRequest{
		Content:    "entirely different new fact",
		Supersedes: first.Memory.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Memory.ID, second.MergedFrom)

	// Superseding an already-superseded memory fails up front.
	_, err = fx.svc.Remember(ctx, alice(), RememberRequest{
		Content:    "third fact",
		Supersedes: first.Memory.ID,
	})
	assert.ErrorIs(t, err, memory.ErrAlreadySuperseded)

	// Unknown target.
	_, err = fx.svc.Remember(ctx, alice(), RememberRequest{
		Content:    "fourth fact",
		Supersedes: "00000000-0000-0000-0000-000000000000",
	})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestRemember_ProviderFailureQueuesAndSettles(t *testing.T) {
	fx := newFixture(t, &hashProvider{failures: 1000})
	ctx := context.Background()

	// The write returns before any retry has happened.
	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "doomed to keyword search"})
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingPending, res.Memory.EmbeddingStatus)

	// The pipeline exhausts its attempts and records the failure.
	require.Eventually(t, func() bool {
		m, err := fx.store.Get(ctx, res.Memory.ID)
		return err == nil && m.EmbeddingStatus == memory.EmbeddingFailed
	}, 2*time.Second, 5*time.Millisecond)

	m, err := fx.store.Get(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Contains(t, m.EmbeddingError, "synthetic failure")
	// 1 synchronous attempt + 5 pipeline attempts.
	assert.Equal(t, 1+pipeline.MaxAttempts, fx.provider.callCount())

	// Still retrievable by keyword.
	got, err := fx.svc.Recall(ctx, alice(), RecallRequest{Query: "doomed"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRemember_TeamScopeRequiresMembership(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "sprint notes", Scope: memory.ScopeTeam, ScopeID: "t1"})
	require.NoError(t, err)

	_, err = fx.svc.Remember(ctx, alice(), RememberRequest{Content: "sprint notes", Scope: memory.ScopeTeam, ScopeID: "t3"})
	assert.ErrorIs(t, err, memory.ErrPermissionDenied)
}

func TestRecall_ScopeUnionExcludesForeignTeams(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	personal, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "personal note"})
	require.NoError(t, err)
	team1, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "team one note", Scope: memory.ScopeTeam, ScopeID: "t1"})
	require.NoError(t, err)
	team2, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "team two note", Scope: memory.ScopeTeam, ScopeID: "t2"})
	require.NoError(t, err)
	team3, err := fx.svc.Remember(ctx, scope.Credential{Subject: "eve"}, RememberRequest{Content: "team three note", Scope: memory.ScopeTeam, ScopeID: "t3"})
	require.NoError(t, err)
	global, err := fx.svc.Remember(ctx, scope.Credential{Subject: "root"}, RememberRequest{Content: "global note", Scope: memory.ScopeGlobal})
	require.NoError(t, err)

	got, err := fx.svc.Recall(ctx, alice(), RecallRequest{})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range got {
		ids[r.Memory.ID] = true
	}
	assert.True(t, ids[personal.Memory.ID])
	assert.True(t, ids[team1.Memory.ID])
	assert.True(t, ids[team2.Memory.ID])
	assert.True(t, ids[global.Memory.ID])
	assert.False(t, ids[team3.Memory.ID])
}

func TestRecall_CountersIncrease(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "counted"})
	require.NoError(t, err)

	_, err = fx.svc.Recall(ctx, alice(), RecallRequest{})
	require.NoError(t, err)

	m, err := fx.store.Get(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.RecalledCount)
}

func TestRecall_EmbeddingStatusFilter(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "note"})
	require.NoError(t, err)
	require.NoError(t, fx.store.MarkEmbeddingFailed(ctx, res.Memory.ID, "boom"))
	_, err = fx.svc.Remember(ctx, alice(), RememberRequest{Content: "other note"})
	require.NoError(t, err)

	failed := memory.EmbeddingFailed
	got, err := fx.svc.Recall(ctx, alice(), RecallRequest{EmbeddingStatus: &failed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Memory.ID, got[0].Memory.ID)
}

func TestForget_Authorization(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "team note", Scope: memory.ScopeTeam, ScopeID: "t1"})
	require.NoError(t, err)

	// bob is a member but neither author nor admin.
	err = fx.svc.Forget(ctx, scope.Credential{Subject: "bob"}, res.Memory.ID)
	assert.ErrorIs(t, err, memory.ErrPermissionDenied)

	// root is the team admin.
	require.NoError(t, fx.svc.Forget(ctx, scope.Credential{Subject: "root"}, res.Memory.ID))

	_, err = fx.store.Get(ctx, res.Memory.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestForget_UnknownMemory(t *testing.T) {
	fx := newFixture(t, nil)
	err := fx.svc.Forget(context.Background(), alice(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestPromote_TwiceYieldsTwoCopies(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	src, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "useful runbook"})
	require.NoError(t, err)

	first, err := fx.svc.Promote(ctx, alice(), src.Memory.ID, memory.ScopeTeam, "t1")
	require.NoError(t, err)
	second, err := fx.svc.Promote(ctx, alice(), src.Memory.ID, memory.ScopeTeam, "t1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, src.Memory.ID, first.PromotedFrom)
	assert.Equal(t, src.Memory.ID, second.PromotedFrom)
	assert.Equal(t, memory.ScopeTeam, first.Scope)
	assert.Equal(t, "t1", first.ScopeID)

	// Source untouched.
	orig, err := fx.store.Get(ctx, src.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.ScopePersonal, orig.Scope)
	assert.False(t, orig.Superseded())
}

func TestPromote_CopiesSourceEmbedding(t *testing.T) {
	fx := newFixture(t, &hashProvider{})
	ctx := context.Background()

	src, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "useful runbook"})
	require.NoError(t, err)
	require.Equal(t, memory.EmbeddingCompleted, src.Memory.EmbeddingStatus)
	callsBefore := fx.provider.callCount()

	promoted, err := fx.svc.Promote(ctx, alice(), src.Memory.ID, memory.ScopeTeam, "t1")
	require.NoError(t, err)

	assert.Equal(t, memory.EmbeddingCompleted, promoted.EmbeddingStatus)
	assert.Equal(t, src.Memory.Embedding, promoted.Embedding)
	// Same content, same vector: no provider round trip.
	assert.Equal(t, callsBefore, fx.provider.callCount())

	stored, err := fx.store.Get(ctx, promoted.ID)
	require.NoError(t, err)
	assert.Equal(t, src.Memory.Embedding, stored.Embedding)
}

func TestRemember_BasicTierLeavesProviderIdle(t *testing.T) {
	provider := &hashProvider{}
	st := store.NewMemStore(nil)
	resolver, err := scope.NewResolver(testDirectory(), nil)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Store:    st,
		Resolver: resolver,
		Dedup:    dedup.New(st, config.DedupConfig{Threshold: 0.90}, nil),
		Recall:   recall.New(st, provider, config.RetrievalConfig{DefaultLimit: 10}, nil),
		Provider: provider,
	})
	require.NoError(t, err)

	// Without vector indexing the embedding status stays unset and the
	// provider is never consulted.
	res, err := svc.Remember(context.Background(), alice(), RememberRequest{Content: "wifi password is hunter2"})
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingNone, res.Memory.EmbeddingStatus)
	assert.Empty(t, res.Memory.Embedding)
	assert.Zero(t, provider.callCount())
}

func TestPromote_RequiresTargetAuthorization(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	src, err := fx.svc.Remember(ctx, alice(), RememberRequest{Content: "runbook"})
	require.NoError(t, err)

	_, err = fx.svc.Promote(ctx, alice(), src.Memory.ID, memory.ScopeTeam, "t3")
	assert.ErrorIs(t, err, memory.ErrPermissionDenied)
}

func TestPromote_RequiresVisibleSource(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	src, err := fx.svc.Remember(ctx, scope.Credential{Subject: "eve"}, RememberRequest{Content: "secret", Scope: memory.ScopeTeam, ScopeID: "t3"})
	require.NoError(t, err)

	_, err = fx.svc.Promote(ctx, alice(), src.Memory.ID, memory.ScopeTeam, "t1")
	assert.ErrorIs(t, err, memory.ErrPermissionDenied)
}

func TestListScopes(t *testing.T) {
	fx := newFixture(t, nil)

	selectors, err := fx.svc.ListScopes(context.Background(), alice())
	require.NoError(t, err)

	var scopes []string
	for _, sel := range selectors {
		s := string(sel.Scope)
		if sel.ScopeID != "" {
			s += ":" + sel.ScopeID
		}
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	assert.Equal(t, []string{"global", "personal", "team:t1", "team:t2"}, scopes)
}
