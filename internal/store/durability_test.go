package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func chromemTestConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		Provider: "chromem",
		Chromem:  config.ChromemConfig{Path: t.TempDir()},
	}
}

func TestChromemStore_RowsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := chromemTestConfig(t)

	st, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)

	embedded := mustMemory(t, "alice", "the wifi password is hunter2", memory.ScopePersonal, "")
	_, err = st.Insert(ctx, embedded)
	require.NoError(t, err)
	require.NoError(t, st.SetEmbedding(ctx, embedded.ID, []float32{0.6, 0.8}))

	bare := mustMemory(t, "alice", "vpn endpoint is 10.0.0.7", memory.ScopePersonal, "")
	_, err = st.Insert(ctx, bare)
	require.NoError(t, err)

	require.NoError(t, st.Close())

	reopened, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, embedded.ID)
	require.NoError(t, err)
	assert.Equal(t, "the wifi password is hunter2", got.Content)
	assert.Equal(t, memory.EmbeddingCompleted, got.EmbeddingStatus)
	assert.Equal(t, []float32{0.6, 0.8}, got.Embedding)

	// The reopened vector index still resolves to live rows, not orphans.
	f := Filter{Selectors: []memory.ScopeSelector{{Scope: memory.ScopePersonal, OwnerID: "alice"}}}
	hits, err := reopened.SearchVector(ctx, []float32{0.6, 0.8}, f, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, embedded.ID, hits[0].Memory.ID)

	// A separate backfill process sees the row that never got a vector.
	missing, err := reopened.ListMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, bare.ID, missing[0].ID)
}

func TestChromemStore_DeleteSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := chromemTestConfig(t)

	st, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)

	m := mustMemory(t, "alice", "short-lived note", memory.ScopePersonal, "")
	_, err = st.Insert(ctx, m)
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, m.ID))
	require.NoError(t, st.Close())

	reopened, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get(ctx, m.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestChromemStore_SupersessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := chromemTestConfig(t)

	st, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)

	old := mustMemory(t, "alice", "the wifi password is hunter2", memory.ScopePersonal, "")
	_, err = st.Insert(ctx, old)
	require.NoError(t, err)
	newer := mustMemory(t, "alice", "the wifi password is hunter3", memory.ScopePersonal, "")
	_, err = st.Insert(ctx, newer)
	require.NoError(t, err)
	require.NoError(t, st.SetSuperseded(ctx, old.ID, newer.ID))
	require.NoError(t, st.Close())

	reopened, err := New(ctx, cfg, 0, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.SupersededBy)

	// Superseded rows stay excluded from reads after a restart.
	f := Filter{Selectors: []memory.ScopeSelector{{Scope: memory.ScopePersonal, OwnerID: "alice"}}}
	rows, err := reopened.List(ctx, f, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, newer.ID, rows[0].ID)
}
