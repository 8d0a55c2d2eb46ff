package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

func TestBackfiller_EmbedsMissingRows(t *testing.T) {
	st := store.NewMemStore(nil)
	ctx := context.Background()

	oldest, err := memory.New("alice", "oldest row", memory.ScopePersonal, "")
	require.NoError(t, err)
	oldest.CreatedAt = time.Now().Add(-time.Hour)
	newer, err := memory.New("alice", "newer row", memory.ScopePersonal, "")
	require.NoError(t, err)
	done, err := memory.New("alice", "already embedded", memory.ScopePersonal, "")
	require.NoError(t, err)

	for _, m := range []*memory.Memory{oldest, newer, done} {
		_, err := st.Insert(ctx, m)
		require.NoError(t, err)
	}
	require.NoError(t, st.SetEmbedding(ctx, done.ID, []float32{9}))

	b := NewBackfiller(st, &stubProvider{vector: []float32{0.1, 0.9}}, nil)
	res, err := b.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 0, res.Failed)

	for _, id := range []string{oldest.ID, newer.ID} {
		m, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, memory.EmbeddingCompleted, m.EmbeddingStatus)
	}
}

func TestBackfiller_RecordsPerRowFailures(t *testing.T) {
	st := store.NewMemStore(nil)
	ctx := context.Background()

	bad, err := memory.New("alice", "will fail", memory.ScopePersonal, "")
	require.NoError(t, err)
	bad.CreatedAt = time.Now().Add(-time.Hour)
	good, err := memory.New("alice", "will embed", memory.ScopePersonal, "")
	require.NoError(t, err)

	for _, m := range []*memory.Memory{bad, good} {
		_, err := st.Insert(ctx, m)
		require.NoError(t, err)
	}

	// Batch call fails, then the per-row fallback fails once more for the
	// first row and succeeds for the second.
	p := &stubProvider{failures: 2, vector: []float32{1}}
	b := NewBackfiller(st, p, nil)
	res, err := b.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, 1, res.Failed)

	badRow, err := st.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingFailed, badRow.EmbeddingStatus)
	assert.NotEmpty(t, badRow.EmbeddingError)

	goodRow, err := st.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingCompleted, goodRow.EmbeddingStatus)
}

func TestBackfiller_NoProvider(t *testing.T) {
	b := NewBackfiller(store.NewMemStore(nil), nil, nil)
	_, err := b.Run(context.Background())
	assert.ErrorIs(t, err, memory.ErrPipelineUnavailable)
}

func TestBackfiller_Cancelable(t *testing.T) {
	st := store.NewMemStore(nil)
	m, err := memory.New("alice", "row", memory.ScopePersonal, "")
	require.NoError(t, err)
	_, err = st.Insert(context.Background(), m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBackfiller(st, &stubProvider{vector: []float32{1}}, nil)
	_, err = b.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackfiller_EmptyStore(t *testing.T) {
	b := NewBackfiller(store.NewMemStore(nil), &stubProvider{vector: []float32{1}}, nil)
	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}
