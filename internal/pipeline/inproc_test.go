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

func noDelay(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func waitForStatus(t *testing.T, st store.Store, id string, want memory.EmbeddingStatus) *memory.Memory {
	t.Helper()
	var got *memory.Memory
	require.Eventually(t, func() bool {
		m, err := st.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = m
		return m.EmbeddingStatus == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestInprocDispatcher_EmbedsAsynchronously(t *testing.T) {
	st := store.NewMemStore(nil)
	m := seedMemory(t, st, "async embed")

	d := NewInprocDispatcher(NewWorker(st, &stubProvider{vector: []float32{1, 2}}, nil), nil)
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), m.ID))

	got := waitForStatus(t, st, m.ID, memory.EmbeddingCompleted)
	assert.Equal(t, []float32{1, 2}, got.Embedding)
}

func TestInprocDispatcher_RetriesUntilSuccess(t *testing.T) {
	st := store.NewMemStore(nil)
	m := seedMemory(t, st, "flaky embed")

	p := &stubProvider{failures: 2, vector: []float32{1}}
	d := NewInprocDispatcher(NewWorker(st, p, nil), nil)
	d.delay = noDelay
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), m.ID))

	waitForStatus(t, st, m.ID, memory.EmbeddingCompleted)
	assert.Equal(t, 3, p.callCount())
}

func TestInprocDispatcher_ExhaustsAttempts(t *testing.T) {
	st := store.NewMemStore(nil)
	m := seedMemory(t, st, "never embeds")

	p := &stubProvider{failures: 100, vector: []float32{1}}
	d := NewInprocDispatcher(NewWorker(st, p, nil), nil)
	d.delay = noDelay
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), m.ID))

	got := waitForStatus(t, st, m.ID, memory.EmbeddingFailed)
	assert.Equal(t, MaxAttempts, p.callCount())
	assert.NotEmpty(t, got.EmbeddingError)
}

func TestInprocDispatcher_ClosedRejectsJobs(t *testing.T) {
	st := store.NewMemStore(nil)
	d := NewInprocDispatcher(NewWorker(st, &stubProvider{vector: []float32{1}}, nil), nil)
	require.NoError(t, d.Close())

	assert.Error(t, d.Dispatch(context.Background(), "any"))
}
