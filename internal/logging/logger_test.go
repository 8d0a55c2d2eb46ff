package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_ValidatesLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"}, nil)
	require.Error(t, err)

	l, err := New(Config{Level: "debug", Format: "console"}, nil)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithActor(ctx, "alice")
	ctx = WithRequestID(ctx, "req-42")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "alice", ActorFromContext(ctx))
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestLogger_CarriesContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithActor(context.Background(), "alice")

	tl.Info(ctx, "memory recorded")

	entries := tl.FilterMessage("memory recorded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "alice", entries[0].ContextMap()["actor"])
}
