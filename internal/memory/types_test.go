package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New("user-1", "remember the wifi password", ScopePersonal, "")
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "user-1", m.AuthorID)
	assert.Equal(t, ScopePersonal, m.Scope)
	assert.Empty(t, m.ScopeID)
	assert.Equal(t, EmbeddingNone, m.EmbeddingStatus)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestNew_ScopeIDInvariant(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		scopeID string
		wantErr bool
	}{
		{"personal without scope id", ScopePersonal, "", false},
		{"personal with scope id", ScopePersonal, "team-1", true},
		{"team with scope id", ScopeTeam, "team-1", false},
		{"team without scope id", ScopeTeam, "", true},
		{"application with scope id", ScopeApplication, "app-1", false},
		{"application without scope id", ScopeApplication, "", true},
		{"global without scope id", ScopeGlobal, "", false},
		{"global with scope id", ScopeGlobal, "team-1", true},
		{"unknown scope", Scope("organization"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("user-1", "content", tt.scope, tt.scopeID)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	m, err := New("user-1", "content", ScopeGlobal, "")
	require.NoError(t, err)

	m.Content = ""
	assert.ErrorIs(t, m.Validate(), ErrValidation)

	m, _ = New("user-1", "content", ScopeGlobal, "")
	m.AuthorID = ""
	assert.ErrorIs(t, m.Validate(), ErrValidation)

	m, _ = New("user-1", "content", ScopeGlobal, "")
	m.ID = "not-a-uuid"
	assert.ErrorIs(t, m.Validate(), ErrValidation)
}

func TestHasTag(t *testing.T) {
	m, err := New("user-1", "content", ScopePersonal, "")
	require.NoError(t, err)
	m.Tags = []string{"go", "infra"}

	assert.True(t, m.HasTag([]string{"infra"}))
	assert.True(t, m.HasTag([]string{"rust", "go"}))
	assert.False(t, m.HasTag([]string{"rust"}))
	assert.False(t, m.HasTag(nil))
}

func TestClone_Isolation(t *testing.T) {
	m, err := New("user-1", "content", ScopeTeam, "team-1")
	require.NoError(t, err)
	m.Tags = []string{"go"}
	m.Embedding = []float32{0.1, 0.2}

	c := m.Clone()
	c.Tags[0] = "mutated"
	c.Embedding[0] = 9.9

	assert.Equal(t, "go", m.Tags[0])
	assert.Equal(t, float32(0.1), m.Embedding[0])
}
