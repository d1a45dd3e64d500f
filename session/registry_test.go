package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registrySession(t *testing.T, id string) *Session {
	t.Helper()

	return New(Params{
		ID:           id,
		Language:     "python",
		WorkspaceDir: filepath.Join(t.TempDir(), id),
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	s := registrySession(t, "alpha")

	require.NoError(t, reg.Register(s))
	assert.Equal(t, 1, reg.Count())

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(registrySession(t, "alpha")))

	err := reg.Register(registrySession(t, "alpha"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(registrySession(t, "alpha")))
	reg.Unregister("alpha")
	assert.Equal(t, 0, reg.Count())

	// Absent id is a no-op.
	reg.Unregister("alpha")

	// The id is reusable once released.
	assert.NoError(t, reg.Register(registrySession(t, "alpha")))
}

func TestRegistryShutdownAll(t *testing.T) {
	reg := NewRegistry()

	var mu sync.Mutex
	var cleaned []string
	for _, id := range []string{"a", "b", "c"} {
		s := registrySession(t, id)
		s.onCleanup = func(s *Session) {
			mu.Lock()
			cleaned = append(cleaned, s.ID)
			mu.Unlock()
		}
		require.NoError(t, reg.Register(s))
	}

	reg.ShutdownAll(context.Background())

	assert.ElementsMatch(t, []string{"a", "b", "c"}, cleaned)
}

func TestRegistryShutdownAllEmpty(t *testing.T) {
	NewRegistry().ShutdownAll(context.Background())
}
