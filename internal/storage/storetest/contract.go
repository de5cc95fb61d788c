// Package storetest holds the behaviour every ports.KeyValueStore must
// share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/rotinas/internal/ports"
)

// RunContract exercises store. It must start empty.
func RunContract(t *testing.T, store ports.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing keys are omitted", func(t *testing.T) {
		got, err := store.Get(ctx, "nada")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, map[string]string{
			"rotina:user:login": "teclar(\"ENTER\")",
			"vazio":             "",
		}))
		got, err := store.Get(ctx, "rotina:user:login", "vazio", "nada")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"rotina:user:login": "teclar(\"ENTER\")",
			"vazio":             "",
		}, got)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, map[string]string{"k": "1"}))
		require.NoError(t, store.Set(ctx, map[string]string{"k": "2"}))
		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "2", got["k"])
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, store.Remove(ctx, "a", "inexistente"))
		got, err := store.Get(ctx, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"b": "2"}, got)
	})

	t.Run("empty calls", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, nil))
		require.NoError(t, store.Remove(ctx))
		got, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
