package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "panel.json")
	store := NewFileStore(path)

	_, ok, err := store.Get("debug-panel-position")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set("debug-panel-position", `{"x":10,"y":20}`))
	require.NoError(t, store.Set("debug-panel-size", `{"width":900,"height":700}`))

	reopened := NewFileStore(path)
	value, ok, err := reopened.Get("debug-panel-position")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"x":10,"y":20}`, value)

	require.NoError(t, reopened.Remove("debug-panel-position"))
	_, ok, err = store.Get("debug-panel-position")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store := NewFileStore(path)

	_, _, err := store.Get("debug-panel-size")
	require.Error(t, err)

	require.NoError(t, store.Set("debug-panel-size", `{"width":800,"height":600}`))
	value, ok, err := store.Get("debug-panel-size")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"width":800,"height":600}`, value)
}

func TestFileStoreRequiresPath(t *testing.T) {
	store := NewFileStore(" ")
	require.Error(t, store.Set("k", "v"))
	_, _, err := store.Get("k")
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("k", "v"))
	value, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
	require.NoError(t, store.Remove("k"))
	_, ok, _ = store.Get("k")
	assert.False(t, ok)
}
