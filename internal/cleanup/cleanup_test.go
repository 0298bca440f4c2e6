package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLeftover(t *testing.T) {
	assert.True(t, IsLeftover(".artifactd-123.tmp", false))
	assert.True(t, IsLeftover("images.artifactd-partial", true))
	assert.False(t, IsLeftover("images.artifactd-partial", false))
	assert.False(t, IsLeftover("weights.partial", true))
	assert.False(t, IsLeftover(".artifactd-dir", true))
	assert.False(t, IsLeftover("model.gguf", false))
}

func TestRemoveLeftovers(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.gguf"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".artifactd-42.tmp"), []byte("drop"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images.artifactd-partial", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	// Extraction of a finished "weights.partial.zip".
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "weights.partial"), 0o755))

	n, err := RemoveLeftovers(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dir, "model.gguf"))
	assert.DirExists(t, filepath.Join(dir, "images"))
	assert.NoFileExists(t, filepath.Join(dir, ".artifactd-42.tmp"))
	assert.NoDirExists(t, filepath.Join(dir, "images.artifactd-partial"))
	assert.DirExists(t, filepath.Join(dir, "weights.partial"))
}
