package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "curated-models.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRegistryValidatesKnownModel(t *testing.T) {
	path := writeRegistry(t, `{"gpuModels":{"models":[{"huggingfaceId":"org/small-model"}]}}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.NoError(t, reg.Validate("org/small-model"))
	assert.ElementsMatch(t, []string{"org/small-model"}, reg.List())
}

func TestLoadRegistryRejectsUnknownModel(t *testing.T) {
	path := writeRegistry(t, `{"gpuModels":{"models":[{"huggingfaceId":"org/small-model"}]}}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	err = reg.Validate("org/not-listed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestCacheDirSanitizesSlashes(t *testing.T) {
	dir := CacheDir("/root/.cache/hub", "org/small-model")
	assert.Equal(t, "/root/.cache/hub/models--org--small-model", dir)
}

func TestIsCachedReflectsSnapshots(t *testing.T) {
	root := t.TempDir()
	assert.False(t, IsCached(root, "org/small-model"))

	snapshotDir := filepath.Join(CacheDir(root, "org/small-model"), "snapshots", "abc123")
	require.NoError(t, os.MkdirAll(snapshotDir, 0o755))

	assert.True(t, IsCached(root, "org/small-model"))
}
