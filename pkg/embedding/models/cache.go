package models

import (
	"os"
	"path/filepath"
	"strings"
)

// sanitize converts a model id into the directory-name form used by the
// weight cache, replacing "/" with "--" per the platform cache convention.
func sanitize(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--")
}

// CacheDir returns the cache directory a given model id would occupy under
// root (typically hub.DefaultCacheDir()).
func CacheDir(root, modelID string) string {
	return filepath.Join(root, "models--"+sanitize(modelID))
}

// IsCached reports whether modelID has at least one snapshot directory
// present under root.
func IsCached(root, modelID string) bool {
	snapshots := filepath.Join(CacheDir(root, modelID), "snapshots")
	entries, err := os.ReadDir(snapshots)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			return true
		}
	}
	return false
}
