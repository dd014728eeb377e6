//go:build windows

package models

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dockerish/embedworker/pkg/logging"
)

// DefaultCacheRoot returns the platform-conventional weight cache root. The
// Hugging Face Hub client used on other platforms relies on syscalls that
// don't build on Windows, so this mirrors its cache-directory convention
// without importing it.
func DefaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cache", "huggingface", "hub")
	}
	return filepath.Join(home, ".cache", "huggingface", "hub")
}

// Download is unimplemented on Windows: the Hugging Face Hub client this
// worker uses elsewhere doesn't build there. A caller asking to download an
// already-cached model still succeeds; only a genuine network fetch fails.
func Download(_ context.Context, log logging.Logger, cacheRoot, modelID string) error {
	if IsCached(cacheRoot, modelID) {
		log.Infof("model %s already cached, skipping download", modelID)
		return nil
	}
	return errors.New("model downloads not yet supported on Windows")
}
