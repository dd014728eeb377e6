//go:build !windows

package models

import (
	"context"
	"fmt"

	"github.com/dockerish/embedworker/pkg/logging"
	"github.com/gomlx/go-huggingface/hub"
)

// DefaultCacheRoot returns the platform-conventional weight cache root.
func DefaultCacheRoot() string {
	return hub.DefaultCacheDir()
}

// Download fetches every file of modelID's snapshot into the cache root,
// skipping the work entirely if a snapshot is already present. Unlike the
// GGUF-only filtering a llama.cpp-style backend needs, embedding models
// commonly ship safetensors, tokenizer, and config files together, so every
// remote file is downloaded.
func Download(ctx context.Context, log logging.Logger, cacheRoot, modelID string) error {
	if IsCached(cacheRoot, modelID) {
		log.Infof("model %s already cached, skipping download", modelID)
		return nil
	}

	repo := hub.New(modelID).WithCacheDir(cacheRoot)
	var files []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return fmt.Errorf("enumerating remote files for %s: %w", modelID, err)
		}
		files = append(files, fileName)
	}

	log.Infof("downloading %d file(s) for model %s", len(files), modelID)
	if _, err := repo.DownloadFiles(files...); err != nil {
		return fmt.Errorf("downloading files for %s: %w", modelID, err)
	}
	return nil
}
