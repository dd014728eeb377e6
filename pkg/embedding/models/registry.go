// Package models reads the curated-model registry, validates requested
// model ids against it, and probes the local weight cache.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrModelNotFound is returned when a requested model id is not present in
// the registry.
var ErrModelNotFound = errors.New("model not found")

// Entry is a single curated model, as read from the registry file. Only the
// fields the worker actually consumes are modeled; the registry file may
// carry additional fields the worker ignores.
type Entry struct {
	HuggingFaceID string `json:"huggingfaceId"`
}

// registryFile mirrors the on-disk shape: {"gpuModels": {"models": [...]}}.
type registryFile struct {
	GPUModels struct {
		Models []Entry `json:"models"`
	} `json:"gpuModels"`
}

// Registry is a read-only view of the curated-model configuration.
type Registry struct {
	byID map[string]Entry
}

// LoadRegistry reads and parses the registry file at path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model registry: %w", err)
	}
	var parsed registryFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing model registry: %w", err)
	}
	r := &Registry{byID: make(map[string]Entry, len(parsed.GPUModels.Models))}
	for _, m := range parsed.GPUModels.Models {
		if m.HuggingFaceID == "" {
			continue
		}
		r.byID[m.HuggingFaceID] = m
	}
	return r, nil
}

// Validate returns ErrModelNotFound if id is not a curated model.
func (r *Registry) Validate(id string) error {
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%q: %w", id, ErrModelNotFound)
	}
	return nil
}

// List returns every curated model id. Ids are held in a map, so the order
// is not defined and does not follow the registry file. The returned slice
// is a fresh copy; callers may mutate it freely.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
