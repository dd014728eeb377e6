package embedding

import (
	"context"
	"errors"
)

// TextEncoder is the interface implemented by the concrete embedding-model
// adapter. It is an external collaborator: the worker never implements
// model inference itself, only the scheduling, memory governance, and
// protocol plumbing around it. Implementations need not be safe for
// concurrent invocation — the scheduler guarantees at most one in-flight
// call across the whole of Encode/Unload at any time.
type TextEncoder interface {
	// Load loads model weights for the given id onto the given device. It
	// may take minutes; it should only be cancelled at coarse boundaries
	// (e.g. between download and initialization), not mid-load.
	Load(ctx context.Context, modelID string, device string) error
	// Encode encodes strings into unit-norm rows of a N×EmbeddingDim
	// matrix using the device chosen at Load. It may return an error
	// satisfying IsOOM if the accelerator runs out of memory for the
	// requested batch size.
	Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	// Unload releases all device-resident buffers. It is always safe to
	// call even if nothing is loaded.
	Unload(ctx context.Context) error
	// EmbeddingDim returns the dimension of vectors produced by the
	// currently loaded model. It is only meaningful after a successful
	// Load.
	EmbeddingDim() int
	// ContextWindow returns the maximum token count the currently loaded
	// model accepts per input. It is only meaningful after a successful
	// Load.
	ContextWindow() int
}

// KeyphraseExtractor is the interface implemented by the concrete
// keyphrase-ranking adapter, built on top of a loaded TextEncoder.
type KeyphraseExtractor interface {
	// Available reports whether keyphrase extraction can run with the
	// currently loaded encoder.
	Available() bool
	// Extract ranks candidate n-grams drawn from text and returns the top
	// results, optionally re-ranked against structured candidates.
	Extract(ctx context.Context, req KeyphraseRequest) ([]Keyphrase, error)
}

// OOMError is returned by a TextEncoder.Encode implementation to signal an
// accelerator allocation failure that the memory governor should recover
// from by halving the batch size, rather than a terminal failure.
type OOMError struct {
	Err error
}

func (e *OOMError) Error() string { return "out of memory: " + e.Err.Error() }
func (e *OOMError) Unwrap() error { return e.Err }

// IsOOM reports whether err (or any error it wraps) is an *OOMError.
func IsOOM(err error) bool {
	var oom *OOMError
	return errors.As(err, &oom)
}
