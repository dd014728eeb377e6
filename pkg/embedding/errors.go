package embedding

import "errors"

var (
	// ErrNotReady is returned when an encode or keyphrase request is
	// admitted while the worker is not in the READY state.
	ErrNotReady = errors.New("worker is not ready")
	// ErrLoadInProgress is returned when a load_model request arrives
	// while another load is already underway.
	ErrLoadInProgress = errors.New("a model load is already in progress")
	// ErrShuttingDown is returned when new work is submitted after the
	// shutdown drain routine has begun.
	ErrShuttingDown = errors.New("worker is shutting down")
	// ErrModelSwapped is returned to any queued request aborted because a
	// load_model swap began while it was still waiting to run.
	ErrModelSwapped = errors.New("model was swapped before this request could run")
)
