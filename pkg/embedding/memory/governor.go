package memory

import (
	"context"
	"runtime"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/gpuinfo"
	"github.com/dockerish/embedworker/pkg/logging"
)

// maxBatchRetries bounds how many times a single batch is halved and
// retried before the whole request is surfaced as an encode failure.
const maxBatchRetries = 3

// charsPerTokenFactor approximates characters per token when computing the
// pre-encode truncation budget.
const charsPerTokenFactor = 3

const (
	minTruncationChars = 1000
	maxTruncationChars = 12000
)

// TruncationBudget returns the safe character budget for a model with the
// given context window: contextWindowTokens*charsPerTokenFactor, clamped to
// [minTruncationChars, maxTruncationChars]. It does not read TargetFraction.
func TruncationBudget(contextWindowTokens int) int {
	budget := contextWindowTokens * charsPerTokenFactor
	if budget < minTruncationChars {
		return minTruncationChars
	}
	if budget > maxTruncationChars {
		return maxTruncationChars
	}
	return budget
}

// ProgressFunc is invoked by the governor as it works through a request's
// batches so the caller can relay progress notifications.
type ProgressFunc func(event string, current, total int)

// Governor wraps a TextEncoder with context-window truncation, adaptive
// batch halving on OOM, and one retry at the CPU batch size after a non-OOM
// failure.
type Governor struct {
	log     logging.Logger
	encoder embedding.TextEncoder
	device  gpuinfo.DeviceClass

	// truncatedCount counts inputs truncated for exceeding the character
	// budget, surfaced for diagnostics.
	truncatedCount int
	// cpuFallbackCount counts requests retried at the CPU batch size after
	// a non-OOM failure.
	cpuFallbackCount int
}

// NewGovernor creates a Governor driving encoder on the given device class.
func NewGovernor(log logging.Logger, encoder embedding.TextEncoder, device gpuinfo.DeviceClass) *Governor {
	return &Governor{log: log, encoder: encoder, device: device}
}

// TruncatedCount returns the number of inputs truncated so far.
func (g *Governor) TruncatedCount() int { return g.truncatedCount }

// CPUFallbackCount returns the number of requests retried at the CPU batch
// size so far.
func (g *Governor) CPUFallbackCount() int { return g.cpuFallbackCount }

// Encode truncates texts to the model's context-window budget, then encodes
// them in batches sized for the current device and model class, halving the
// batch size on OOM. On a non-OOM failure it retries the whole request once
// with the CPU batch size on the same encoder; the encoder is not reloaded
// onto the CPU. It returns one embedding row per input text, in order.
func (g *Governor) Encode(ctx context.Context, texts []string, class ModelClass, progress ProgressFunc) ([][]float32, error) {
	budget := TruncationBudget(g.encoder.ContextWindow())
	truncated := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > budget {
			truncated[i] = t[:budget]
			g.truncatedCount++
		} else {
			truncated[i] = t
		}
	}

	initialBatch := InitialBatchSize(g.device, class)

	rows, err := g.encodeBatches(ctx, truncated, initialBatch, progress)
	if err == nil || embedding.IsOOM(err) {
		return rows, err
	}

	// Non-OOM failure: retry the whole request once with the CPU batch
	// size. The encoder keeps the device it was loaded on.
	g.log.Warnf("encode failed (%v); retrying this request once with the CPU batch size", err)
	g.cpuFallbackCount++
	return g.encodeBatches(ctx, truncated, InitialBatchSize(gpuinfo.DeviceCPU, class), progress)
}

// encodeBatches drives the batch loop with adaptive halving on OOM. It
// concatenates per-batch results once at the end to avoid O(n^2) copying.
// Once a chunk discovers a smaller working batch size, that size becomes
// the starting point for every subsequent outer chunk of this request
// rather than retrying the full initial batch size from scratch each time.
func (g *Governor) encodeBatches(ctx context.Context, texts []string, initialBatch int, progress ProgressFunc) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	total := len(texts)
	offset := 0
	batch := initialBatch

	for offset < total {
		end := offset + batch
		if end > total {
			end = total
		}
		slice := texts[offset:end]

		if progress != nil {
			progress("batch_start", offset, total)
		}

		rows, usedBatch, err := g.encodeSliceWithHalving(ctx, slice, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, rows...)
		batch = usedBatch

		if progress != nil {
			progress("batch_end", end, total)
		}

		g.reclaim()
		if progress != nil {
			progress("cleaning_memory", end, total)
		}

		offset = end
	}

	return results, nil
}

// encodeSliceWithHalving encodes every item of slice, starting at
// batchSize and halving on OOM. Once a sub-batch size succeeds, it walks
// the remainder of slice in chunks of that size rather than re-attempting
// the original, already-failing batchSize. It returns the batch size that
// ultimately succeeded, so the caller can carry it forward to later
// chunks of the same request.
func (g *Governor) encodeSliceWithHalving(ctx context.Context, slice []string, batchSize int) ([][]float32, int, error) {
	b := batchSize
	if b <= 0 || b > len(slice) {
		b = len(slice)
	}

	results := make([][]float32, 0, len(slice))
	offset := 0
	for offset < len(slice) {
		rows, usedBatch, err := g.encodeChunkWithHalving(ctx, slice[offset:], b)
		if err != nil {
			return nil, usedBatch, err
		}
		results = append(results, rows...)
		offset += len(rows)
		b = usedBatch
	}
	return results, b, nil
}

// encodeChunkWithHalving encodes the first min(batchSize, len(remaining))
// items of remaining, re-slicing to the halved size on every retry so a
// reduced batchSize actually reaches the encoder, with at most
// maxBatchRetries retries after the first attempt. It returns the rows it
// encoded and the batch size that succeeded.
func (g *Governor) encodeChunkWithHalving(ctx context.Context, remaining []string, batchSize int) ([][]float32, int, error) {
	b := batchSize
	var lastErr error
	for attempt := 0; attempt <= maxBatchRetries; attempt++ {
		end := b
		if end > len(remaining) {
			end = len(remaining)
		}
		slice := remaining[:end]

		rows, err := g.encoder.Encode(ctx, slice, b)
		if err == nil {
			return rows, b, nil
		}
		if !embedding.IsOOM(err) {
			return nil, b, err
		}
		lastErr = err
		g.log.Warnf("OOM at batch size %d (attempt %d/%d); halving and retrying", b, attempt+1, maxBatchRetries+1)
		g.reclaim()
		if b == 1 {
			break
		}
		b = max(1, b/2)
	}
	return nil, b, lastErr
}

// reclaim performs a light cache-reclamation pass: the worker-process side
// of this is just a GC nudge; accelerator-side cache clearing is the
// TextEncoder's responsibility and is implied by the next Encode call
// observing a clean allocator state.
func (g *Governor) reclaim() {
	runtime.GC()
}
