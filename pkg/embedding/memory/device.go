package memory

import "github.com/dockerish/embedworker/pkg/gpuinfo"

// ModelClass buckets a loaded model by the characteristics that change how
// aggressively it can be batched: its context window and its parameter
// count relative to the embedding-model norm.
type ModelClass string

const (
	ModelClassDefault       ModelClass = "default"
	ModelClassLargeContext  ModelClass = "large_context"
	ModelClassLargeModel    ModelClass = "large_model"
	ModelClassSmallModel    ModelClass = "small_model"
)

// largeContextThreshold is the context-window length, in tokens, at or
// above which a model is considered "very-large-context" for batch-sizing
// purposes.
const largeContextThreshold = 8192

// ClassifyContextWindow returns ModelClassLargeContext if contextWindow
// meets the very-large-context threshold, otherwise ModelClassDefault. It
// does not account for parameter count; callers that know the model is a
// large- or small-parameter model should use that classification instead.
func ClassifyContextWindow(contextWindow int) ModelClass {
	if contextWindow >= largeContextThreshold {
		return ModelClassLargeContext
	}
	return ModelClassDefault
}

// batchSizeTable mirrors the device/model-class matrix: initial batch size
// before any OOM-driven halving.
var batchSizeTable = map[gpuinfo.DeviceClass]map[ModelClass]int{
	gpuinfo.DeviceCUDA: {
		ModelClassDefault:      16,
		ModelClassLargeContext: 8,
		ModelClassLargeModel:   8,
		ModelClassSmallModel:   16,
	},
	gpuinfo.DeviceAppleUnified: {
		ModelClassDefault:      4,
		ModelClassLargeContext: 1,
		ModelClassLargeModel:   2,
		ModelClassSmallModel:   4,
	},
	gpuinfo.DeviceCPU: {
		ModelClassDefault:      4,
		ModelClassLargeContext: 4,
		ModelClassLargeModel:   4,
		ModelClassSmallModel:   4,
	},
}

const (
	minBatchSize = 1
	maxBatchSize = 32
)

// InitialBatchSize returns the clamped initial batch size for the given
// device and model class.
func InitialBatchSize(device gpuinfo.DeviceClass, class ModelClass) int {
	byClass, ok := batchSizeTable[device]
	if !ok {
		byClass = batchSizeTable[gpuinfo.DeviceCPU]
	}
	size, ok := byClass[class]
	if !ok {
		size = byClass[ModelClassDefault]
	}
	return clamp(size, minBatchSize, maxBatchSize)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
