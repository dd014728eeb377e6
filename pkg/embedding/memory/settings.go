// Package memory implements the governor wrapping every TextEncoder.Encode
// call: context-window truncation, device-dependent batch sizing, adaptive
// halving on OOM, and post-batch cache reclamation.
package memory

import "sync"

// TargetFraction is the target memory-occupancy fraction for the
// accelerator, where settable. TruncationBudget and InitialBatchSize do not
// read it; they use fixed constants. It is a package-level mutable value (rather than a constant) so tests can
// exercise alternate fractions without threading a config object through
// every call site, mirroring the runtime-memory-check toggle pattern used
// elsewhere in this lineage.
var (
	targetFraction     = 0.7
	targetFractionLock sync.Mutex
)

// SetTargetFraction overrides the target accelerator memory fraction. It is
// intended for tests and advanced operator tuning.
func SetTargetFraction(fraction float64) {
	targetFractionLock.Lock()
	defer targetFractionLock.Unlock()
	targetFraction = fraction
}

// TargetFraction returns the current target accelerator memory fraction.
func TargetFraction() float64 {
	targetFractionLock.Lock()
	defer targetFractionLock.Unlock()
	return targetFraction
}
