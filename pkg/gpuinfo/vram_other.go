//go:build !linux && !windows

package gpuinfo

import "errors"

// getVRAMSize has no CUDA probe on this platform; the caller falls back to
// Apple unified memory or CPU classification.
func getVRAMSize(_ string) (uint64, error) {
	return 0, errors.New("CUDA VRAM probing not supported on this platform")
}
