// Package gpuinfo probes the host for an accelerator and classifies it into
// one of the device classes the memory governor and batch-size heuristics
// key off of.
package gpuinfo

import (
	"runtime"

	"github.com/elastic/go-sysinfo"
)

// DeviceClass identifies the kind of accelerator the worker should encode on.
type DeviceClass string

const (
	// DeviceCUDA indicates an NVIDIA GPU reachable through CUDA.
	DeviceCUDA DeviceClass = "cuda"
	// DeviceAppleUnified indicates an Apple Silicon GPU sharing unified
	// memory with the CPU.
	DeviceAppleUnified DeviceClass = "mps"
	// DeviceCPU indicates no accelerator is usable; encode on CPU.
	DeviceCPU DeviceClass = "cpu"
)

// GPUInfo probes accelerator presence and capacity for the current host.
type GPUInfo struct {
	// modelRuntimeInstallPath locates any helper binaries the probe needs
	// to shell out to (e.g. nvidia-smi wrappers bundled with the runtime).
	modelRuntimeInstallPath string
}

// New creates a GPUInfo that looks for helper binaries under installPath.
// installPath may be empty if the probe should rely solely on tools already
// on PATH.
func New(installPath string) *GPUInfo {
	return &GPUInfo{modelRuntimeInstallPath: installPath}
}

// GetVRAMSize returns the total VRAM, in bytes, of the best available CUDA
// accelerator. It returns an error if no CUDA device could be queried.
func (g *GPUInfo) GetVRAMSize() (uint64, error) {
	return getVRAMSize(g.modelRuntimeInstallPath)
}

// Detect classifies the host's best available accelerator, preferring CUDA,
// then Apple Silicon unified memory, then falling back to CPU. It is meant
// to be called once at startup; the result should be cached by the caller.
func (g *GPUInfo) Detect() DeviceClass {
	if _, err := g.GetVRAMSize(); err == nil {
		return DeviceCUDA
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return DeviceAppleUnified
	}
	return DeviceCPU
}

// MemoryHint returns a human-readable description of the detected
// accelerator along with a best-effort capacity in bytes (0 if unknown),
// suitable for surfacing in health_check.
func (g *GPUInfo) MemoryHint(class DeviceClass) (description string, bytes uint64) {
	switch class {
	case DeviceCUDA:
		vram, err := g.GetVRAMSize()
		if err != nil {
			return "CUDA accelerator (VRAM unknown)", 0
		}
		return "CUDA accelerator", vram
	case DeviceAppleUnified:
		host, err := sysinfo.Host()
		if err != nil {
			return "Apple unified-memory GPU (RAM unknown)", 0
		}
		mem, err := host.Memory()
		if err != nil {
			return "Apple unified-memory GPU (RAM unknown)", 0
		}
		return "Apple unified-memory GPU", mem.Total
	default:
		host, err := sysinfo.Host()
		if err != nil {
			return "CPU only (RAM unknown)", 0
		}
		mem, err := host.Memory()
		if err != nil {
			return "CPU only (RAM unknown)", 0
		}
		return "CPU only", mem.Total
	}
}
