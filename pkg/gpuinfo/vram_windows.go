//go:build windows

package gpuinfo

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// getVRAMSize returns total system GPU memory in bytes by invoking a
// vendored GPU info helper binary if one is available under installPath,
// falling back to nvidia-smi on PATH.
func getVRAMSize(installPath string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bin := "nvidia-smi.exe"
	if installPath != "" {
		candidate := filepath.Join(installPath, "bin", "nvidia-smi.exe")
		if _, err := os.Stat(candidate); err == nil {
			bin = candidate
		}
	}

	cmd := exec.CommandContext(ctx, bin,
		"--query-gpu=memory.total", "--format=csv,noheader,nounits")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, errors.New("nvidia-smi unavailable or no CUDA device present")
	}

	sc := bufio.NewScanner(strings.NewReader(string(out)))
	if !sc.Scan() {
		return 0, errors.New("unexpected nvidia-smi output format")
	}
	mib, err := strconv.ParseUint(strings.TrimSpace(sc.Text()), 10, 64)
	if err != nil {
		return 0, err
	}
	return mib * 1024 * 1024, nil
}
