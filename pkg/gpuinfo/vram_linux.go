//go:build linux

package gpuinfo

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// getVRAMSize shells out to nvidia-smi to query total VRAM, in bytes, for the
// first visible CUDA device. The nvidia.h cgo headers that a prior revision
// of this probe linked against are not available in every build environment,
// so this probe uses the same command-execution strategy the Windows probe
// already relies on.
func getVRAMSize(_ string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits")
	out, err := cmd.Output()
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
