// Package pyencoder implements embedding.TextEncoder against an external
// Python process: the sentence-transformers-based adapter this worker's
// lineage has always delegated actual model inference to, the same way the
// reference tree never performs llama.cpp inference in-process and instead
// manages a subprocess it talks to over a pipe.
package pyencoder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/logging"
)

// request is one line sent to the subprocess's stdin.
type request struct {
	Cmd       string   `json:"cmd"`
	ModelID   string   `json:"model_id,omitempty"`
	Device    string   `json:"device,omitempty"`
	Texts     []string `json:"texts,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// reply is one line read from the subprocess's stdout.
type reply struct {
	OK            bool        `json:"ok"`
	Error         string      `json:"error,omitempty"`
	OOM           bool        `json:"oom,omitempty"`
	Dim           int         `json:"dim,omitempty"`
	ContextWindow int         `json:"context_window,omitempty"`
	Vectors       [][]float32 `json:"vectors,omitempty"`
}

// PythonEncoder implements embedding.TextEncoder by keeping one
// long-lived Python subprocess alive for the duration of a loaded model,
// mirroring the scheduler's own guarantee that at most one Encode/Unload
// call is ever in flight.
type PythonEncoder struct {
	log        logging.Logger
	pythonPath string
	scriptPath string

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         *bufio.Writer
	stdout        *bufio.Scanner
	dim           int
	contextWindow int
}

// New creates a PythonEncoder that launches pythonPath scriptPath on Load.
// A zero pythonPath defaults to "python3".
func New(log logging.Logger, pythonPath, scriptPath string) *PythonEncoder {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &PythonEncoder{log: log, pythonPath: pythonPath, scriptPath: scriptPath}
}

// Load starts the adapter subprocess and instructs it to load modelID onto
// device, blocking until the subprocess reports readiness.
func (p *PythonEncoder) Load(ctx context.Context, modelID, device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), p.pythonPath, p.scriptPath)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating adapter stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating adapter stdout pipe: %w", err)
	}
	cmd.Stderr = p.log.Writer()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting embedding adapter process: %w", err)
	}

	p.cmd = cmd
	p.stdin = bufio.NewWriter(stdinPipe)
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	p.stdout = scanner

	rep, err := p.roundTrip(request{Cmd: "load", ModelID: modelID, Device: device})
	if err != nil {
		_ = p.killLocked()
		return err
	}

	p.dim = rep.Dim
	p.contextWindow = rep.ContextWindow
	return nil
}

// Encode sends texts to the adapter in one batch of the given size.
func (p *PythonEncoder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil, fmt.Errorf("encoder not loaded")
	}

	rep, err := p.roundTrip(request{Cmd: "encode", Texts: texts, BatchSize: batchSize})
	if err != nil {
		if rep != nil && rep.OOM {
			return nil, &embedding.OOMError{Err: err}
		}
		return nil, err
	}
	return rep.Vectors, nil
}

// Unload asks the adapter to release its model and terminates the
// subprocess. It is always safe to call, even if nothing is loaded.
func (p *PythonEncoder) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	_, _ = p.roundTrip(request{Cmd: "unload"})
	return p.killLocked()
}

// EmbeddingDim returns the dimension reported by the adapter at Load.
func (p *PythonEncoder) EmbeddingDim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

// ContextWindow returns the context window reported by the adapter at
// Load.
func (p *PythonEncoder) ContextWindow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contextWindow
}

// roundTrip writes one request line and reads one reply line. The caller
// must hold p.mu.
func (p *PythonEncoder) roundTrip(req request) (*reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling adapter request: %w", err)
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("writing to adapter stdin: %w", err)
	}
	if err := p.stdin.Flush(); err != nil {
		return nil, fmt.Errorf("flushing adapter stdin: %w", err)
	}

	if !p.stdout.Scan() {
		if err := p.stdout.Err(); err != nil {
			return nil, fmt.Errorf("reading adapter reply: %w", err)
		}
		return nil, fmt.Errorf("adapter process closed its output unexpectedly")
	}

	var rep reply
	if err := json.Unmarshal(p.stdout.Bytes(), &rep); err != nil {
		return nil, fmt.Errorf("parsing adapter reply: %w", err)
	}
	if !rep.OK {
		return &rep, fmt.Errorf("adapter error: %s", rep.Error)
	}
	return &rep, nil
}

func (p *PythonEncoder) killLocked() error {
	if p.cmd == nil || p.cmd.Process == nil {
		p.cmd = nil
		return nil
	}
	err := p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	p.cmd = nil
	return err
}
