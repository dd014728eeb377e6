package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/embedding/models"
	"github.com/dockerish/embedworker/pkg/gpuinfo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeEncoder is a minimal embedding.TextEncoder stand-in, enough for
// dispatcher-level protocol tests that never need a real model loaded.
type fakeEncoder struct{}

func (fakeEncoder) Load(ctx context.Context, modelID, device string) error { return nil }
func (fakeEncoder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	rows := make([][]float32, len(texts))
	for i := range rows {
		rows[i] = []float32{1, 2, 3}
	}
	return rows, nil
}
func (fakeEncoder) Unload(ctx context.Context) error { return nil }
func (fakeEncoder) EmbeddingDim() int                { return 3 }
func (fakeEncoder) ContextWindow() int               { return 512 }

func newTestWorker(t *testing.T, outMu *sync.Mutex, out *strings.Builder) *Worker {
	t.Helper()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(registryPath, []byte(`{"gpuModels":{"models":[]}}`), 0o644))
	registry, err := models.LoadRegistry(registryPath)
	require.NoError(t, err)

	return NewWorker(NewWorkerConfig{
		Log:         discardLogger(),
		Registry:    registry,
		CacheRoot:   dir,
		Device:      gpuinfo.DeviceCPU,
		PauseWindow: 10 * time.Millisecond,
		IdleTimeout: time.Hour,
		Progress:    NewProgressEmitter(out, outMu),
		NewEncoder:  func() embedding.TextEncoder { return fakeEncoder{} },
	})
}

func readLine(t *testing.T, out *strings.Builder) map[string]any {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	require.True(t, scanner.Scan())
	var msg map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
	return msg
}

func TestDispatcherHealthCheck(t *testing.T) {
	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"health_check","params":{}}` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	msg := readLine(t, &out)
	require.Nil(t, msg["error"])
	result, ok := msg["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "idle", result["status"])
}

func TestDispatcherUnknownMethod(t *testing.T) {
	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"not_a_real_method"}` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	msg := readLine(t, &out)
	errObj, ok := msg["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(ErrCodeMethodNotFound), errObj["code"])
}

func TestDispatcherParseError(t *testing.T) {
	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc": not valid json` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	msg := readLine(t, &out)
	errObj, ok := msg["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(ErrCodeParseError), errObj["code"])
}

func TestDispatcherNotificationSuppressesReply(t *testing.T) {
	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc":"2.0","method":"not_a_real_method"}` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	require.Empty(t, out.String())
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	methodTable["__panics_for_test__"] = func(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
		panic("boom")
	}
	defer delete(methodTable, "__panics_for_test__")

	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"__panics_for_test__"}` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	msg := readLine(t, &out)
	errObj, ok := msg["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(ErrCodeInternalError), errObj["code"])
}

func TestDispatcherShutdownTerminatesLoop(t *testing.T) {
	var outMu sync.Mutex
	var out strings.Builder
	worker := newTestWorker(t, &outMu, &out)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":4,"method":"shutdown"}` + "\n" + `{"jsonrpc":"2.0","id":5,"method":"get_status"}` + "\n")
	d := NewDispatcher(discardLogger(), worker, in, &out, &outMu, time.Second)
	d.Run(context.Background())

	select {
	case <-d.Done():
	default:
		t.Fatal("expected dispatcher to be done after shutdown")
	}

	msg := readLine(t, &out)
	require.Equal(t, float64(4), msg["id"])
}
