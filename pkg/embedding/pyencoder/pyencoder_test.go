package pyencoder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// writeFakeAdapter writes a tiny shell script standing in for the real
// Python adapter: it answers "load" with a fixed dim/context_window, answers
// every "encode" with the same single three-element vector (or an OOM error
// when the request line contains the quoted string "oom"), and acknowledges
// "unload". It is enough to exercise the stdin/stdout line protocol without
// requiring a Python interpreter in the test environment.
func writeFakeAdapter(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_adapter.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"cmd":"load"'*) echo '{"ok":true,"dim":3,"context_window":512}' ;;
    *'"cmd":"encode"'*'"oom"'*) echo '{"ok":false,"oom":true,"error":"out of memory"}' ;;
    *'"cmd":"encode"'*) echo '{"ok":true,"vectors":[[0.1,0.2,0.3]]}' ;;
    *'"cmd":"unload"'*) echo '{"ok":true}' ;;
    *) echo '{"ok":false,"error":"unknown command"}' ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPythonEncoderLoadEncodeUnload(t *testing.T) {
	script := writeFakeAdapter(t)
	enc := New(discardLogger(), "/bin/sh", script)

	require.NoError(t, enc.Load(context.Background(), "some/model", "cpu"))
	require.Equal(t, 3, enc.EmbeddingDim())
	require.Equal(t, 512, enc.ContextWindow())

	vectors, err := enc.Encode(context.Background(), []string{"hello"}, 1)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])

	require.NoError(t, enc.Unload(context.Background()))
}

func TestPythonEncoderEncodeBeforeLoadFails(t *testing.T) {
	enc := New(discardLogger(), "/bin/sh", "/nonexistent")
	_, err := enc.Encode(context.Background(), []string{"hello"}, 1)
	require.Error(t, err)
}
