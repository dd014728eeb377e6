package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/gpuinfo"
	"github.com/dockerish/embedworker/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oomAboveEncoder raises OOMError for any call receiving more than maxOK
// inputs, recording the batch sizes it was called with.
type oomAboveEncoder struct {
	maxOK         int
	dim           int
	contextWindow int
	calls         []int
}

func (e *oomAboveEncoder) Load(context.Context, string, string) error { return nil }

func (e *oomAboveEncoder) Encode(_ context.Context, texts []string, batchSize int) ([][]float32, error) {
	e.calls = append(e.calls, len(texts))
	if len(texts) > e.maxOK {
		return nil, &embedding.OOMError{Err: errors.New("CUDA out of memory")}
	}
	rows := make([][]float32, len(texts))
	for i := range rows {
		rows[i] = make([]float32, e.dim)
	}
	return rows, nil
}

func (e *oomAboveEncoder) Unload(context.Context) error { return nil }
func (e *oomAboveEncoder) EmbeddingDim() int             { return e.dim }
func (e *oomAboveEncoder) ContextWindow() int            { return e.contextWindow }

func discardLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGovernorEncodeHalvesOnOOM(t *testing.T) {
	enc := &oomAboveEncoder{maxOK: 2, dim: 8, contextWindow: 512}
	g := NewGovernor(discardLogger(), enc, gpuinfo.DeviceCUDA)

	texts := make([]string, 16)
	for i := range texts {
		texts[i] = "hello"
	}

	rows, err := g.Encode(context.Background(), texts, ModelClassDefault, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 16)

	// Initial batch for CUDA/default class is 16: 16 (OOM), 8 (OOM), 4 (OOM), 2 (ok)...
	require.NotEmpty(t, enc.calls)
	assert.Equal(t, 16, enc.calls[0])
}

func TestGovernorTruncatesOversizedInput(t *testing.T) {
	enc := &oomAboveEncoder{maxOK: 1000, dim: 4, contextWindow: 512}
	g := NewGovernor(discardLogger(), enc, gpuinfo.DeviceCPU)

	longText := make([]byte, 100000)
	for i := range longText {
		longText[i] = 'a'
	}

	rows, err := g.Encode(context.Background(), []string{string(longText)}, ModelClassDefault, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, g.TruncatedCount())
}

func TestGovernorFailsAtSingleItemOOM(t *testing.T) {
	enc := &oomAboveEncoder{maxOK: 0, dim: 4, contextWindow: 512}
	g := NewGovernor(discardLogger(), enc, gpuinfo.DeviceCUDA)

	_, err := g.Encode(context.Background(), []string{"a", "b"}, ModelClassDefault, nil)
	require.Error(t, err)
	assert.True(t, embedding.IsOOM(err))
}

func TestTruncationBudgetClamped(t *testing.T) {
	assert.Equal(t, minTruncationChars, TruncationBudget(1))
	assert.Equal(t, maxTruncationChars, TruncationBudget(100000))
	assert.Equal(t, 512*charsPerTokenFactor, TruncationBudget(512))
}

func TestInitialBatchSizeTable(t *testing.T) {
	assert.Equal(t, 16, InitialBatchSize(gpuinfo.DeviceCUDA, ModelClassDefault))
	assert.Equal(t, 8, InitialBatchSize(gpuinfo.DeviceCUDA, ModelClassLargeContext))
	assert.Equal(t, 1, InitialBatchSize(gpuinfo.DeviceAppleUnified, ModelClassLargeContext))
	assert.Equal(t, 4, InitialBatchSize(gpuinfo.DeviceCPU, ModelClassSmallModel))
}
