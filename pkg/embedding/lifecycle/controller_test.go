package lifecycle

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeLoader struct {
	err      error
	progress []int
}

func (f *fakeLoader) LoadModel(ctx context.Context, modelID string, progress func(pct int)) error {
	progress(0)
	progress(100)
	return f.err
}

type fakeReleaser struct {
	released int
	err      error
}

func (f *fakeReleaser) ReleaseModel(ctx context.Context) error {
	f.released++
	return f.err
}

func TestLoadModelFromIdleReachesReady(t *testing.T) {
	t.Parallel()
	c := New(discardLogger(), &fakeReleaser{}, &fakeLoader{}, time.Hour)

	assert.Equal(t, embedding.StateIdle, c.State())
	require.NoError(t, c.LoadModel(context.Background(), "org/small-model", nil))
	assert.Equal(t, embedding.StateReady, c.State())
	assert.Equal(t, "org/small-model", c.CurrentModel())
}

func TestLoadModelFailureGoesToError(t *testing.T) {
	t.Parallel()
	c := New(discardLogger(), &fakeReleaser{}, &fakeLoader{err: errors.New("boom")}, time.Hour)

	err := c.LoadModel(context.Background(), "org/small-model", nil)
	require.Error(t, err)
	assert.Equal(t, embedding.StateError, c.State())
}

func TestSwapAbortsQueueAndLoadsNewModel(t *testing.T) {
	t.Parallel()
	releaser := &fakeReleaser{}
	c := New(discardLogger(), releaser, &fakeLoader{}, time.Hour)
	require.NoError(t, c.LoadModel(context.Background(), "A", nil))

	var abortedWith error
	require.NoError(t, c.LoadModel(context.Background(), "B", func(err error) { abortedWith = err }))

	assert.Equal(t, embedding.StateReady, c.State())
	assert.Equal(t, "B", c.CurrentModel())
	assert.ErrorIs(t, abortedWith, embedding.ErrModelSwapped)
	assert.Equal(t, 1, releaser.released)
}

func TestTryAdmitRequiresReady(t *testing.T) {
	t.Parallel()
	c := New(discardLogger(), &fakeReleaser{}, &fakeLoader{}, time.Hour)

	_, err := c.TryAdmit()
	assert.ErrorIs(t, err, embedding.ErrNotReady)

	require.NoError(t, c.LoadModel(context.Background(), "org/small-model", nil))
	handle, err := c.TryAdmit()
	require.NoError(t, err)
	assert.Equal(t, embedding.StateWorking, c.State())

	handle.Release(true)
	assert.Equal(t, embedding.StateReady, c.State())
}

func TestIdleUnloadFiresAfterTimeout(t *testing.T) {
	t.Parallel()
	releaser := &fakeReleaser{}
	c := New(discardLogger(), releaser, &fakeLoader{}, 30*time.Millisecond)
	require.NoError(t, c.LoadModel(context.Background(), "org/small-model", nil))

	require.Eventually(t, func() bool {
		return c.State() == embedding.StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", c.CurrentModel())
	assert.Equal(t, 1, releaser.released)
}

func TestUnloadModelIsNoOpWhenIdle(t *testing.T) {
	t.Parallel()
	c := New(discardLogger(), &fakeReleaser{}, &fakeLoader{}, time.Hour)
	require.NoError(t, c.UnloadModel(context.Background()))
	assert.Equal(t, embedding.StateIdle, c.State())
}
