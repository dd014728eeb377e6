// Package lifecycle implements the worker's state machine: IDLE, LOADING,
// READY, WORKING, UNLOADING, and the absorbing ERROR state. All transitions
// are serialized under a single mutex so that load, unload, swap,
// idle-unload, and RPC-initiated service cannot race.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/logging"
)

// defaultIdleTimeout is how long the worker sits READY with an empty queue
// before the model is evicted, absent a KEEP_ALIVE_SECONDS override.
const defaultIdleTimeout = 60 * time.Minute

// Releaser is implemented by whatever owns the TextEncoder and
// KeyphraseExtractor; it is invoked by the controller during UNLOADING.
type Releaser interface {
	// ReleaseModel releases the currently loaded model's resources
	// (encoder, keyphrase extractor, accelerator cache) and forces a
	// garbage-collection pass.
	ReleaseModel(ctx context.Context) error
}

// Loader is implemented by whatever owns the TextEncoder; it is invoked by
// the controller during LOADING. progress is called with values in
// [0, 100] as loading proceeds.
type Loader interface {
	LoadModel(ctx context.Context, modelID string, progress func(pct int)) error
}

// AdmissionHandle is returned by TryAdmit and must be released exactly once
// by the caller when the admitted request completes. Releasing it returns
// the controller to READY (re-arming the idle-unload timer) if the queue is
// empty, or leaves it WORKING if more work remains. If the model was
// unloaded or swapped while the work ran, the state is left as it is.
type AdmissionHandle struct {
	c *Controller
}

// Release signals that the admitted unit of work has completed.
// queueEmptyAfter must report whether the scheduler's queue is empty
// immediately after this completion, so the controller knows whether to
// re-arm the idle-unload timer.
func (h *AdmissionHandle) Release(queueEmptyAfter bool) {
	h.c.completeAdmission(queueEmptyAfter)
}

// Controller owns the lifecycle state machine.
type Controller struct {
	log         logging.Logger
	idleTimeout time.Duration
	releaser    Releaser
	loader      Loader

	mu            sync.Mutex
	state         embedding.State
	modelID       string
	progress      int
	startedAt     time.Time
	inFlight      int
	idleTimer     *time.Timer
	errCause      error
	totalCount    int
	immediateCnt  int
	batchCnt      int
}

// New creates a Controller in the IDLE state.
func New(log logging.Logger, releaser Releaser, loader Loader, idleTimeout time.Duration) *Controller {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Controller{
		log:         log,
		idleTimeout: idleTimeout,
		releaser:    releaser,
		loader:      loader,
		state:       embedding.StateIdle,
		startedAt:   time.Now(),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() embedding.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the compact get_status reply.
func (c *Controller) Status() embedding.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return embedding.Status{State: c.state, Model: c.modelID, Progress: c.progress}
}

// CurrentModel returns the currently loaded model id, or "" if none.
func (c *Controller) CurrentModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelID
}

// Uptime returns how long the controller has existed.
func (c *Controller) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.startedAt)
}

// LoadModel drives IDLE/ERROR -> LOADING -> READY|ERROR, or, if a model is
// already loaded, implements a swap as unload-then-load within one logical
// operation: if the new load fails, the old model is already gone and the
// controller settles in ERROR.
func (c *Controller) LoadModel(ctx context.Context, modelID string, queueAborter func(err error)) error {
	c.mu.Lock()
	if c.state == embedding.StateLoading {
		c.mu.Unlock()
		return embedding.ErrLoadInProgress
	}
	swapping := c.state == embedding.StateReady || c.state == embedding.StateWorking
	c.mu.Unlock()

	if swapping {
		if queueAborter != nil {
			queueAborter(embedding.ErrModelSwapped)
		}
		if err := c.unloadLocked(ctx); err != nil {
			c.mu.Lock()
			c.state = embedding.StateError
			c.errCause = err
			c.mu.Unlock()
			return err
		}
	}

	c.mu.Lock()
	c.stopIdleTimerLocked()
	c.state = embedding.StateLoading
	c.modelID = modelID
	c.progress = 0
	c.mu.Unlock()

	err := c.loader.LoadModel(ctx, modelID, func(pct int) {
		c.mu.Lock()
		c.progress = pct
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = embedding.StateError
		c.errCause = err
		return err
	}
	c.progress = 100
	c.state = embedding.StateReady
	c.armIdleTimerLocked()
	return nil
}

// UnloadModel forces UNLOADING -> IDLE regardless of current state (other
// than already IDLE or LOADING, which are no-ops/rejections respectively).
func (c *Controller) UnloadModel(ctx context.Context) error {
	c.mu.Lock()
	if c.state == embedding.StateLoading {
		c.mu.Unlock()
		return embedding.ErrLoadInProgress
	}
	if c.state == embedding.StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.unloadLocked(ctx)
}

// unloadLocked performs the UNLOADING -> IDLE transition. It must be called
// without the controller mutex held.
func (c *Controller) unloadLocked(ctx context.Context) error {
	c.mu.Lock()
	c.stopIdleTimerLocked()
	c.state = embedding.StateUnloading
	c.mu.Unlock()

	err := c.releaser.ReleaseModel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warnf("error releasing model resources: %v", err)
	}
	c.modelID = ""
	c.progress = 0
	c.state = embedding.StateIdle
	return nil
}

// TryAdmit attempts to admit one unit of encode work, transitioning
// READY -> WORKING and cancelling the idle-unload timer. It returns
// embedding.ErrNotReady if the controller is not currently READY. The
// returned handle must be released by the caller when the work completes.
//
// This indirection (rather than giving the scheduler direct access to the
// controller's mutex) is what breaks the cyclic coupling between the
// lifecycle controller, which needs to cancel the idle-unload timer on
// admission, and the scheduler, which needs to ask whether admission is
// allowed.
func (c *Controller) TryAdmit() (*AdmissionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != embedding.StateReady && c.state != embedding.StateWorking {
		return nil, embedding.ErrNotReady
	}

	c.stopIdleTimerLocked()
	c.state = embedding.StateWorking
	c.inFlight++
	return &AdmissionHandle{c: c}, nil
}

func (c *Controller) completeAdmission(queueEmptyAfter bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight > 0 {
		c.inFlight--
	}
	if c.inFlight == 0 && queueEmptyAfter && c.state == embedding.StateWorking {
		c.state = embedding.StateReady
		c.armIdleTimerLocked()
	}
}

// RecordRequest updates the worker's request counters. immediate
// distinguishes the priority class for §3's Worker state counters.
func (c *Controller) RecordRequest(immediate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCount++
	if immediate {
		c.immediateCnt++
	} else {
		c.batchCnt++
	}
}

// Counters returns (total, immediate, batch) request counts observed so
// far.
func (c *Controller) Counters() (total, immediate, batch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount, c.immediateCnt, c.batchCnt
}

// armIdleTimerLocked arms the idle-unload timer. The caller must hold the
// lock and the state must already be READY.
func (c *Controller) armIdleTimerLocked() {
	c.idleTimer = time.AfterFunc(c.idleTimeout, c.onIdleTimerFired)
}

func (c *Controller) stopIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// onIdleTimerFired atomically checks (state == READY && no in-flight
// request) and, if true, begins UNLOADING. If any condition fails, the
// timer simply isn't re-armed here; the next successful completion that
// leaves the queue empty will re-arm it.
func (c *Controller) onIdleTimerFired() {
	c.mu.Lock()
	if c.state != embedding.StateReady || c.inFlight != 0 {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.UnloadModel(context.Background()); err != nil {
		c.log.Warnf("idle-unload failed: %v", err)
	}
}
