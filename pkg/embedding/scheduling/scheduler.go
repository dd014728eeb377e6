package scheduling

import (
	"container/heap"
	"context"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/logging"
)

// defaultPauseWindow is how long an immediate request suspends batch
// dispatch, absent a CRAWLING_PAUSE_SECONDS override.
const defaultPauseWindow = 60 * time.Second

// pollInterval is how often the dispatch loop rechecks the pause window or
// wakes to notice new arrivals and the shutdown signal.
const pollInterval = 50 * time.Millisecond

// Scheduler orders and dispatches encode work, enforcing the crawling-pause
// invariant: a recent immediate request suspends batch dispatch so
// user-visible latency is never starved by background indexing. At most
// one Job executes at a time.
type Scheduler struct {
	log         logging.Logger
	pauseWindow time.Duration

	// guard is a buffered (size 1) semaphore controlling access to all
	// subsequent fields, following the same channel-as-mutex pattern used
	// elsewhere in this lineage so that the dispatch loop can poll for new
	// arrivals without blocking indefinitely on a sync.Mutex.
	guard  chan struct{}
	queue  jobHeap
	closed bool

	lastImmediateTS time.Time
	hasImmediate    bool

	wake chan struct{}
}

// NewScheduler creates a Scheduler with the given crawling-pause window. A
// zero window uses the default (60s).
func NewScheduler(log logging.Logger, pauseWindow time.Duration) *Scheduler {
	if pauseWindow <= 0 {
		pauseWindow = defaultPauseWindow
	}
	s := &Scheduler{
		log:         log,
		pauseWindow: pauseWindow,
		guard:       make(chan struct{}, 1),
		wake:        make(chan struct{}, 1),
	}
	s.guard <- struct{}{}
	return s
}

func (s *Scheduler) lock()   { <-s.guard }
func (s *Scheduler) unlock() { s.guard <- struct{}{} }

// Submit enqueues a Job and returns its completion slot. If the scheduler
// has already been stopped, the slot is completed immediately with
// embedding.ErrShuttingDown.
func (s *Scheduler) Submit(priority embedding.Priority, execute func(ctx context.Context) (any, error)) *CompletionSlot {
	slot := NewCompletionSlot()
	job := &Job{Priority: priority, ArrivalTS: time.Now(), Execute: execute, Slot: slot}

	s.lock()
	if s.closed {
		s.unlock()
		slot.Complete(nil, embedding.ErrShuttingDown)
		return slot
	}
	if priority == embedding.PriorityImmediate {
		s.lastImmediateTS = job.ArrivalTS
		s.hasImmediate = true
	}
	heap.Push(&s.queue, job)
	s.unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return slot
}

// QueueSize returns the number of jobs currently queued (not counting any
// job presently executing).
func (s *Scheduler) QueueSize() int {
	s.lock()
	defer s.unlock()
	return len(s.queue)
}

// paused reports whether the scheduler is within the crawling-pause window
// of the most recent immediate admission. The caller must hold the lock.
func (s *Scheduler) paused() bool {
	if !s.hasImmediate {
		return false
	}
	return time.Since(s.lastImmediateTS) < s.pauseWindow
}

// next pops the next eligible job, honoring the crawling-pause rule: while
// paused, a batch job at the head is left in place rather than dequeued.
// The caller must hold the lock.
func (s *Scheduler) next() *Job {
	if len(s.queue) == 0 {
		return nil
	}
	head := s.queue[0]
	if head.Priority == embedding.PriorityBatch && s.paused() {
		return nil
	}
	return heap.Pop(&s.queue).(*Job)
}

// Run drives the single dispatch worker until ctx is cancelled or Stop is
// called. All Job.Execute calls happen serially on this goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		s.lock()
		if s.closed {
			s.unlock()
			return
		}
		job := s.next()
		s.unlock()

		if job != nil {
			result, err := job.Execute(ctx)
			job.Slot.Complete(result, err)
			continue
		}

		select {
		case <-ctx.Done():
			s.drain(ctx.Err())
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// Stop prevents further admissions and drains queued jobs with
// embedding.ErrShuttingDown. It does not wait for an in-flight job to
// finish.
func (s *Scheduler) Stop() {
	s.lock()
	s.closed = true
	s.unlock()
	s.drain(embedding.ErrShuttingDown)
}

// AbortQueued completes every currently queued job with err without
// stopping the scheduler, used by the lifecycle controller when a model
// swap begins: queued batch requests are aborted while any in-flight
// request is allowed to complete.
func (s *Scheduler) AbortQueued(err error) {
	s.drain(err)
}

// drain completes every still-queued job with err.
func (s *Scheduler) drain(err error) {
	s.lock()
	pending := s.queue
	s.queue = nil
	s.unlock()

	for _, job := range pending {
		job.Slot.Complete(nil, err)
	}
}
