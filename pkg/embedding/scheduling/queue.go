// Package scheduling implements the two-class priority queue, the
// crawling-pause rule, and the single non-reentrant encoder worker that
// drains it.
package scheduling

import (
	"container/heap"
	"context"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
)

// Job is a unit of scheduled work. Execute is called on the scheduler's
// single worker goroutine and must not be invoked concurrently with any
// other Job's Execute.
type Job struct {
	Priority  embedding.Priority
	ArrivalTS time.Time
	Execute   func(ctx context.Context) (any, error)
	Slot      *CompletionSlot
}

// CompletionSlot is a single-assignment, thread-safe mailbox used to
// deliver a Job's result from the scheduler worker goroutine back to
// whichever goroutine is awaiting it, even if that goroutine is not
// currently awaiting at the moment the result becomes available.
type CompletionSlot struct {
	ch chan slotResult
}

type slotResult struct {
	Value any
	Err   error
}

// NewCompletionSlot creates an unfulfilled completion slot.
func NewCompletionSlot() *CompletionSlot {
	return &CompletionSlot{ch: make(chan slotResult, 1)}
}

// Complete assigns the slot's result. It is a no-op if the slot has already
// been completed.
func (s *CompletionSlot) Complete(value any, err error) {
	select {
	case s.ch <- slotResult{Value: value, Err: err}:
	default:
	}
}

// Await blocks until the slot is completed or ctx is done, whichever comes
// first.
func (s *CompletionSlot) Await(ctx context.Context) (any, error) {
	select {
	case r := <-s.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// jobHeap is a container/heap.Interface ordering Jobs by (priority,
// arrival timestamp): lower priority value first, ties broken by earlier
// arrival.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].ArrivalTS.Before(h[j].ArrivalTS)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*jobHeap)(nil)
