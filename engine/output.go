package engine

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// OutputQueue is an unbounded FIFO of step outputs for one request.
// The scheduler goroutine produces with Put, which never blocks; a single
// delivery goroutine consumes with Get or TryGet. The wake-up signal holds one
// pending notification, so concurrent blocked Get calls are not supported.
type OutputQueue struct {
	mu     sync.Mutex
	items  deque.Deque[StepOutput]
	notify chan struct{}
}

// NewOutputQueue creates an empty OutputQueue.
func NewOutputQueue() *OutputQueue {
	return &OutputQueue{notify: make(chan struct{}, 1)}
}

// Put appends an output and wakes a waiting consumer, if any.
func (q *OutputQueue) Put(out StepOutput) {
	q.mu.Lock()
	q.items.PushBack(out)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet removes and returns the oldest output without blocking.
func (q *OutputQueue) TryGet() (StepOutput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return StepOutput{}, false
	}
	return q.items.PopFront(), true
}

// Get blocks until an output is available or ctx is done.
func (q *OutputQueue) Get(ctx context.Context) (StepOutput, error) {
	for {
		if out, ok := q.TryGet(); ok {
			return out, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return StepOutput{}, ctx.Err()
		}
	}
}

// Len returns the number of undelivered outputs.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Wait blocks until the request finishes or ctx is done. A request that has
// already finished returns immediately.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream delivers every output of the request to fn in generation order and
// returns after the finishing output has been delivered. It stops early with
// fn's error or ctx's error.
func (r *Request) Stream(ctx context.Context, fn func(StepOutput) error) error {
	for {
		out, err := r.outputs.Get(ctx)
		if err != nil {
			return err
		}
		if err := fn(out); err != nil {
			return err
		}
		if out.Finished {
			return nil
		}
	}
}
