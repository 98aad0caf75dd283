package transcript

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of rows. Append never blocks, so producers on
// engine goroutines cannot stall on a slow view. Drain must have a single
// caller.
type Queue struct {
	mu     sync.Mutex
	items  []Exchange
	closed bool
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Append enqueues a row. Rows appended after Close are dropped.
func (q *Queue) Append(ex Exchange) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ex)
	q.mu.Unlock()
	q.notify()
}

// Close stops accepting rows. Drain returns once the rows already queued
// have been delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Len reports the number of rows waiting to be drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain calls fn for every row in order until the queue is closed and empty
// or ctx is done.
func (q *Queue) Drain(ctx context.Context, fn func(Exchange)) error {
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ex := range batch {
			fn(ex)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
