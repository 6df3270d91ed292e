// File: core/concurrency/blocking_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded FIFO hand-off between any number of producers and consumers,
// with blocking, timed and non-blocking retrieval. Storage is a ring-buffer
// deque guarded by a mutex; a condition variable wakes waiting consumers.

package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// BlockingQueue is a mutex/condition-variable backed FIFO. Push never
// blocks; there is no capacity limit.
type BlockingQueue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *queue.Queue
}

// NewBlockingQueue creates an empty queue.
func NewBlockingQueue[T any]() *BlockingQueue[T] {
	q := &BlockingQueue[T]{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewBlockingQueueFrom moves the current contents of other into a new
// queue, leaving other empty.
func NewBlockingQueueFrom[T any](other *BlockingQueue[T]) *BlockingQueue[T] {
	q := NewBlockingQueue[T]()
	other.mu.Lock()
	q.items, other.items = other.items, queue.New()
	other.mu.Unlock()
	return q
}

// Push appends v and wakes one waiting consumer.
func (q *BlockingQueue[T]) Push(v T) {
	q.mu.Lock()
	q.items.Add(v)
	q.cond.Signal()
	q.mu.Unlock()
}

// Emplace appends the value produced by build. build runs outside the lock.
func (q *BlockingQueue[T]) Emplace(build func() T) {
	q.Push(build())
}

// TryPop removes and returns the front element if there is one.
func (q *BlockingQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.removeLocked(), true
}

// Pop blocks until an element is available and returns it.
func (q *BlockingQueue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.removeLocked()
}

// PopFor waits up to timeout for an element. It reports false if none
// arrived in time.
func (q *BlockingQueue[T]) PopFor(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 && timeout > 0 {
		// sync.Cond has no timed wait; wake every waiter at the deadline and
		// let each one re-check its own.
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
		for q.items.Length() == 0 && time.Now().Before(deadline) {
			q.cond.Wait()
		}
	}
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.removeLocked(), true
}

// PopContext blocks until an element is available or ctx is done.
func (q *BlockingQueue[T]) PopContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		q.cond.Wait()
	}
	return q.removeLocked(), nil
}

// Empty reports whether the queue held no elements at the time of the call.
func (q *BlockingQueue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length() == 0
}

// Size returns the number of queued elements at the time of the call.
func (q *BlockingQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Clear discards every queued element.
func (q *BlockingQueue[T]) Clear() {
	q.mu.Lock()
	q.items = queue.New()
	q.mu.Unlock()
}

func (q *BlockingQueue[T]) removeLocked() T {
	// A nil interface value was stored as-is; the failed assertion yields
	// the zero T, which is the same value.
	v, _ := q.items.Remove().(T)
	return v
}
