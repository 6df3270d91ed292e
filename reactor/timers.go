// File: reactor/timers.go
// Author: momentics <momentics@gmail.com>
//
// Deadline-ordered min-heap of one-shot timers.

package reactor

import (
	"container/heap"
	"time"

	"github.com/momentics/netdispatch/api"
)

type timer struct {
	deadline time.Time
	id       uint64 // ties break in registration order
	cb       api.TimerCallback
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type timerQueue struct {
	h      timerHeap
	nextID uint64
}

func (q *timerQueue) add(deadline time.Time, cb api.TimerCallback) {
	q.nextID++
	heap.Push(&q.h, &timer{deadline: deadline, id: q.nextID, cb: cb})
}

// next returns the earliest deadline.
func (q *timerQueue) next() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].deadline, true
}

// expired pops every timer due at now, in deadline order.
func (q *timerQueue) expired(now time.Time) []*timer {
	var out []*timer
	for len(q.h) > 0 && !q.h[0].deadline.After(now) {
		out = append(out, heap.Pop(&q.h).(*timer))
	}
	return out
}

func (q *timerQueue) len() int { return len(q.h) }

// waitFor clamps the time until the next timer into [0, max].
func (q *timerQueue) waitFor(now time.Time, max time.Duration) time.Duration {
	d, ok := q.next()
	if !ok {
		return max
	}
	wait := d.Sub(now)
	if wait < 0 {
		return 0
	}
	if wait > max {
		return max
	}
	return wait
}
