package stream

import (
	"context"
	"sync"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// Queue is an unbounded FIFO sink. Push never blocks, so a slow reader cannot
// stall the streaming client; it only grows the queue.
type Queue struct {
	mu    sync.Mutex
	items []core.Event
	head  int
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{})}
}

// Push appends ev and wakes any waiting Pop.
func (q *Queue) Push(ev core.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()
}

// Pop removes the oldest event, waiting until one arrives or ctx is done.
func (q *Queue) Pop(ctx context.Context) (core.Event, error) {
	for {
		q.mu.Lock()
		if ev, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return ev, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// TryPop removes the oldest event without waiting.
func (q *Queue) TryPop() (core.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) popLocked() (core.Event, bool) {
	if q.head == len(q.items) {
		return nil, false
	}
	ev := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return ev, true
}
