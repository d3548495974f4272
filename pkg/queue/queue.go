// Package queue implements the engine's per-Host bounded queue: a
// selectable ordering discipline and a selectable overflow policy, with
// the put/get/size/metrics contract every Host worker pool consumes.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Discipline selects the queue's ordering behaviour.
type Discipline int

const (
	FIFO Discipline = iota
	LIFO
	Priority
	Unordered
)

// OverflowPolicy selects what happens to Put when the queue is full.
type OverflowPolicy int

const (
	Block OverflowPolicy = iota
	DropOldest
	DropNewest
	Redirect
)

// Prioritized is implemented by items queued under the Priority
// discipline; lower ordinal sorts first.
type Prioritized interface {
	QueuePriority() int
}

// Metrics is a point-in-time snapshot of a queue's counters.
type Metrics struct {
	TotalPut      int64
	TotalGet      int64
	TotalDropped  int64
	PeakSize      int
	CurrentSize   int
	OverflowCount int64
}

// Options configures a new ManagedQueue.
type Options struct {
	Capacity       int
	Discipline     Discipline
	OverflowPolicy OverflowPolicy
	// Overflow is the target queue Redirect pushes into. Required when
	// OverflowPolicy is Redirect.
	Overflow *ManagedQueue[any]
}

// ManagedQueue is a bounded, disciplined, metered queue of items of type T.
type ManagedQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity int
	policy   OverflowPolicy
	disc     Discipline
	overflow *ManagedQueue[any]

	fifo  []T
	pheap *priorityHeap[T]

	metrics Metrics
	seq     int64 // monotonic insertion sequence, used for FIFO tie-break
}

type pqEntry[T any] struct {
	item T
	prio int
	seq  int64
}

type priorityHeap[T any] struct {
	entries []pqEntry[T]
}

func (h *priorityHeap[T]) Len() int { return len(h.entries) }
func (h *priorityHeap[T]) Less(i, j int) bool {
	if h.entries[i].prio != h.entries[j].prio {
		return h.entries[i].prio < h.entries[j].prio
	}
	return h.entries[i].seq < h.entries[j].seq
}
func (h *priorityHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *priorityHeap[T]) Push(x any)    { h.entries = append(h.entries, x.(pqEntry[T])) }
func (h *priorityHeap[T]) Pop() any {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}

// New constructs a ManagedQueue with the given options.
func New[T any](opts Options) *ManagedQueue[T] {
	q := &ManagedQueue[T]{
		capacity: opts.Capacity,
		policy:   opts.OverflowPolicy,
		disc:     opts.Discipline,
		overflow: opts.Overflow,
	}
	q.cond = sync.NewCond(&q.mu)
	if opts.Discipline == Priority {
		q.pheap = &priorityHeap[T]{}
	}
	return q
}

func (q *ManagedQueue[T]) priorityOf(item T) int {
	if p, ok := any(item).(Prioritized); ok {
		return p.QueuePriority()
	}
	return 0
}

func (q *ManagedQueue[T]) lenLocked() int {
	if q.disc == Priority {
		return q.pheap.Len()
	}
	return len(q.fifo)
}

// Put enqueues item according to the configured discipline and overflow
// policy. It returns true if the item was accepted, false if it was
// rejected (DropNewest) or redirect failed with no overflow configured.
// Under Block it returns only once space is available or ctx is done.
func (q *ManagedQueue[T]) Put(ctx context.Context, item T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() >= q.capacity && q.capacity > 0 {
		switch q.policy {
		case Block:
			if !q.waitForSpace(ctx) {
				return false, ctx.Err()
			}
			continue
		case DropOldest:
			q.dropOldestLocked()
		case DropNewest:
			q.metrics.TotalDropped++
			q.metrics.OverflowCount++
			return false, nil
		case Redirect:
			q.metrics.OverflowCount++
			if q.overflow == nil {
				q.metrics.TotalDropped++
				return false, nil
			}
			_, err := q.overflow.Put(ctx, any(item))
			return err == nil, err
		}
		break
	}

	q.pushLocked(item)
	q.metrics.TotalPut++
	if q.lenLocked() > q.metrics.PeakSize {
		q.metrics.PeakSize = q.lenLocked()
	}
	q.cond.Broadcast()
	return true, nil
}

// waitForSpace blocks until the queue has room or ctx is cancelled,
// returning false in the latter case. Callers must hold q.mu.
func (q *ManagedQueue[T]) waitForSpace(ctx context.Context) bool {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		close(done)
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.lenLocked() >= q.capacity {
		select {
		case <-done:
			return false
		default:
		}
		if ctx.Err() != nil {
			return false
		}
		q.cond.Wait()
	}
	return true
}

func (q *ManagedQueue[T]) dropOldestLocked() {
	if q.disc == Priority {
		if q.pheap.Len() == 0 {
			return
		}
		heap.Pop(q.pheap)
	} else if len(q.fifo) > 0 {
		q.fifo = q.fifo[1:]
	}
	q.metrics.TotalDropped++
	q.metrics.OverflowCount++
}

func (q *ManagedQueue[T]) pushLocked(item T) {
	q.seq++
	switch q.disc {
	case Priority:
		heap.Push(q.pheap, pqEntry[T]{item: item, prio: q.priorityOf(item), seq: q.seq})
	case LIFO:
		q.fifo = append(q.fifo, item)
	default: // FIFO, Unordered (insertion order is fine for Unordered too)
		q.fifo = append(q.fifo, item)
	}
}

// Get blocks until an item is available or deadline elapses, returning
// ok=false on deadline. A zero deadline blocks indefinitely (until ctx
// is cancelled).
func (q *ManagedQueue[T]) Get(ctx context.Context, deadline time.Duration) (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var timedOut bool
	var timer *time.Timer
	if deadline > 0 {
		timer = time.AfterFunc(deadline, func() {
			q.mu.Lock()
			timedOut = true
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.lenLocked() == 0 {
		if ctx.Err() != nil || timedOut {
			var zero T
			return zero, false
		}
		q.cond.Wait()
	}

	item = q.popLocked()
	q.metrics.TotalGet++
	q.cond.Broadcast()
	return item, true
}

func (q *ManagedQueue[T]) popLocked() T {
	switch q.disc {
	case Priority:
		e := heap.Pop(q.pheap).(pqEntry[T])
		return e.item
	case LIFO:
		n := len(q.fifo)
		item := q.fifo[n-1]
		q.fifo = q.fifo[:n-1]
		return item
	default: // FIFO, Unordered
		item := q.fifo[0]
		q.fifo = q.fifo[1:]
		return item
	}
}

// Size returns the current number of queued items.
func (q *ManagedQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Empty reports whether the queue currently holds no items.
func (q *ManagedQueue[T]) Empty() bool { return q.Size() == 0 }

// Full reports whether the queue is at capacity.
func (q *ManagedQueue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity > 0 && q.lenLocked() >= q.capacity
}

// Snapshot returns a copy of the queue's metrics.
func (q *ManagedQueue[T]) Snapshot() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.metrics
	m.CurrentSize = q.lenLocked()
	return m
}
