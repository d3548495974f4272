package extqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	msg     Message
	readyAt time.Time
}

// MemoryQueue is an in-process Queue implementation for tests and for
// exercising a Host's external-queue path without a Redis dependency.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      map[string][]memoryEntry
	processing map[string]map[string]Message
	dead       map[string][]Message
}

// NewMemoryQueue constructs an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:      make(map[string][]memoryEntry),
		processing: make(map[string]map[string]Message),
		dead:       make(map[string][]Message),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, queueName string, payload []byte, opts SendOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	readyAt := time.Now()
	if opts.Delay > 0 {
		readyAt = readyAt.Add(opts.Delay)
	}
	q.ready[queueName] = append(q.ready[queueName], memoryEntry{
		msg: Message{
			Handle:        uuid.NewString(),
			Payload:       append([]byte(nil), payload...),
			Priority:      opts.Priority,
			CorrelationID: opts.CorrelationID,
			EnqueuedAt:    time.Now(),
		},
		readyAt: readyAt,
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, queueName string, timeout time.Duration) (Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := q.tryReceive(queueName); ok {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return Message{}, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) tryReceive(queueName string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.ready[queueName]
	now := time.Now()
	best := -1
	for i, e := range entries {
		if e.readyAt.After(now) {
			continue
		}
		if best == -1 || e.msg.Priority < entries[best].msg.Priority {
			best = i
		}
	}
	if best == -1 {
		return Message{}, false
	}

	entry := entries[best]
	q.ready[queueName] = append(entries[:best], entries[best+1:]...)

	entry.msg.Attempts++
	entry.msg.Handle = uuid.NewString()
	if q.processing[queueName] == nil {
		q.processing[queueName] = make(map[string]Message)
	}
	q.processing[queueName][entry.msg.Handle] = entry.msg
	return entry.msg, true
}

func (q *MemoryQueue) Ack(ctx context.Context, queueName string, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing[queueName], msg.Handle)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, queueName string, msg Message, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, ok := q.processing[queueName][msg.Handle]
	if !ok {
		return nil
	}
	delete(q.processing[queueName], msg.Handle)

	if !requeue {
		q.dead[queueName] = append(q.dead[queueName], stored)
		return nil
	}
	q.ready[queueName] = append(q.ready[queueName], memoryEntry{msg: stored, readyAt: time.Now()})
	return nil
}

func (q *MemoryQueue) Length(ctx context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var n int64
	for _, e := range q.ready[queueName] {
		if !e.readyAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Close() error { return nil }
