// Package extqueue implements the engine's external queue contract: the
// optional cross-process alternative to a Host's in-process Managed
// Queue. A Host configured with one delegates submit and the worker's
// get loop through it instead of the local queue, so pause and overflow
// policy still apply uniformly regardless of which one backs a Host.
package extqueue

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when no message became available
// before the given timeout elapsed.
var ErrTimeout = errors.New("extqueue: receive timeout")

// Message is one item taken off an external queue. Handle is an opaque
// token the backend uses to identify the in-flight delivery for a
// subsequent Ack or Nack; callers must not parse it.
type Message struct {
	Handle        string
	Payload       []byte
	Priority      int
	CorrelationID string
	Attempts      int
	EnqueuedAt    time.Time
}

// SendOptions carries the optional arguments to Send.
type SendOptions struct {
	// Priority orders delivery within a queue; lower values are more
	// urgent, mirroring message.Priority's ordinal convention.
	Priority int
	// Delay holds the message back from delivery for the given
	// duration. Zero means deliver as soon as a receiver polls.
	Delay time.Duration
	CorrelationID string
}

// Queue is the external queue contract: send/receive/ack/nack/length.
// Implementations are pluggable; Redis is the one this engine ships.
type Queue interface {
	// Send enqueues payload onto the named queue.
	Send(ctx context.Context, queueName string, payload []byte, opts SendOptions) error

	// Receive blocks up to timeout for a message on the named queue. It
	// returns ErrTimeout, not an error wrapping it, when none arrives.
	Receive(ctx context.Context, queueName string, timeout time.Duration) (Message, error)

	// Ack confirms successful processing of a message returned by
	// Receive, permanently removing it from the queue.
	Ack(ctx context.Context, queueName string, msg Message) error

	// Nack returns a message to the queue (requeue true) or moves it to
	// the queue's dead-letter list (requeue false).
	Nack(ctx context.Context, queueName string, msg Message, requeue bool) error

	// Length reports the number of messages currently available for
	// delivery on the named queue (not counting in-flight or delayed
	// ones).
	Length(ctx context.Context, queueName string) (int64, error)

	Close() error
}
