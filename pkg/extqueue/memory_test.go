package extqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_SendReceiveAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "inbound", []byte("hello"), SendOptions{CorrelationID: "c1"}))

	msg, err := q.Receive(ctx, "inbound", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.Equal(t, "c1", msg.CorrelationID)
	assert.Equal(t, 1, msg.Attempts)

	require.NoError(t, q.Ack(ctx, "inbound", msg))

	n, err := q.Length(ctx, "inbound")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryQueue_ReceiveTimeout(t *testing.T) {
	q := NewMemoryQueue()
	_, err := q.Receive(context.Background(), "empty", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "q", []byte("low"), SendOptions{Priority: 3}))
	require.NoError(t, q.Send(ctx, "q", []byte("urgent"), SendOptions{Priority: 0}))

	msg, err := q.Receive(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("urgent"), msg.Payload)
}

func TestMemoryQueue_NackRequeue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "q", []byte("retry-me"), SendOptions{}))

	msg, err := q.Receive(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, "q", msg, true))

	redelivered, err := q.Receive(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("retry-me"), redelivered.Payload)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestMemoryQueue_NackDeadLetter(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "q", []byte("poison"), SendOptions{}))

	msg, err := q.Receive(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, "q", msg, false))

	_, err = q.Receive(ctx, "q", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, q.dead["q"], 1)
}

func TestMemoryQueue_DelayNotYetReady(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "q", []byte("later"), SendOptions{Delay: time.Hour}))

	_, err := q.Receive(ctx, "q", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
