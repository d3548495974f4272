package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagedQueue_FIFOOrder(t *testing.T) {
	q := New[int](Options{Capacity: 10, Discipline: FIFO})
	ctx := context.Background()

	for _, v := range []int{1, 2, 3} {
		ok, err := q.Put(ctx, v)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Get(ctx, 0)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestManagedQueue_LIFOOrder(t *testing.T) {
	q := New[int](Options{Capacity: 10, Discipline: LIFO})
	ctx := context.Background()

	for _, v := range []int{1, 2, 3} {
		_, err := q.Put(ctx, v)
		require.NoError(t, err)
	}

	for _, want := range []int{3, 2, 1} {
		got, ok := q.Get(ctx, 0)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

type prioritizedInt struct {
	v    int
	prio int
}

func (p prioritizedInt) QueuePriority() int { return p.prio }

func TestManagedQueue_PriorityOrder(t *testing.T) {
	q := New[prioritizedInt](Options{Capacity: 10, Discipline: Priority})
	ctx := context.Background()

	_, _ = q.Put(ctx, prioritizedInt{v: 1, prio: 5})
	_, _ = q.Put(ctx, prioritizedInt{v: 2, prio: 1})
	_, _ = q.Put(ctx, prioritizedInt{v: 3, prio: 1})

	first, ok := q.Get(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, 2, first.v) // lower prio value first, insertion order ties broken by seq

	second, ok := q.Get(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, 3, second.v)

	third, ok := q.Get(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, 1, third.v)
}

func TestManagedQueue_GetTimeout(t *testing.T) {
	q := New[int](Options{Capacity: 10, Discipline: FIFO})
	_, ok := q.Get(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
}

func TestManagedQueue_OverflowDropNewest(t *testing.T) {
	q := New[int](Options{Capacity: 1, Discipline: FIFO, OverflowPolicy: DropNewest})
	ctx := context.Background()

	ok, err := q.Put(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Put(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Size())
	assert.EqualValues(t, 1, q.Snapshot().TotalDropped)
}

func TestManagedQueue_OverflowDropOldest(t *testing.T) {
	q := New[int](Options{Capacity: 1, Discipline: FIFO, OverflowPolicy: DropOldest})
	ctx := context.Background()

	_, _ = q.Put(ctx, 1)
	ok, err := q.Put(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	got, ok := q.Get(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestManagedQueue_OverflowRedirect(t *testing.T) {
	overflow := New[any](Options{Capacity: 10, Discipline: FIFO})
	q := New[int](Options{Capacity: 1, Discipline: FIFO, OverflowPolicy: Redirect, Overflow: overflow})
	ctx := context.Background()

	_, _ = q.Put(ctx, 1)
	ok, err := q.Put(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, overflow.Size())
}

func TestManagedQueue_BlockWaitsForSpace(t *testing.T) {
	q := New[int](Options{Capacity: 1, Discipline: FIFO, OverflowPolicy: Block})
	ctx := context.Background()
	_, _ = q.Put(ctx, 1)

	done := make(chan struct{})
	go func() {
		ok, err := q.Put(ctx, 2)
		assert.NoError(t, err)
		assert.True(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	_, ok := q.Get(ctx, 0)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Put never unblocked after space freed")
	}
}

func TestManagedQueue_BlockRespectsContextCancel(t *testing.T) {
	q := New[int](Options{Capacity: 1, Discipline: FIFO, OverflowPolicy: Block})
	_, _ = q.Put(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ok, err := q.Put(ctx, 2)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestManagedQueue_FullAndEmpty(t *testing.T) {
	q := New[int](Options{Capacity: 1, Discipline: FIFO})
	assert.True(t, q.Empty())
	assert.False(t, q.Full())

	_, _ = q.Put(context.Background(), 1)
	assert.False(t, q.Empty())
	assert.True(t, q.Full())
}
