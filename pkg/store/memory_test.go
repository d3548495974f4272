package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/message"
)

func TestMemoryStore_StoreAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := Record{ID: "r1", MessageID: "m1", HostName: "inbound-a", State: message.StateReceived}
	require.NoError(t, s.Store(ctx, rec))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MessageID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, Record{ID: "r1", State: message.StateQueued}))

	require.NoError(t, s.UpdateState(ctx, "r1", message.StateFailed, "boom"))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, message.StateFailed, got.State)
	assert.Equal(t, "boom", got.Error)
}

func TestMemoryStore_UpdateStateMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateState(context.Background(), "missing", message.StateFailed, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	failed := message.StateFailed
	require.NoError(t, s.Store(ctx, Record{ID: "r1", HostName: "a", State: message.StateDelivered}))
	require.NoError(t, s.Store(ctx, Record{ID: "r2", HostName: "a", State: message.StateFailed}))
	require.NoError(t, s.Store(ctx, Record{ID: "r3", HostName: "b", State: message.StateFailed}))

	results, err := s.Query(ctx, Filter{HostName: "a", State: &failed})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].ID)

	count, err := s.Count(ctx, Filter{State: &failed})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStore_QueryPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Store(ctx, Record{ID: id, HostName: "a"}))
	}

	page, err := s.Query(ctx, Filter{HostName: "a", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.Query(ctx, Filter{HostName: "a", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
