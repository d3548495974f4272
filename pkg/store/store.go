// Package store implements the Message store: a pluggable record of
// every Message that passed
// through a Host, used for audit and replay after processing. Two
// backends are provided: an in-memory map for tests and small
// deployments, and a Postgres-backed one for anything that needs the
// record to survive a restart.
package store

import (
	"context"
	"errors"
	"time"

	"ionbridge/pkg/message"
)

// ErrNotFound is returned by Get when no record matches the given id.
var ErrNotFound = errors.New("store: record not found")

// Record is one persisted Message observation, matching the engine
// design's message store record shape.
type Record struct {
	ID            string
	MessageID     string
	HostName      string
	MessageType   string
	State         message.State
	Payload       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]string
	Source        string
	Target        string
	CorrelationID string
	Error         string
	RetryCount    int
}

// Filter narrows a Query/Count call. Zero-valued fields are not applied.
type Filter struct {
	HostName      string
	MessageType   string
	State         *message.State
	CorrelationID string
	Source        string
	Target        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Store is the core's view of message persistence: store, get,
// update_state, query, count.
type Store interface {
	Store(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	UpdateState(ctx context.Context, id string, state message.State, errText string) error
	Query(ctx context.Context, filter Filter) ([]Record, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}
