// Package audit records the outcome of a routing Rule's `delete` action:
// a message a Process chose not to forward, kept for compliance review
// rather than silently dropped.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ionbridge/pkg/logger"
)

// Outcome is the disposition recorded against a deleted message. Only
// DENIED exists today; the type is kept distinct from a bare string so a
// future outcome doesn't silently widen every caller's string literal.
type Outcome string

// OutcomeDenied is the only outcome a routing delete currently produces.
const OutcomeDenied Outcome = "DENIED"

// Entry is one audit record.
type Entry struct {
	ID            string
	Timestamp     time.Time
	Host          string
	MessageID     string
	CorrelationID string
	RuleName      string
	Outcome       Outcome
}

// NewEntry builds a DENIED entry for a routing-rule delete outcome.
func NewEntry(host, messageID, correlationID, ruleName string) Entry {
	return Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Host:          host,
		MessageID:     messageID,
		CorrelationID: correlationID,
		RuleName:      ruleName,
		Outcome:       OutcomeDenied,
	}
}

// Logger records and retrieves audit entries. A Process Host writes to
// one on every `delete` outcome; it never blocks message processing on
// the write succeeding.
type Logger interface {
	Log(ctx context.Context, e Entry) error
	Query(host string, limit int) []Entry
}

// memoryLogger keeps entries in memory and mirrors each to the
// structured logger, for local/dev use. A Production with a real
// compliance requirement would swap this for a store-backed Logger;
// nothing here depends on the concrete type.
type memoryLogger struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewMemoryLogger constructs a Logger that retains up to cap entries,
// evicting the oldest once full.
func NewMemoryLogger(cap int) Logger {
	if cap <= 0 {
		cap = 10000
	}
	return &memoryLogger{cap: cap}
}

func (l *memoryLogger) Log(ctx context.Context, e Entry) error {
	logger.Log.Warn("message denied by routing rule",
		"host", e.Host, "message_id", e.MessageID, "correlation_id", e.CorrelationID,
		"rule", e.RuleName, "outcome", e.Outcome)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return nil
}

func (l *memoryLogger) Query(host string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if host == "" || l.entries[i].Host == host {
			out = append(out, l.entries[i])
		}
	}
	return out
}
