package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable (Envelope, Payload) pair. Every operation that
// appears to "change" a Message returns a fresh value; the original is
// never mutated (I-immutability).
type Message struct {
	Envelope Envelope
	Payload  Payload
}

// New creates a root Message on ingress: fresh message id, correlation id
// defaulting to the message id itself (the start of a new conversation),
// and no causation id.
func New(messageType string, payload Payload, source string) Message {
	id := uuid.NewString()
	return Message{
		Envelope: Envelope{
			MessageID:     id,
			CorrelationID: id,
			CreatedAt:     time.Now().UTC(),
			MessageType:   messageType,
			Priority:      PriorityNormal,
			DeliveryMode:  AtLeastOnce,
			Routing:       Routing{Source: source},
			State:         StateCreated,
		},
		Payload: payload,
	}
}

// Derive produces a new Message whose correlation id is inherited from m
// and whose causation id is m's message id (I-raw-invariant). apply
// mutates the clone's fields before the fresh message id is assigned, so
// callers cannot accidentally clobber MessageID/CorrelationID/CausationID.
func (m Message) Derive(payload Payload, apply func(*Envelope)) Message {
	env := m.Envelope.clone()
	if apply != nil {
		apply(&env)
	}
	env.MessageID = uuid.NewString()
	env.CorrelationID = m.Envelope.CorrelationID
	env.CausationID = m.Envelope.MessageID
	env.CreatedAt = time.Now().UTC()
	return Message{Envelope: env, Payload: payload}
}

// WithState returns a copy of m transitioned to the given state. This is
// the common case of Derive that keeps the payload untouched and does
// not mint a new message id — a state transition is bookkeeping on the
// same logical message, not a new derivation.
func (m Message) WithState(s State) Message {
	env := m.Envelope.clone()
	env.State = s
	return Message{Envelope: env, Payload: m.Payload.clone()}
}

// WithProperty returns a copy of m with one typed property set on its
// Payload.
func (m Message) WithProperty(key string, prop TypedProperty) Message {
	env := m.Envelope.clone()
	return Message{Envelope: env, Payload: m.Payload.WithProperty(key, prop)}
}

// WithPayload returns a copy of m with its Payload replaced; Envelope
// bookkeeping (ids, hop count) is left untouched, matching WithState's
// same-conversation semantics.
func (m Message) WithPayload(p Payload) Message {
	env := m.Envelope.clone()
	return Message{Envelope: env, Payload: p.clone()}
}

// IncrementHop returns a copy of m with Routing.HopCount incremented,
// used when a Message is handed from one Host to the next.
func (m Message) IncrementHop(destination string) Message {
	env := m.Envelope.clone()
	env.Routing.Destination = destination
	env.Routing.HopCount++
	return Message{Envelope: env, Payload: m.Payload.clone()}
}

// WithRetry returns a copy of m with RetryCount incremented. Used by the
// ACK state machine's retry action; never called during WAL crash
// recovery (I-no-retry-consumed-on-crash).
func (m Message) WithRetry() Message {
	env := m.Envelope.clone()
	env.RetryCount++
	return Message{Envelope: env, Payload: m.Payload.clone()}
}

// RetriesExhausted reports whether RetryCount has reached MaxRetries. A
// MaxRetries of 0 means no limit, so it then never reports exhausted.
func (m Message) RetriesExhausted() bool {
	return m.Envelope.MaxRetries > 0 && m.Envelope.RetryCount >= m.Envelope.MaxRetries
}

// QueuePriority satisfies queue.Prioritized so a Message can be ordered
// directly by a Priority-discipline ManagedQueue without an adapter type.
func (m Message) QueuePriority() int {
	return int(m.Envelope.Priority)
}
