// Package registry implements the engine's in-process address book
// (ServiceRegistry) and implementation lookup table (ClassRegistry).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
)

// Pattern distinguishes fire-and-forget inter-Host messaging from
// request/response messaging awaiting a synchronous reply.
type Pattern string

const (
	PatternAsync Pattern = "async"
	PatternSync  Pattern = "sync"
)

// Addressable is the narrow view of a Host the registry needs: a name to
// key it by and a queue to enqueue envelopes into. Host satisfies this
// structurally; registry never imports the host package, so there is no
// import cycle between Host's use of ServiceRegistry and the registry's
// use of Host.
type Addressable interface {
	Name() string
	Enqueue(ctx context.Context, msg message.Message) error
}

type pending struct {
	resultCh chan result
}

type result struct {
	value message.Message
	err   error
}

// ServiceRegistry is the {name -> Host} address book plus the
// {correlation id -> pending future} table backing send_request_sync.
type ServiceRegistry struct {
	mu    sync.RWMutex
	hosts map[string]Addressable

	pendingMu sync.Mutex
	pendingCh map[string]*pending
}

// NewServiceRegistry constructs an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		hosts:     make(map[string]Addressable),
		pendingCh: make(map[string]*pending),
	}
}

// Register associates name with host, overwriting any prior registration.
func (r *ServiceRegistry) Register(host Addressable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[host.Name()] = host
}

// Unregister removes name from the registry.
func (r *ServiceRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, name)
}

// Lookup returns the Host registered under name, if any.
func (r *ServiceRegistry) Lookup(name string) (Addressable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[name]
	return h, ok
}

// Names returns every currently registered Host name.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.hosts))
	for n := range r.hosts {
		out = append(out, n)
	}
	return out
}

// SendRequestAsync constructs an async-pattern envelope addressed to
// target's queue and returns immediately once it is accepted.
func (r *ServiceRegistry) SendRequestAsync(ctx context.Context, target string, msg message.Message) (string, error) {
	host, ok := r.Lookup(target)
	if !ok {
		return "", apperror.New(apperror.ConfigurationError, "target host not registered: "+target)
	}
	derived := msg.Derive(msg.Payload, func(e *message.Envelope) {
		e.Routing.Destination = target
		e.Routing.Pattern = string(PatternAsync)
	})
	if err := host.Enqueue(ctx, derived); err != nil {
		return "", err
	}
	return derived.Envelope.CorrelationID, nil
}

// SendRequestSync constructs a sync-pattern envelope, registers a pending
// future under its correlation id, enqueues it into target's queue, and
// blocks until SendResponse fulfils the future or timeout elapses.
func (r *ServiceRegistry) SendRequestSync(ctx context.Context, target string, msg message.Message, timeout time.Duration) (message.Message, error) {
	host, ok := r.Lookup(target)
	if !ok {
		return message.Message{}, apperror.New(apperror.ConfigurationError, "target host not registered: "+target)
	}

	derived := msg.Derive(msg.Payload, func(e *message.Envelope) {
		e.Routing.Destination = target
		e.Routing.Pattern = string(PatternSync)
	})
	correlationID := derived.Envelope.CorrelationID

	p := &pending{resultCh: make(chan result, 1)}
	r.pendingMu.Lock()
	r.pendingCh[correlationID] = p
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pendingCh, correlationID)
		r.pendingMu.Unlock()
	}()

	if err := host.Enqueue(ctx, derived); err != nil {
		return message.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.resultCh:
		return res.value, res.err
	case <-timer.C:
		return message.Message{}, apperror.New(apperror.TimeoutError, fmt.Sprintf("no response from %s within %s", target, timeout))
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

// SendResponse fulfils the pending future registered under
// correlationID. If no waiter is registered, the response is dropped
// with a warning — it may have already timed out.
func (r *ServiceRegistry) SendResponse(correlationID string, msg message.Message, err error) {
	r.pendingMu.Lock()
	p, ok := r.pendingCh[correlationID]
	r.pendingMu.Unlock()
	if !ok {
		logger.Log.Warn("dropped response for unknown correlation id", "correlation_id", correlationID)
		return
	}
	select {
	case p.resultCh <- result{value: msg, err: err}:
	default:
	}
}
