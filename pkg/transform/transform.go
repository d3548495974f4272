// Package transform implements the TransformRegistry a Process Host
// consults when a routing Rule's action is `transform`, looking a
// transform id up in this registry.
package transform

import (
	"strings"
	"sync"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/message"
)

// developerPrefix mirrors registry.ClassRegistry's custom.* namespace
// convention. Repeated here rather than imported: a TransformRegistry is
// a separate lookup table with no other reason to depend on the
// ClassRegistry package.
const developerPrefix = "custom."

// Func transforms one Message into another, or fails it outright.
type Func func(message.Message) (message.Message, error)

// Registry is a namespaced name -> Func map.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register associates name with fn under the custom.* namespace.
func (r *Registry) Register(name string, fn Func) error {
	if !strings.HasPrefix(name, developerPrefix) {
		return apperror.New(apperror.NamespaceViolation, "transform registration must use the "+developerPrefix+" namespace: "+name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Resolve looks up name, returning ConfigurationError if unregistered.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, apperror.New(apperror.ConfigurationError, "unresolvable transform id: "+name)
	}
	return fn, nil
}

// Identity is the transform applied when a rule names action `transform`
// with an empty TransformID — a no-op pass-through rather than a
// ConfigurationError, since an operator building a rule incrementally
// may leave it unset before wiring a real transform.
func Identity(m message.Message) (message.Message, error) { return m, nil }
