package registry

import (
	"strings"
	"sync"

	"ionbridge/pkg/apperror"
)

// Constructor builds a new instance of some registered implementation
// from a free-form settings map. What it returns is registry-opaque;
// callers type-assert against the contract they require (e.g. Host).
type Constructor func(settings map[string]any) (any, error)

// protectedPrefixes are the built-in namespaces; registration into them
// from outside the built-in set is rejected with NamespaceViolation.
var protectedPrefixes = []string{"engine.hosts.", "engine.adapters.", "engine.rules."}

// developerPrefix is the namespace extension modules register under.
const developerPrefix = "custom."

// blockedIdentifiers are name roots Resolve rejects: an unregistered,
// unaliased name whose first dotted part is one of these fails with
// NamespaceViolation instead of ConfigurationError.
var blockedIdentifiers = map[string]bool{
	"os": true, "sys": true, "subprocess": true,
	"importlib": true, "pickle": true, "__main__": true,
}

// ClassRegistry is a namespaced name -> Constructor map used to
// instantiate Hosts, Adapters, and Routing-Rule implementations named in
// configuration.
type ClassRegistry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string // alias name -> canonical protected name
}

// NewClassRegistry constructs an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		constructors: make(map[string]Constructor),
		aliases:      make(map[string]string),
	}
}

func isProtected(name string) bool {
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// RegisterBuiltin registers a constructor under a protected name. Callers
// are the engine's own bootstrap code, never configuration-driven
// extension loading.
func (r *ClassRegistry) RegisterBuiltin(name string, ctor Constructor) error {
	if !isProtected(name) {
		return apperror.New(apperror.NamespaceViolation, "not a protected namespace: "+name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
	return nil
}

// RegisterCustom registers a constructor under the developer-extension
// namespace. Registering outside custom.* through this entry point is
// rejected.
func (r *ClassRegistry) RegisterCustom(name string, ctor Constructor) error {
	if !strings.HasPrefix(name, developerPrefix) {
		return apperror.New(apperror.NamespaceViolation, "custom registration must use the "+developerPrefix+" namespace: "+name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
	return nil
}

// Alias makes alias resolve to canonical. Aliasing into a protected name
// is only permitted when canonical is itself already a registered
// protected name — it maps third-party/legacy names onto built-ins, it
// never lets arbitrary code claim a protected identity.
func (r *ClassRegistry) Alias(alias, canonical string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isProtected(canonical) {
		if _, ok := r.constructors[canonical]; !ok {
			return apperror.New(apperror.NamespaceViolation, "cannot alias to unregistered protected name: "+canonical)
		}
	}
	r.aliases[alias] = canonical
	return nil
}

// Resolve looks up name: direct registration, then the alias table.
// There is no import-by-identifier fallback; a name neither registered
// nor aliased fails with NamespaceViolation when its root is a blocked
// identifier and with ConfigurationError otherwise.
func (r *ClassRegistry) Resolve(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ctor, ok := r.constructors[name]; ok {
		return ctor, nil
	}
	if canonical, ok := r.aliases[name]; ok {
		if ctor, ok := r.constructors[canonical]; ok {
			return ctor, nil
		}
	}

	root := name
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		root = name[:idx]
	}
	if blockedIdentifiers[root] {
		return nil, apperror.New(apperror.NamespaceViolation, "identifier is in the blocked namespace: "+name)
	}

	return nil, apperror.New(apperror.ConfigurationError, "unresolvable class name: "+name)
}

// Build resolves name and invokes its constructor with settings,
// asserting the result against the required contract T. Returns
// TypeMismatch if the resolved implementation does not satisfy T.
func Build[T any](r *ClassRegistry, name string, settings map[string]any) (T, error) {
	var zero T
	ctor, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	inst, err := ctor(settings)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, apperror.New(apperror.TypeMismatch, "resolved implementation does not satisfy required contract: "+name)
	}
	return typed, nil
}
