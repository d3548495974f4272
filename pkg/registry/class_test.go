package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/apperror"
)

func TestClassRegistry_RegisterBuiltinRejectsUnprotected(t *testing.T) {
	r := NewClassRegistry()
	err := r.RegisterBuiltin("custom.thing", func(map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)
	assert.Equal(t, apperror.NamespaceViolation, apperror.KindOf(err))
}

func TestClassRegistry_RegisterCustomRejectsProtected(t *testing.T) {
	r := NewClassRegistry()
	err := r.RegisterCustom("engine.hosts.service", func(map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)
	assert.Equal(t, apperror.NamespaceViolation, apperror.KindOf(err))
}

func TestClassRegistry_ResolveDirect(t *testing.T) {
	r := NewClassRegistry()
	require.NoError(t, r.RegisterBuiltin("engine.hosts.service", func(map[string]any) (any, error) { return "built", nil }))

	ctor, err := r.Resolve("engine.hosts.service")
	require.NoError(t, err)
	inst, err := ctor(nil)
	require.NoError(t, err)
	assert.Equal(t, "built", inst)
}

func TestClassRegistry_ResolveUnknown(t *testing.T) {
	r := NewClassRegistry()
	_, err := r.Resolve("custom.missing")
	require.Error(t, err)
	assert.Equal(t, apperror.ConfigurationError, apperror.KindOf(err))
}

func TestClassRegistry_ResolveBlockedIdentifier(t *testing.T) {
	r := NewClassRegistry()
	_, err := r.Resolve("os.system")
	require.Error(t, err)
	assert.Equal(t, apperror.NamespaceViolation, apperror.KindOf(err))
}

func TestClassRegistry_AliasToRegisteredProtected(t *testing.T) {
	r := NewClassRegistry()
	require.NoError(t, r.RegisterBuiltin("engine.hosts.service", func(map[string]any) (any, error) { return "svc", nil }))
	require.NoError(t, r.Alias("legacy.service", "engine.hosts.service"))

	ctor, err := r.Resolve("legacy.service")
	require.NoError(t, err)
	inst, err := ctor(nil)
	require.NoError(t, err)
	assert.Equal(t, "svc", inst)
}

func TestClassRegistry_AliasToUnregisteredProtectedRejected(t *testing.T) {
	r := NewClassRegistry()
	err := r.Alias("legacy.service", "engine.hosts.service")
	require.Error(t, err)
	assert.Equal(t, apperror.NamespaceViolation, apperror.KindOf(err))
}

type fakeContract interface{ Name() string }
type fakeImpl struct{}

func (fakeImpl) Name() string { return "fake" }

func TestBuild_Success(t *testing.T) {
	r := NewClassRegistry()
	require.NoError(t, r.RegisterBuiltin("engine.hosts.service", func(map[string]any) (any, error) { return fakeImpl{}, nil }))

	got, err := Build[fakeContract](r, "engine.hosts.service", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", got.Name())
}

func TestBuild_TypeMismatch(t *testing.T) {
	r := NewClassRegistry()
	require.NoError(t, r.RegisterBuiltin("engine.hosts.service", func(map[string]any) (any, error) { return "not a fakeContract", nil }))

	_, err := Build[fakeContract](r, "engine.hosts.service", nil)
	require.Error(t, err)
	assert.Equal(t, apperror.TypeMismatch, apperror.KindOf(err))
}

func TestBuild_ConstructorError(t *testing.T) {
	r := NewClassRegistry()
	boom := apperror.New(apperror.ConfigurationError, "boom")
	require.NoError(t, r.RegisterBuiltin("engine.hosts.service", func(map[string]any) (any, error) { return nil, boom }))

	_, err := Build[fakeContract](r, "engine.hosts.service", nil)
	assert.ErrorIs(t, err, boom)
}
