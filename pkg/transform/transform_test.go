package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/message"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	upper := func(m message.Message) (message.Message, error) {
		return m.WithPayload(message.Payload{Raw: []byte("UPPERCASED")}), nil
	}
	require.NoError(t, r.Register("custom.uppercase", upper))

	fn, err := r.Resolve("custom.uppercase")
	require.NoError(t, err)

	in := message.New("ADT_A01", message.Payload{Raw: []byte("lower")}, "in")
	out, err := fn(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("UPPERCASED"), out.Payload.Raw)
}

func TestRegistry_RegisterRejectsWrongNamespace(t *testing.T) {
	r := NewRegistry()
	err := r.Register("uppercase", Identity)
	require.Error(t, err)
	assert.Equal(t, apperror.NamespaceViolation, apperror.KindOf(err))
}

func TestRegistry_ResolveUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("custom.missing")
	require.Error(t, err)
	assert.Equal(t, apperror.ConfigurationError, apperror.KindOf(err))
}

func TestIdentity_PassesThrough(t *testing.T) {
	in := message.New("ADT_A01", message.Payload{Raw: []byte("a")}, "in")
	out, err := Identity(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
