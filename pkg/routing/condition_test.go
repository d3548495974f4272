package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]string

func (f fakeResolver) GetField(path string, def string) string {
	if v, ok := f[path]; ok {
		return v
	}
	return def
}

func TestCondition_SimpleCompare(t *testing.T) {
	c, err := Parse(`{MSH-9.1} = "ADT"`)
	require.NoError(t, err)

	assert.True(t, c.Eval(fakeResolver{"MSH-9.1": "ADT"}))
	assert.False(t, c.Eval(fakeResolver{"MSH-9.1": "ORU"}))
}

func TestCondition_NumericCompare(t *testing.T) {
	c, err := Parse(`{OBX-5} > 100`)
	require.NoError(t, err)

	assert.True(t, c.Eval(fakeResolver{"OBX-5": "150"}))
	// Operands compare as strings: "050" sorts before "100", "50" after it.
	assert.False(t, c.Eval(fakeResolver{"OBX-5": "050"}))
	assert.True(t, c.Eval(fakeResolver{"OBX-5": "50"}))
}

func TestCondition_AndOrNot(t *testing.T) {
	c, err := Parse(`{MSH-9.1} = "ADT" AND ({MSH-9.2} = "A01" OR {MSH-9.2} = "A04")`)
	require.NoError(t, err)

	assert.True(t, c.Eval(fakeResolver{"MSH-9.1": "ADT", "MSH-9.2": "A01"}))
	assert.True(t, c.Eval(fakeResolver{"MSH-9.1": "ADT", "MSH-9.2": "A04"}))
	assert.False(t, c.Eval(fakeResolver{"MSH-9.1": "ADT", "MSH-9.2": "A08"}))

	neg, err := Parse(`NOT {MSH-9.1} = "ADT"`)
	require.NoError(t, err)
	assert.False(t, neg.Eval(fakeResolver{"MSH-9.1": "ADT"}))
	assert.True(t, neg.Eval(fakeResolver{"MSH-9.1": "ORU"}))
}

func TestCondition_Functions(t *testing.T) {
	contains, err := Parse(`Contains({PID-5}, "SMITH")`)
	require.NoError(t, err)
	assert.True(t, contains.Eval(fakeResolver{"PID-5": "SMITH^JOHN"}))
	assert.False(t, contains.Eval(fakeResolver{"PID-5": "DOE^JANE"}))

	starts, err := Parse(`StartsWith({PID-5}, "SMITH")`)
	require.NoError(t, err)
	assert.True(t, starts.Eval(fakeResolver{"PID-5": "SMITH^JOHN"}))

	ends, err := Parse(`EndsWith({PID-5}, "JOHN")`)
	require.NoError(t, err)
	assert.True(t, ends.Eval(fakeResolver{"PID-5": "SMITH^JOHN"}))
}

func TestCondition_In(t *testing.T) {
	c, err := Parse(`{MSH-9.2} IN ("A01", "A04", "A08")`)
	require.NoError(t, err)

	assert.True(t, c.Eval(fakeResolver{"MSH-9.2": "A04"}))
	assert.False(t, c.Eval(fakeResolver{"MSH-9.2": "A31"}))
}

func TestCondition_ParseErrors(t *testing.T) {
	_, err := Parse(`{MSH-9.1 = "ADT"`)
	assert.Error(t, err)

	_, err = Parse(`{MSH-9.1} = `)
	assert.Error(t, err)

	_, err = Parse(`{MSH-9.1} = "ADT" )`)
	assert.Error(t, err)
}
