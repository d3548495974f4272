package ackaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/apperror"
)

func TestParse_EmptySpecDefaultsToSuccess(t *testing.T) {
	table, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Success, table.Evaluate("AA"))
	assert.Equal(t, Success, table.Evaluate("AE"))
}

func TestParse_ExplicitRules(t *testing.T) {
	table, err := Parse("AA=S,?E=R,?R=F,*=F")
	require.NoError(t, err)

	assert.Equal(t, Success, table.Evaluate("AA"))
	assert.Equal(t, Retry, table.Evaluate("AE"))
	assert.Equal(t, Retry, table.Evaluate("CE"))
	assert.Equal(t, Fail, table.Evaluate("AR"))
	assert.Equal(t, Fail, table.Evaluate("CR"))
	assert.Equal(t, Fail, table.Evaluate("XX"))
}

func TestParse_CaseInsensitiveCodeMatch(t *testing.T) {
	table, err := Parse("aa=w")
	require.NoError(t, err)
	assert.Equal(t, Warn, table.Evaluate("AA"))
}

func TestParse_MalformedEntry(t *testing.T) {
	_, err := Parse("AA")
	require.Error(t, err)
	assert.Equal(t, apperror.ConfigurationError, apperror.KindOf(err))
}

func TestParse_UnknownAction(t *testing.T) {
	_, err := Parse("AA=Z")
	require.Error(t, err)
	assert.Equal(t, apperror.ConfigurationError, apperror.KindOf(err))
}

func TestParse_RuleOrderFirstMatchWins(t *testing.T) {
	table, err := Parse("AE=W,?E=F")
	require.NoError(t, err)
	assert.Equal(t, Warn, table.Evaluate("AE"))
	assert.Equal(t, Fail, table.Evaluate("CE"))
}
