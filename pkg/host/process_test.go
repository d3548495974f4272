package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/audit"
	"ionbridge/pkg/message"
	"ionbridge/pkg/routing"
	"ionbridge/pkg/transform"
)

func newRuleSet(t *testing.T, rules []routing.Rule, defaults []string) *routing.RuleSet {
	t.Helper()
	rs, err := routing.NewRuleSet(rules, defaults)
	require.NoError(t, err)
	return rs
}

func adtMessage(t *testing.T) message.Message {
	t.Helper()
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101||ADT^A01|1|P|2.4\r")
	return message.New("ADT_A01", message.Payload{Raw: raw}, "in")
}

func TestProcess_SendActionForwardsToTargets(t *testing.T) {
	rs := newRuleSet(t, []routing.Rule{
		{Name: "adt", Condition: `{MSH-9.1} = "ADT"`, Action: routing.ActionSend, Targets: []string{"downstream"}, Enabled: true},
	}, nil)
	h := NewProcess(ProcessConfig{
		Config: Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
	})

	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"downstream"}, result.Targets)
	assert.False(t, result.Drop)
}

func TestProcess_DeleteActionDropsAndAudits(t *testing.T) {
	rs := newRuleSet(t, []routing.Rule{
		{Name: "drop-test", Condition: `{MSH-9.1} = "ADT"`, Action: routing.ActionDelete, Enabled: true},
	}, nil)
	auditLog := audit.NewMemoryLogger(10)
	h := NewProcess(ProcessConfig{
		Config: Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
		Audit:  auditLog,
	})

	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.True(t, result.Drop)

	entries := auditLog.Query("router", 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "drop-test", entries[0].RuleName)
}

func TestProcess_TransformActionAppliesResolvedTransform(t *testing.T) {
	registry := transform.NewRegistry()
	require.NoError(t, registry.Register("custom.upper", func(m message.Message) (message.Message, error) {
		return m.WithPayload(message.Payload{Raw: []byte("TRANSFORMED")}), nil
	}))
	rs := newRuleSet(t, []routing.Rule{
		{Name: "transform-adt", Condition: `{MSH-9.1} = "ADT"`, Action: routing.ActionTransform, TransformID: "custom.upper", Targets: []string{"downstream"}, Enabled: true},
	}, nil)
	h := NewProcess(ProcessConfig{
		Config:     Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:      rs,
		Transforms: registry,
	})

	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.Equal(t, "TRANSFORMED", string(result.Message.Payload.Raw))
	assert.Equal(t, []string{"downstream"}, result.Targets)
}

func TestProcess_NoMatchWithoutHandlerErrors(t *testing.T) {
	rs := newRuleSet(t, []routing.Rule{
		{Name: "oru-only", Condition: `{MSH-9.1} = "ORU"`, Action: routing.ActionSend, Enabled: true},
	}, nil)
	h := NewProcess(ProcessConfig{
		Config: Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
	})

	_, err := h.onMessage(context.Background(), h, adtMessage(t))
	assert.Error(t, err)
}

func TestProcess_NoMatchWithHandlerDropsMessage(t *testing.T) {
	rs := newRuleSet(t, []routing.Rule{
		{Name: "oru-only", Condition: `{MSH-9.1} = "ORU"`, Action: routing.ActionSend, Enabled: true},
	}, nil)
	var handled bool
	h := NewProcess(ProcessConfig{
		Config: Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
		OnNoMatch: func(ctx context.Context, msg message.Message) error {
			handled = true
			return nil
		},
	})

	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.True(t, result.Drop)
	assert.True(t, handled)
}

func TestProcess_DefaultFallbackSendsToDefaultTargets(t *testing.T) {
	rs := newRuleSet(t, nil, []string{"catch-all"})
	h := NewProcess(ProcessConfig{
		Config: Config{Name: "router", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
	})

	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"catch-all"}, result.Targets)
}

func TestFHIR_UsesProcessRoutingWithFHIRKind(t *testing.T) {
	rs := newRuleSet(t, []routing.Rule{
		{Name: "adt", Condition: `{MSH-9.1} = "ADT"`, Action: routing.ActionSend, Targets: []string{"fhir-out"}, Enabled: true},
	}, nil)
	h := NewFHIR(ProcessConfig{
		Config: Config{Name: "patient-merge", Kind: KindProcess, PoolSize: 1},
		Rules:  rs,
	})

	assert.Equal(t, KindFHIR, h.Kind())
	result, err := h.onMessage(context.Background(), h, adtMessage(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"fhir-out"}, result.Targets)
}
