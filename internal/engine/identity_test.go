package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateEventID_Deterministic(t *testing.T) {
	a := GenerateEventID("T", "lead.qualified", map[string]any{"sessionId": "s1", "score": 80, "status": "hot"})
	b := GenerateEventID("T", "lead.qualified", map[string]any{"status": "hot", "score": 80, "sessionId": "s1"})

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, EventIDPrefix))
	assert.Len(t, a, len(EventIDPrefix)+32)
}

func TestGenerateEventID_NestedKeyOrder(t *testing.T) {
	a := GenerateEventID("T", "x", map[string]any{"outer": map[string]any{"a": 1, "b": []any{1, "two"}}})
	b := GenerateEventID("T", "x", map[string]any{"outer": map[string]any{"b": []any{1, "two"}, "a": 1}})
	assert.Equal(t, a, b)
}

func TestGenerateEventID_SensitiveToInputs(t *testing.T) {
	base := GenerateEventID("T", "lead.qualified", map[string]any{"sessionId": "s1", "score": 80})

	cases := map[string]string{
		"tenant":  GenerateEventID("U", "lead.qualified", map[string]any{"sessionId": "s1", "score": 80}),
		"type":    GenerateEventID("T", "lead.scored", map[string]any{"sessionId": "s1", "score": 80}),
		"value":   GenerateEventID("T", "lead.qualified", map[string]any{"sessionId": "s1", "score": 81}),
		"field":   GenerateEventID("T", "lead.qualified", map[string]any{"sessionId": "s1", "score": 80, "extra": true}),
		"missing": GenerateEventID("T", "lead.qualified", map[string]any{"sessionId": "s1"}),
	}
	for name, id := range cases {
		assert.NotEqual(t, base, id, name)
	}
}

func TestGenerateEventID_NilAndEmptyPayloadMatch(t *testing.T) {
	assert.Equal(t, GenerateEventID("T", "x", nil), GenerateEventID("T", "x", map[string]any{}))
}

func TestGenerateEventID_UnencodablePayload(t *testing.T) {
	payload := map[string]any{"ch": make(chan int)}
	assert.NotPanics(t, func() { GenerateEventID("T", "x", payload) })
}
