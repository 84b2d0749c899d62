package a2a

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/a2abridge/types"
)

func cardJSON(overrides map[string]any, drop ...string) map[string]any {
	m := map[string]any{
		"id":              "agent-a-demo",
		"name":            "Research Agent",
		"version":         "1.2.0",
		"capabilities":    []string{"research", "analysis"},
		"endpoint":        "http://localhost:8765",
		"supported_tasks": []string{"research", "summarize"},
	}
	for k, v := range overrides {
		m[k] = v
	}
	for _, k := range drop {
		delete(m, k)
	}
	return m
}

func TestParseAgentCard_Valid(t *testing.T) {
	data, err := json.Marshal(cardJSON(map[string]any{
		"description":          "does research",
		"status":               "busy",
		"max_concurrent_tasks": 4,
		"rate_limit":           map[string]any{"requests_per_minute": 60, "requests_per_hour": 1000},
		"created_at":           "2026-01-01T00:00:00.123456Z",
	}))
	require.NoError(t, err)

	card, err := ParseAgentCard(data)
	require.NoError(t, err)
	assert.Equal(t, "agent-a-demo", card.ID)
	assert.Equal(t, AgentStatusBusy, card.Status)
	assert.Equal(t, 4, card.MaxConcurrentTasks)
	require.NotNil(t, card.RateLimit)
	assert.Equal(t, 60, *card.RateLimit.RequestsPerMinute)
	assert.Equal(t, 2026, card.CreatedAt.Year())
	assert.False(t, card.UpdatedAt.IsZero())
	assert.True(t, card.HasCapability(CapabilityResearch))
	assert.False(t, card.HasCapability(CapabilityCoding))
}

func TestParseAgentCard_Rejections(t *testing.T) {
	long := strings.Repeat("x", 101)
	tests := []struct {
		name  string
		card  map[string]any
		field string
	}{
		{"missing endpoint", cardJSON(nil, "endpoint"), "endpoint"},
		{"empty name", cardJSON(map[string]any{"name": ""}), "name"},
		{"long name", cardJSON(map[string]any{"name": long}), "name"},
		{"bad semver", cardJSON(map[string]any{"version": "1.0"}), "version"},
		{"unknown capability", cardJSON(map[string]any{"capabilities": []string{"telepathy"}}), "capabilities"},
		{"no capabilities", cardJSON(map[string]any{"capabilities": []string{}}), "capabilities"},
		{"ftp endpoint", cardJSON(map[string]any{"endpoint": "ftp://host"}), "endpoint"},
		{"no tasks", cardJSON(map[string]any{"supported_tasks": []string{}}), "supported_tasks"},
		{"empty task", cardJSON(map[string]any{"supported_tasks": []string{""}}), "supported_tasks"},
		{"long task", cardJSON(map[string]any{"supported_tasks": []string{strings.Repeat("t", 51)}}), "supported_tasks"},
		{"long description", cardJSON(map[string]any{"description": strings.Repeat("d", 501)}), "description"},
		{"bad status", cardJSON(map[string]any{"status": "sleeping"}), "status"},
		{"zero max tasks", cardJSON(map[string]any{"max_concurrent_tasks": 0}), "max_concurrent_tasks"},
		{"zero rpm", cardJSON(map[string]any{"rate_limit": map[string]any{"requests_per_minute": 0}}), "rate_limit"},
		{"bad id", cardJSON(map[string]any{"id": "bad id"}), "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.card)
			require.NoError(t, err)
			_, err = ParseAgentCard(data)
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrInvalidAgentCard, e.Code)
			assert.Equal(t, tt.field, e.Details["field"])
		})
	}
}

func TestParseAgentCard_Malformed(t *testing.T) {
	_, err := ParseAgentCard([]byte(`[1,2]`))
	assert.True(t, types.IsCode(err, types.ErrInvalidAgentCard))

	data, err := json.Marshal(cardJSON(map[string]any{"capabilities": "research"}))
	require.NoError(t, err)
	_, err = ParseAgentCard(data)
	assert.True(t, types.IsCode(err, types.ErrInvalidAgentCard))
}

func TestNewAgentCard(t *testing.T) {
	card, err := NewAgentCard("Coder", "0.1.0", "https://coder.internal",
		[]Capability{CapabilityCoding}, []string{"coding"}, CardOptions{})
	require.NoError(t, err)
	assert.Len(t, card.ID, 36)
	assert.Equal(t, AgentStatusActive, card.Status)
	assert.Equal(t, 1, card.MaxConcurrentTasks)

	data, err := json.Marshal(card)
	require.NoError(t, err)
	parsed, err := ParseAgentCard(data)
	require.NoError(t, err)
	assert.Equal(t, card.ID, parsed.ID)
	assert.True(t, card.CreatedAt.Equal(parsed.CreatedAt))

	_, err = NewAgentCard("", "0.1.0", "https://coder.internal", []Capability{CapabilityCoding}, []string{"coding"}, CardOptions{})
	assert.True(t, types.IsCode(err, types.ErrInvalidAgentCard))
}

func TestAgentCard_Clone(t *testing.T) {
	rpm := 10
	card := &AgentCard{
		ID:           "a",
		Capabilities: []Capability{CapabilityResearch},
		RateLimit:    &RateLimit{RequestsPerMinute: &rpm},
		Metadata:     map[string]any{"zone": "eu"},
	}
	clone := card.Clone()
	clone.Capabilities[0] = CapabilityCoding
	*clone.RateLimit.RequestsPerMinute = 99
	clone.Metadata["zone"] = "us"

	assert.Equal(t, CapabilityResearch, card.Capabilities[0])
	assert.Equal(t, 10, *card.RateLimit.RequestsPerMinute)
	assert.Equal(t, "eu", card.Metadata["zone"])
	assert.Nil(t, (*AgentCard)(nil).Clone())
}

func TestIsValidAgentID(t *testing.T) {
	assert.True(t, IsValidAgentID("agent-a-demo"))
	assert.True(t, IsValidAgentID("5f0c7a6e-2f7b-4d0a-9a57-8d3f3b0c1e11"))
	assert.True(t, IsValidAgentID("svc:worker.1"))
	assert.False(t, IsValidAgentID(""))
	assert.False(t, IsValidAgentID("-leading"))
	assert.False(t, IsValidAgentID("with space"))
	assert.False(t, IsValidAgentID(strings.Repeat("a", 129)))
}
