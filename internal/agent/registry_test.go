package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Exists("code-reviewer"))
	assert.True(t, r.Exists("error-fixer"))
	assert.True(t, r.Exists("security-reviewer"))
	assert.True(t, r.Exists("planner"))
	assert.True(t, r.Exists("requirements-analyzer"))
	assert.True(t, r.Exists("plan-validator"))
	assert.Equal(t, 6, r.Count())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	// Get existing agent
	agent, err := r.Get("planner")
	require.NoError(t, err)
	assert.Equal(t, "planner", agent.Name)

	// Get non-existing agent
	_, err = r.Get("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found")
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	customAgent := &Agent{
		Name:        "custom",
		Description: "Custom agent",
		Mode:        ModeSubagent,
	}

	r.Register(customAgent)

	// Verify it was added
	agent, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", agent.Name)
	assert.Equal(t, "Custom agent", agent.Description)
	assert.Equal(t, 7, r.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	// Add and then remove an agent
	r.Register(&Agent{Name: "temp"})
	assert.True(t, r.Exists("temp"))

	r.Unregister("temp")
	assert.False(t, r.Exists("temp"))
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	agents := r.List()
	assert.Len(t, agents, 6)

	names := make(map[string]bool)
	for _, a := range agents {
		names[a.Name] = true
	}
	assert.True(t, names["code-reviewer"])
	assert.True(t, names["error-fixer"])
	assert.True(t, names["security-reviewer"])
	assert.True(t, names["planner"])
	assert.True(t, names["requirements-analyzer"])
	assert.True(t, names["plan-validator"])
}

func TestRegistry_ListPrimary(t *testing.T) {
	r := NewRegistry()

	primary := r.ListPrimary()

	// All built-ins are sub-agents; a custom primary agent must be registered
	// explicitly before it shows up here.
	assert.Empty(t, primary)

	r.Register(&Agent{Name: "primary-custom", Mode: ModePrimary})
	primary = r.ListPrimary()
	assert.Len(t, primary, 1)
	for _, a := range primary {
		assert.True(t, a.IsPrimary())
	}
}

func TestRegistry_ListSubagents(t *testing.T) {
	r := NewRegistry()

	subagents := r.ListSubagents()

	assert.Len(t, subagents, 6)
	for _, a := range subagents {
		assert.True(t, a.IsSubagent())
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()

	names := r.Names()
	assert.Len(t, names, 6)
	assert.Contains(t, names, "code-reviewer")
	assert.Contains(t, names, "error-fixer")
	assert.Contains(t, names, "security-reviewer")
	assert.Contains(t, names, "planner")
	assert.Contains(t, names, "requirements-analyzer")
	assert.Contains(t, names, "plan-validator")
}

func TestRegistry_LoadFromConfig(t *testing.T) {
	r := NewRegistry()

	config := map[string]AgentConfig{
		// Modify existing agent
		"planner": {
			Temperature: 0.5,
			Model: &ModelRef{
				ProviderID: "openai",
				ModelID:    "gpt-4",
			},
		},
		// Add new agent
		"custom-agent": {
			Description: "My custom agent",
			Mode:        ModeSubagent,
			ModelTier:   TierSmall,
			Tools: map[string]bool{
				"read": true,
				"edit": false,
			},
		},
	}

	r.LoadFromConfig(config)

	// Verify modified agent
	planner, err := r.Get("planner")
	require.NoError(t, err)
	assert.Equal(t, 0.5, planner.Temperature)
	assert.NotNil(t, planner.Model)
	assert.Equal(t, "openai", planner.Model.ProviderID)
	assert.Equal(t, "gpt-4", planner.Model.ModelID)
	assert.False(t, planner.BuiltIn) // Mark as customized

	// Verify new agent
	custom, err := r.Get("custom-agent")
	require.NoError(t, err)
	assert.Equal(t, "My custom agent", custom.Description)
	assert.Equal(t, ModeSubagent, custom.Mode)
	assert.Equal(t, TierSmall, custom.ModelTier)
	assert.True(t, custom.Tools["read"])
	assert.False(t, custom.Tools["edit"])
}

func TestRegistry_LoadFromConfig_MergesTools(t *testing.T) {
	r := NewRegistry()

	original, _ := r.Get("code-reviewer")
	originalToolCount := len(original.Tools)

	config := map[string]AgentConfig{
		"code-reviewer": {
			Tools: map[string]bool{
				"webfetch": true,
			},
		},
	}

	r.LoadFromConfig(config)

	reviewer, _ := r.Get("code-reviewer")

	// Should have original tools plus the new one merged in.
	assert.GreaterOrEqual(t, len(reviewer.Tools), originalToolCount)
	assert.True(t, reviewer.Tools["webfetch"])
	assert.True(t, reviewer.Tools["read"])
}

func TestRegistry_Concurrency(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool, 100)

	// Concurrent reads
	for i := 0; i < 50; i++ {
		go func() {
			_, _ = r.Get("planner")
			r.List()
			r.Names()
			r.Count()
			done <- true
		}()
	}

	// Concurrent writes
	for i := 0; i < 50; i++ {
		go func(i int) {
			r.Register(&Agent{Name: "concurrent"})
			r.Unregister("concurrent")
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < 100; i++ {
		<-done
	}
}
