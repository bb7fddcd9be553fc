// Package agent provides multi-agent configuration and management.
package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Agent represents an agent configuration.
type Agent struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Mode        Mode            `json:"mode"`
	BuiltIn     bool            `json:"builtIn"`
	Tools       map[string]bool `json:"tools"`
	Options     map[string]any  `json:"options,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"topP,omitempty"`
	Model       *ModelRef       `json:"model,omitempty"`
	ModelTier   ModelTier       `json:"modelTier,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Color       string          `json:"color,omitempty"`
}

// Mode represents the agent operation mode.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// ModelTier hints which class of model a sub-agent should run on: cheaper
// and faster for narrow, mechanical work, or the full reasoning model for
// judgment calls.
type ModelTier string

const (
	TierSmall ModelTier = "small"
	TierLarge ModelTier = "large"
)

// ModelRef references a specific model.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// ToolEnabled checks if a tool is enabled for this agent.
func (a *Agent) ToolEnabled(toolID string) bool {
	// Check exact match
	if enabled, ok := a.Tools[toolID]; ok {
		return enabled
	}

	// Check wildcard patterns
	for pattern, enabled := range a.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}

	// Default: enabled
	return true
}

// IsPrimary returns true if the agent can be used as a primary agent.
func (a *Agent) IsPrimary() bool {
	return a.Mode == ModePrimary || a.Mode == ModeAll
}

// IsSubagent returns true if the agent can be used as a subagent.
func (a *Agent) IsSubagent() bool {
	return a.Mode == ModeSubagent || a.Mode == ModeAll
}

// Clone creates a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	clone := &Agent{
		Name:        a.Name,
		Description: a.Description,
		Mode:        a.Mode,
		BuiltIn:     a.BuiltIn,
		Temperature: a.Temperature,
		TopP:        a.TopP,
		Prompt:      a.Prompt,
		Color:       a.Color,
		ModelTier:   a.ModelTier,
	}

	// Copy tools
	if a.Tools != nil {
		clone.Tools = make(map[string]bool)
		for k, v := range a.Tools {
			clone.Tools[k] = v
		}
	}

	// Copy options
	if a.Options != nil {
		clone.Options = make(map[string]any)
		for k, v := range a.Options {
			clone.Options[k] = v
		}
	}

	// Copy model ref
	if a.Model != nil {
		clone.Model = &ModelRef{
			ProviderID: a.Model.ProviderID,
			ModelID:    a.Model.ModelID,
		}
	}

	return clone
}

// matchWildcard checks if a string matches a wildcard pattern.
// For simple patterns (* at start/end), uses string matching.
// For complex patterns (containing **), uses doublestar.
func matchWildcard(pattern, s string) bool {
	// Global wildcard matches everything
	if pattern == "*" {
		return true
	}

	// For patterns with **, use doublestar
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}

	// Simple suffix wildcard (prefix*)
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(s, prefix)
	}

	// Simple prefix wildcard (*suffix)
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		suffix := strings.TrimPrefix(pattern, "*")
		return strings.HasSuffix(s, suffix)
	}

	// For patterns with * in the middle or multiple *, use doublestar
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}

	// Exact match
	return pattern == s
}

// BuiltInAgents returns the fixed sub-agent registry named by the hook
// pipeline and the delegation tool. Each carries a restricted tool subset, a
// model-tier hint, and a system prompt fragment. All run as sub-agents: they
// share the invoking session's policy gate, hook pipeline, and workspace, so
// none needs its own permission configuration.
func BuiltInAgents() map[string]*Agent {
	return map[string]*Agent{
		"code-reviewer": {
			Name:        "code-reviewer",
			Description: "Reviews a change for correctness, style, and maintainability after a build step",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierLarge,
			Prompt: "You are a code reviewer. Read the files changed in this turn and report " +
				"defects, risky patterns, and missed edge cases. You cannot modify files; " +
				"report findings for the main agent to act on.",
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"ls":   true,
				"*":    false,
			},
		},
		"error-fixer": {
			Name:        "error-fixer",
			Description: "Diagnoses and repairs a failing build or test run",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierLarge,
			Prompt: "You are a build-failure specialist. You receive the command that failed " +
				"and its output. Find the root cause and make the minimal edit that fixes it, " +
				"then re-run the failing command to confirm.",
			Tools: map[string]bool{
				"read":  true,
				"grep":  true,
				"glob":  true,
				"edit":  true,
				"write": true,
				"bash":  true,
			},
		},
		"security-reviewer": {
			Name:        "security-reviewer",
			Description: "Audits the workspace for security issues before a preview is approved",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierLarge,
			Prompt: "You are a security reviewer. Inspect the workspace for injected secrets, " +
				"unsafe shell invocations, path traversal, and unvalidated external input. " +
				"You cannot modify files; report findings only.",
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"*":    false,
			},
		},
		"planner": {
			Name:        "planner",
			Description: "Turns a clarified request into an ordered implementation plan",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierLarge,
			Prompt: "You are a planner. Explore the workspace enough to understand its " +
				"structure, then produce an ordered list of concrete steps that implement " +
				"the user's request. Do not write code yourself.",
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"ls":   true,
				"*":    false,
			},
		},
		"requirements-analyzer": {
			Name:        "requirements-analyzer",
			Description: "Extracts concrete, testable requirements from an ambiguous request",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierSmall,
			Prompt: "You are a requirements analyst. Read the user's request and the current " +
				"workspace, then list the concrete requirements it implies and flag anything " +
				"that is still ambiguous and needs clarification before planning can start.",
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"*":    false,
			},
		},
		"plan-validator": {
			Name:        "plan-validator",
			Description: "Checks a proposed plan for completeness and internal consistency",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			ModelTier:   TierSmall,
			Prompt: "You are a plan validator. Check the proposed plan against the stated " +
				"requirements for gaps, contradictions, and steps that reference files or " +
				"tools that do not exist. Report problems; do not rewrite the plan yourself.",
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"*":    false,
			},
		},
	}
}
