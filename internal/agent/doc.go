// Package agent provides the sub-agent registry (spec C7): the fixed set of
// named delegation targets the main agent can invoke through the Task tool.
//
// This package implements a flexible agent system that supports different operation
// modes and tool access controls. Agents can operate as primary agents (user-facing)
// or subagents (invoked by other agents).
//
// # Agent Types
//
// The package provides six built-in sub-agents, named to match the hook
// pipeline's delegation targets:
//
//   - code-reviewer: reviews a change for correctness and style after a build step.
//   - error-fixer: diagnoses and repairs a failing build or test run.
//   - security-reviewer: audits the workspace before a preview is approved.
//   - planner: turns a clarified request into an ordered implementation plan.
//   - requirements-analyzer: extracts concrete requirements from an ambiguous request.
//   - plan-validator: checks a proposed plan for completeness and consistency.
//
// Each carries a restricted tool subset and a [ModelTier] hint (small or
// large) so the caller can route it to a cheaper or fuller reasoning model.
//
// # Agent Modes
//
// Agents operate in one of three modes:
//
//   - ModePrimary: Can be selected as the main agent for a session
//   - ModeSubagent: Can only be invoked by other agents via the Task tool
//   - ModeAll: Can operate in both primary and subagent contexts
//
// All six built-ins run in ModeSubagent. A session's primary agent
// configuration (its own prompt, tool list, and temperature) lives in
// [github.com/forgesmith/buildrunner/internal/session].
//
// # Tool Access Control
//
// Each agent has a Tools map that controls which tools are available. Tools can be
// enabled or disabled using exact names or wildcard patterns:
//
//	agent.Tools = map[string]bool{
//	    "*":     true,   // Enable all tools by default
//	    "bash":  false,  // Disable bash specifically
//	    "mcp_*": true,   // Enable all MCP tools
//	}
//
// The [Agent.ToolEnabled] method checks tool availability, supporting glob patterns
// including doublestar (**) for complex matching.
//
// Tool safety itself (shell denylist, path containment, sensitive files, doom
// loop) is enforced by the invoking session's Policy Gate and Hook Pipeline,
// not by this package: a sub-agent shares its parent session's gate, hooks,
// and workspace rather than carrying its own permission configuration.
//
// # Registry
//
// The [Registry] type manages agent configurations with thread-safe operations:
//
//	registry := agent.NewRegistry()  // Includes built-in sub-agents
//	registry.Register(customAgent)   // Add custom agent
//	reviewer, err := registry.Get("code-reviewer")
//	primaryAgents := registry.ListPrimary()
//	subagents := registry.ListSubagents()
//
// # Custom Configuration
//
// Custom agents can be loaded from configuration using [Registry.LoadFromConfig].
// Configurations can extend or override built-in agents:
//
//	config := map[string]agent.AgentConfig{
//	    "code-reviewer": {
//	        Temperature: 0.3,
//	        ModelTier:   agent.TierLarge,
//	    },
//	    "custom": {
//	        Description: "Custom agent",
//	        Mode:        agent.ModeSubagent,
//	        Tools:       map[string]bool{"read": true, "glob": true},
//	    },
//	}
//	registry.LoadFromConfig(config)
package agent
