package types

// Config represents the buildrunner server configuration, layered from a
// global file, a project file, and environment overrides (internal/config).
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// User identification
	Username string `json:"username,omitempty"`

	// Model selection
	Model      string `json:"model,omitempty"`       // "anthropic/claude-sonnet-4"
	SmallModel string `json:"small_model,omitempty"` // For fast tasks, sub-agents

	// Global tools enable/disable
	Tools map[string]bool `json:"tools,omitempty"`

	// Additional instruction files
	Instructions []string `json:"instructions,omitempty"`

	// Custom prompt variables
	PromptVariables map[string]string `json:"promptVariables,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Agent configs
	Agent map[string]AgentConfig `json:"agent,omitempty"`

	// Policy Gate settings (shell denylist, sensitive paths)
	Policy *PolicyConfig `json:"policy,omitempty"`

	// MCP server configs
	MCP map[string]MCPConfig `json:"mcp,omitempty"`

	// Workspace change watcher
	Watcher *WatcherConfig `json:"watcher,omitempty"`

	// Sandbox Supervisor settings (workspace root, port range, preview URL)
	Sandbox *SandboxConfig `json:"sandbox,omitempty"`

	// Connection Manager settings (reconnect grace, turn timeout)
	Connection *ConnectionConfig `json:"connection,omitempty"`

	// Experimental features
	Experimental *ExperimentalConfig `json:"experimental,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
// Compatible with TypeScript opencode provider configuration.
type ProviderConfig struct {
	// Direct API key (Go style)
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"` // Changed to match TS (was baseUrl)

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty"`

	// Npm package name selecting the provider implementation (e.g. "@ai-sdk/anthropic")
	Npm string `json:"npm,omitempty"`

	// Nested options (TypeScript style)
	Options *ProviderOptions `json:"options,omitempty"`

	// Model filtering
	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`

	// Disable provider
	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options (TypeScript style).
type ProviderOptions struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseURL,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"` // ms, nil = default, 0 = disabled
}

// AgentConfig holds configuration for an agent.
// Compatible with TypeScript opencode agent configuration.
type AgentConfig struct {
	// Model override for this agent
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"` // Changed to match TS (was topP)

	// Custom system prompt
	Prompt string `json:"prompt,omitempty"`

	// Tool configuration
	Tools map[string]bool `json:"tools,omitempty"`

	// Permission settings
	Permission *PermissionConfig `json:"permission,omitempty"`

	// Agent metadata
	Description string `json:"description,omitempty"`
	Mode        string `json:"mode,omitempty"`  // "subagent"|"primary"|"all"
	Color       string `json:"color,omitempty"` // Hex color

	// Disable this agent
	Disable bool `json:"disable,omitempty"`
}

// PolicyConfig holds Policy Gate (C3) overrides. Nil/empty fields fall back
// to policy.DefaultShellDenylist / policy.DefaultSensitiveSubstrings.
type PolicyConfig struct {
	ShellDenylist       []string `json:"shellDenylist,omitempty"`
	SensitiveSubstrings []string `json:"sensitiveSubstrings,omitempty"`
}

// SandboxConfig holds Sandbox Supervisor (C1) settings.
type SandboxConfig struct {
	// WorkspaceRoot is the parent directory under which each session's
	// <workspace-root>/<sessionID> subtree is created.
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`

	// ScaffoldDir is copied into every new workspace before the curated
	// component library.
	ScaffoldDir string `json:"scaffoldDir,omitempty"`

	// CuratedComponentsDir holds the shared component catalogue injected
	// into every workspace.
	CuratedComponentsDir string `json:"curatedComponentsDir,omitempty"`

	// PortRangeStart/End bound preview/dev-server port allocation.
	PortRangeStart int `json:"portRangeStart,omitempty"`
	PortRangeEnd   int `json:"portRangeEnd,omitempty"`

	// PreviewBaseURL is the public host:port template the preview URL is
	// derived from, e.g. "http://localhost" (port appended) or a templated
	// public domain.
	PreviewBaseURL string `json:"previewBaseURL,omitempty"`

	// DevServerReadyTimeoutSeconds bounds the HTTP readiness probe for
	// start-dev-server.
	DevServerReadyTimeoutSeconds int `json:"devServerReadyTimeoutSeconds,omitempty"`

	// ChildProcessGraceSeconds is how long a terminated child process group
	// is given before being force-killed.
	ChildProcessGraceSeconds int `json:"childProcessGraceSeconds,omitempty"`

	// KeepWorkspaceOnTeardown leaves the workspace directory on disk after
	// session teardown for post-mortem inspection (default true).
	KeepWorkspaceOnTeardown *bool `json:"keepWorkspaceOnTeardown,omitempty"`
}

// ConnectionConfig holds Connection Manager (C6) settings.
type ConnectionConfig struct {
	// ReconnectGraceSeconds is how long a disconnected session's teardown is
	// deferred, awaiting a reconnect.
	ReconnectGraceSeconds int `json:"reconnectGraceSeconds,omitempty"`

	// TurnTimeoutSeconds bounds a single chat turn's model-stream iteration.
	TurnTimeoutSeconds int `json:"turnTimeoutSeconds,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// WatcherConfig holds workspace change watcher configuration (Sandbox
// Supervisor, internal/sandbox).
type WatcherConfig struct {
	Ignore []string `json:"ignore,omitempty"`
}

// ExperimentalConfig holds experimental feature flags.
type ExperimentalConfig struct {
	BatchTool bool `json:"batch_tool,omitempty"`
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice       float64      `json:"outputPrice,omitempty"` // per 1M tokens
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}
