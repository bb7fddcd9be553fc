package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/forgesmith/buildrunner/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (GetPaths().Config, ~/.config/opencode by default)
// 2. Project config (.buildrunner/)
// 3. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadJSONFile(filepath.Join(globalPath, "buildrunner.json"), config)
	loadJSONCFile(filepath.Join(globalPath, "buildrunner.jsonc"), config)
	loadYAMLFile(filepath.Join(globalPath, "buildrunner.yaml"), config)

	// 2. Project config
	if directory != "" {
		loadJSONFile(filepath.Join(directory, ".buildrunner", "buildrunner.json"), config)
		loadJSONCFile(filepath.Join(directory, ".buildrunner", "buildrunner.jsonc"), config)
		loadYAMLFile(filepath.Join(directory, ".buildrunner", "buildrunner.yaml"), config)
	}

	// 3. Environment variables
	applyEnvOverrides(config)

	return config, nil
}

// loadJSONFile loads a plain JSON config file, merging it into config.
func loadJSONFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// loadJSONCFile loads a JSONC (JSON with comments) config file using
// tidwall/jsonc to strip comments before unmarshaling.
func loadJSONCFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	stripped := jsonc.ToJSON(data)

	var fileConfig types.Config
	if err := json.Unmarshal(stripped, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// loadYAMLFile loads a YAML config file, for operators who prefer YAML for
// the Sandbox/Connection/Policy blocks over JSON.
func loadYAMLFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig types.Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}

	// Merge providers
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	// Merge agents
	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]types.AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}

	// Merge policy (Policy Gate) config
	if source.Policy != nil {
		target.Policy = source.Policy
	}

	// Merge watcher config
	if source.Watcher != nil {
		target.Watcher = source.Watcher
	}

	// Merge sandbox (Sandbox Supervisor) config
	if source.Sandbox != nil {
		target.Sandbox = source.Sandbox
	}

	// Merge connection (Connection Manager) config
	if source.Connection != nil {
		target.Connection = source.Connection
	}

	// Merge experimental config
	if source.Experimental != nil {
		target.Experimental = source.Experimental
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"bedrock":   "AWS_ACCESS_KEY_ID",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// Model override
	if model := os.Getenv("BUILDRUNNER_MODEL"); model != "" {
		config.Model = model
	}

	// Small model override
	if smallModel := os.Getenv("BUILDRUNNER_SMALL_MODEL"); smallModel != "" {
		config.SmallModel = smallModel
	}

	// Sandbox workspace root override, useful in container deployments.
	if root := os.Getenv("BUILDRUNNER_WORKSPACE_ROOT"); root != "" {
		if config.Sandbox == nil {
			config.Sandbox = &types.SandboxConfig{}
		}
		config.Sandbox.WorkspaceRoot = root
	}
}

// Save saves the configuration to a file as JSON.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
