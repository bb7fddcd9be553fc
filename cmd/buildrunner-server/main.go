// Package main provides the entry point for the buildrunner server: the
// long-running process hosting the Sandbox Supervisor (C1), Tool Surface
// (C2), Policy Gate (C3), Hook Pipeline (C4), Agent Session (C5),
// Connection Manager (C6) and Sub-agent Registry (C7) described by spec.md.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/forgesmith/buildrunner/internal/agent"
	"github.com/forgesmith/buildrunner/internal/config"
	"github.com/forgesmith/buildrunner/internal/connection"
	"github.com/forgesmith/buildrunner/internal/executor"
	"github.com/forgesmith/buildrunner/internal/hook"
	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/forgesmith/buildrunner/internal/provider"
	"github.com/forgesmith/buildrunner/internal/sandbox"
	"github.com/forgesmith/buildrunner/internal/server"
	"github.com/forgesmith/buildrunner/internal/session"
	"github.com/forgesmith/buildrunner/internal/storage"
	"github.com/forgesmith/buildrunner/internal/tool"
	"github.com/forgesmith/buildrunner/pkg/types"
)

var (
	port      = flag.Int("port", 8080, "Server port")
	directory = flag.String("directory", "", "Working directory")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("buildrunner-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logging.Init(logging.DefaultConfig())

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("Failed to get working directory: %v", err)
		}
	}

	log.Printf("Starting buildrunner server v%s", Version)
	log.Printf("Working directory: %s", workDir)

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		log.Printf("Warning: Failed to initialize some providers: %v", err)
	}

	toolReg := tool.DefaultRegistry(workDir, store)

	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	sb := sandbox.New(resolveSandboxConfig(appConfig, workDir))
	toolReg.RegisterSandboxTools(sb)

	gate, err := policy.NewGate(resolvePolicyConfig(appConfig))
	if err != nil {
		log.Fatalf("Failed to construct policy gate: %v", err)
	}

	hooks := hook.NewDefault(store, policy.NewDoomLoopDetector())

	defaultProviderID, defaultModelID := defaultProviderAndModel(appConfig)

	executorCfg := executor.SubagentExecutorConfig{
		Storage:           store,
		ProviderRegistry:  providerReg,
		ToolRegistry:      toolReg,
		Gate:              gate,
		Hooks:             hooks,
		AgentRegistry:     agentReg,
		WorkDir:           workDir,
		DefaultProviderID: defaultProviderID,
		DefaultModelID:    defaultModelID,
	}
	toolReg.SetTaskExecutor(executor.NewSubagentExecutor(executorCfg))

	svc := session.NewServiceWithProcessor(store, providerReg, toolReg, gate, hooks, defaultProviderID, defaultModelID)

	connManager := connection.NewManager(svc, resolveConnectionConfig(appConfig), resolvePreviewBaseURL(appConfig))

	serverConfig := server.DefaultConfig()
	serverConfig.Port = *port
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, appConfig, store, providerReg, toolReg, connManager)

	go func() {
		log.Printf("Server listening on http://localhost:%d", *port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// defaultProviderAndModel splits the configured "provider/model" string,
// falling back to the processor's own defaults when unset.
func defaultProviderAndModel(appConfig *types.Config) (providerID, modelID string) {
	if appConfig == nil || appConfig.Model == "" {
		return "", ""
	}
	parts := strings.SplitN(appConfig.Model, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// resolveSandboxConfig returns the configured Sandbox Supervisor settings,
// defaulting the workspace root to the working directory itself when the
// operator hasn't configured one.
func resolveSandboxConfig(appConfig *types.Config, workDir string) types.SandboxConfig {
	if appConfig != nil && appConfig.Sandbox != nil {
		cfg := *appConfig.Sandbox
		if cfg.WorkspaceRoot == "" {
			cfg.WorkspaceRoot = workDir
		}
		return cfg
	}
	return types.SandboxConfig{WorkspaceRoot: workDir}
}

// resolvePolicyConfig returns the configured shell denylist and sensitive
// substrings, or nil/nil so policy.NewGate falls back to its defaults.
func resolvePolicyConfig(appConfig *types.Config) (shellDenylist, sensitiveSubstrings []string) {
	if appConfig == nil || appConfig.Policy == nil {
		return nil, nil
	}
	return appConfig.Policy.ShellDenylist, appConfig.Policy.SensitiveSubstrings
}

// resolveConnectionConfig returns the configured Connection Manager
// settings, or a zero value so connection.NewManager applies its defaults.
func resolveConnectionConfig(appConfig *types.Config) types.ConnectionConfig {
	if appConfig != nil && appConfig.Connection != nil {
		return *appConfig.Connection
	}
	return types.ConnectionConfig{}
}

// resolvePreviewBaseURL returns the Sandbox Supervisor's configured public
// host template for the Connection Manager's terminal preview URL.
func resolvePreviewBaseURL(appConfig *types.Config) string {
	if appConfig != nil && appConfig.Sandbox != nil {
		return appConfig.Sandbox.PreviewBaseURL
	}
	return ""
}
