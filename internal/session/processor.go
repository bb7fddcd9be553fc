package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgesmith/buildrunner/internal/hook"
	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/forgesmith/buildrunner/internal/provider"
	"github.com/forgesmith/buildrunner/internal/storage"
	"github.com/forgesmith/buildrunner/internal/tool"
	"github.com/forgesmith/buildrunner/pkg/types"
)

// Processor handles message processing and the agentic loop.
type Processor struct {
	mu sync.Mutex

	providerRegistry *provider.Registry
	toolRegistry     *tool.Registry
	storage          *storage.Storage

	// gate is the synchronous Policy Gate (C3): shell denylist, path
	// containment, sensitive files, review-state gate, port bounds.
	gate *policy.Gate

	// hooks is the Hook Pipeline (C4): audit, path-validation and doom-loop
	// pre-hooks; build-failure, review-invalidation and planning-tracking
	// post-hooks. Nil disables hook evaluation (used by unit tests that don't
	// exercise tool execution).
	hooks *hook.Pipeline

	// Default provider and model to use when not specified
	defaultProviderID string
	defaultModelID    string

	// Active sessions being processed
	sessions map[string]*sessionState
}

// sessionState tracks the state of an active session being processed.
type sessionState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	message *types.Message
	parts   []types.Part
	waiters []chan error
	step    int
	retries int

	// workspaceRoot, reviewState and planningState mirror the fields on
	// types.Session for the duration of this processing run; runLoop loads
	// them once at the start and persists mutations back to storage.
	workspaceRoot string
	reviewState   policy.ReviewState
	planningState PlanningState

	// pendingNotices holds hook-post synthetic system messages (e.g. a
	// build-failure self-correction prompt) to be injected into the next
	// completion request, then cleared.
	pendingNotices []string

	// terminalErr is set by applyHookEffects when a post-hook's Effects carry
	// a TerminalError (e.g. the build-failure bound of spec.md §9 exceeded);
	// executeToolCalls stops the turn once set instead of continuing to the
	// next tool call.
	terminalErr error
}

// ProcessCallback is called with message updates during processing.
type ProcessCallback func(msg *types.Message, parts []types.Part)

// NewProcessor creates a new session processor.
func NewProcessor(
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	store *storage.Storage,
	gate *policy.Gate,
	hooks *hook.Pipeline,
	defaultProviderID string,
	defaultModelID string,
) *Processor {
	// Use reasonable defaults if not specified
	if defaultProviderID == "" {
		defaultProviderID = "anthropic"
	}
	if defaultModelID == "" {
		defaultModelID = "claude-sonnet-4-20250514"
	}
	return &Processor{
		providerRegistry:  providerReg,
		toolRegistry:      toolReg,
		storage:           store,
		gate:              gate,
		hooks:             hooks,
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*sessionState),
	}
}

// Process handles a new user message and generates an assistant response.
// This is the main entry point for the agentic loop.
func (p *Processor) Process(ctx context.Context, sessionID string, agent *Agent, callback ProcessCallback) error {
	p.mu.Lock()

	// Check if session is already processing
	if state, ok := p.sessions[sessionID]; ok {
		// Queue this request
		waiter := make(chan error, 1)
		state.waiters = append(state.waiters, waiter)
		p.mu.Unlock()

		// Wait for current processing to complete
		select {
		case err := <-waiter:
			if err != nil {
				return err
			}
			// Retry processing
			return p.Process(ctx, sessionID, agent, callback)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Create new session state
	loopCtx, cancel := context.WithCancel(ctx)
	state := &sessionState{
		ctx:    loopCtx,
		cancel: cancel,
	}
	p.sessions[sessionID] = state
	p.mu.Unlock()

	// Ensure cleanup
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sessionID)

		// Notify waiters
		for _, waiter := range state.waiters {
			waiter <- nil
		}
		p.mu.Unlock()
	}()

	// Run the agentic loop
	return p.runLoop(loopCtx, sessionID, state, agent, callback)
}

// Abort cancels processing for a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}

	state.cancel()
	return nil
}

// IsProcessing returns whether a session is currently processing.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// GetActiveState returns the current state for a processing session.
func (p *Processor) GetActiveState(sessionID string) (*types.Message, []types.Part, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	return state.message, state.parts, true
}
