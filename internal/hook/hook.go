package hook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/policy"
)

// Call describes a tool invocation for hook matching and reaction. It carries
// both the pre-execution request fields and, once available, the
// post-execution outcome fields.
type Call struct {
	SessionID string
	CallID    string
	ToolName  string
	Input     json.RawMessage

	// Shell-specific, populated for the bash tool.
	Command  string
	ExitCode int
	HasExit  bool

	// File-family, populated for path-bearing tools. Mirrors policy.Call so
	// the path-validation pre-hook can duplicate the Policy Gate's
	// containment check for defense in depth.
	RawPath       string
	WorkspaceRoot string

	// Preview family, mirrors policy.Call for ToPolicyCall.
	IsStartDevServer bool
	Port             int
	HasPort          bool

	// Populated post-execution.
	Output  string
	IsError bool

	// Mutated is true for tools the Tool Surface classifies as code-mutating
	// (write, edit, and similar file-family operations).
	Mutated bool

	// PlanningSignal is true for successful data-exploration tool calls or
	// planner sub-agent completions, per spec.md §4.5's planning post-hook.
	PlanningSignal bool

	// ReviewState is the session's review state at hook-evaluation time.
	ReviewState policy.ReviewState
}

// ToPolicyCall projects the fields the Policy Gate's Decide needs out of a
// hook Call, so callers build one Call and derive both the Gate's input and
// the Hook Pipeline's input from it.
func (c Call) ToPolicyCall() policy.Call {
	return policy.Call{
		ToolName:         c.ToolName,
		Command:          c.Command,
		RawPath:          c.RawPath,
		WorkspaceRoot:    c.WorkspaceRoot,
		IsStartDevServer: c.IsStartDevServer,
		ReviewState:      c.ReviewState,
		Port:             c.Port,
		HasPort:          c.HasPort,
	}
}

// SystemMessage is a synthetic message a post-hook wants injected into the
// Agent Session's next model turn.
type SystemMessage struct {
	Source  string // hook name that produced this message
	Content string
}

// Effects accumulates the observable side effects of a post-hook pass so the
// Agent Session can apply them (transition review state, advance planning
// state, inject system messages) without the hook pipeline depending on
// internal/session directly.
type Effects struct {
	Messages        []SystemMessage
	ReviewState     *policy.ReviewState
	AdvancePlanning bool

	// TerminalError, when non-nil, tells the Agent Session to stop the
	// current turn instead of continuing the agentic loop — e.g. the
	// build-failure bound of spec.md §9 exceeded. Distinct from a denied
	// Decision: the tool call already executed, and the turn must end
	// rather than the call being refused.
	TerminalError error
}

// PreHookFunc runs before tool execution. A non-nil, non-allow Decision denies
// the call; the tool never executes.
type PreHookFunc func(ctx context.Context, call Call) (*policy.Decision, error)

// PostHookFunc runs after tool execution and may contribute Effects.
type PostHookFunc func(ctx context.Context, call Call) (*Effects, error)

type preEntry struct {
	name    string
	pattern string
	fn      PreHookFunc
}

type postEntry struct {
	name    string
	pattern string
	fn      PostHookFunc
}

// Pipeline is the Hook Pipeline (C4): an ordered, sequential set of pre- and
// post-hooks matched by tool-name pattern.
type Pipeline struct {
	pre  []preEntry
	post []postEntry
}

// New returns an empty Pipeline. Use RegisterPre/RegisterPost to populate it,
// or NewDefault for the spec-required set.
func New() *Pipeline {
	return &Pipeline{}
}

// RegisterPre appends a pre-hook matched against pattern.
func (p *Pipeline) RegisterPre(name, pattern string, fn PreHookFunc) {
	p.pre = append(p.pre, preEntry{name: name, pattern: pattern, fn: fn})
}

// RegisterPost appends a post-hook matched against pattern.
func (p *Pipeline) RegisterPost(name, pattern string, fn PostHookFunc) {
	p.post = append(p.post, postEntry{name: name, pattern: pattern, fn: fn})
}

// RunPre runs every matching pre-hook in registration order. The first deny
// decision short-circuits the remaining pre-hooks and is returned; a hook
// that errors is logged and treated as a non-denial so the pipeline proceeds.
func (p *Pipeline) RunPre(ctx context.Context, call Call) *policy.Decision {
	for _, e := range p.pre {
		if !MatchToolPattern(e.pattern, call.ToolName) {
			continue
		}
		decision, err := p.runOnePre(ctx, e, call)
		if err != nil {
			logging.Logger.Error().
				Err(err).
				Str("hook", e.name).
				Str("tool", call.ToolName).
				Msg("pre-hook failed, continuing pipeline")
			continue
		}
		if decision != nil && !decision.Allow {
			return decision
		}
	}
	return nil
}

func (p *Pipeline) runOnePre(ctx context.Context, e preEntry, call Call) (decision *policy.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pre-hook %s: %v", e.name, r)
		}
	}()
	return e.fn(ctx, call)
}

// RunPost runs every matching post-hook in registration order, merging their
// Effects. A hook that errors is logged and its contribution skipped.
func (p *Pipeline) RunPost(ctx context.Context, call Call) Effects {
	var merged Effects
	for _, e := range p.post {
		if !MatchToolPattern(e.pattern, call.ToolName) {
			continue
		}
		eff, err := p.runOnePost(ctx, e, call)
		if err != nil {
			logging.Logger.Error().
				Err(err).
				Str("hook", e.name).
				Str("tool", call.ToolName).
				Msg("post-hook failed, continuing pipeline")
			continue
		}
		if eff == nil {
			continue
		}
		merged.Messages = append(merged.Messages, eff.Messages...)
		if eff.ReviewState != nil {
			merged.ReviewState = eff.ReviewState
		}
		if eff.AdvancePlanning {
			merged.AdvancePlanning = true
		}
		if eff.TerminalError != nil {
			merged.TerminalError = eff.TerminalError
		}
	}
	return merged
}

func (p *Pipeline) runOnePost(ctx context.Context, e postEntry, call Call) (eff *Effects, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in post-hook %s: %v", e.name, r)
		}
	}()
	return e.fn(ctx, call)
}
