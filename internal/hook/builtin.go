package hook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/forgesmith/buildrunner/internal/storage"
)

// AuditRecord is one persisted entry written by the audit pre-hook: the
// session, call id, tool name, shell command or path, and time of one tool
// call. The pre-hook runs before the call is decided, so the record carries
// no allowed/denied outcome and no hook actions.
type AuditRecord struct {
	SessionID string    `json:"sessionID"`
	CallID    string    `json:"callID"`
	ToolName  string    `json:"toolName"`
	Command   string    `json:"command,omitempty"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// buildCommandNames are shell invocations the build-failure post-hook treats
// as compile/type-check/test commands.
var buildCommandNames = map[string]bool{
	"go":     true,
	"npm":    true,
	"yarn":   true,
	"pnpm":   true,
	"tsc":    true,
	"pytest": true,
	"make":   true,
	"cargo":  true,
	"mvn":    true,
	"gradle": true,
}

func isBuildCommand(command string) bool {
	commands, err := policy.ParseBashCommand(command)
	if err != nil || len(commands) == 0 {
		return false
	}
	return buildCommandNames[commands[0].Name]
}

// NewAuditPreHook returns the required, unconditional audit-log pre-hook
// (spec.md §4.5): it records every tool call and never denies.
func NewAuditPreHook(store *storage.Storage) PreHookFunc {
	return func(ctx context.Context, call Call) (*policy.Decision, error) {
		record := AuditRecord{
			SessionID: call.SessionID,
			CallID:    call.CallID,
			ToolName:  call.ToolName,
			Command:   call.Command,
			Path:      call.RawPath,
			Timestamp: time.Now(),
		}
		if err := store.Put(ctx, []string{"audit", call.SessionID, call.CallID}, record); err != nil {
			logging.Logger.Warn().Err(err).Str("session", call.SessionID).Msg("failed to persist audit record")
		}
		return nil, nil
	}
}

// NewPathValidationPreHook duplicates the Policy Gate's path-containment
// check (spec.md §4.5: "defence in depth"). It runs independently of the
// Gate; the effective decision for the call is the stricter of the two.
func NewPathValidationPreHook() PreHookFunc {
	return func(ctx context.Context, call Call) (*policy.Decision, error) {
		if call.RawPath == "" || call.WorkspaceRoot == "" {
			return nil, nil
		}
		resolved, err := policy.ResolveInSandbox(call.RawPath, call.WorkspaceRoot)
		if err != nil {
			return &policy.Decision{Allow: false, Reason: policy.ReasonOutOfSandbox, Detail: err.Error()}, nil
		}
		if !policy.IsWithinDir(resolved, call.WorkspaceRoot) {
			return &policy.Decision{
				Allow:  false,
				Reason: policy.ReasonOutOfSandbox,
				Detail: fmt.Sprintf("%s escapes workspace root %s", resolved, call.WorkspaceRoot),
			}, nil
		}
		return nil, nil
	}
}

// NewDoomLoopPreHook wraps a policy.DoomLoopDetector as a pre-hook
// (SPEC_FULL.md §4.5, supplemented): three or more identical consecutive tool
// calls in a session deny with a doom_loop reason.
func NewDoomLoopPreHook(detector *policy.DoomLoopDetector) PreHookFunc {
	return func(ctx context.Context, call Call) (*policy.Decision, error) {
		if detector.Check(call.SessionID, call.ToolName, string(call.Input)) {
			return &policy.Decision{
				Allow:  false,
				Reason: policy.ReasonDoomLoop,
				Detail: fmt.Sprintf("tool %q repeated identically %d+ times in a row", call.ToolName, policy.DoomLoopThreshold),
			}, nil
		}
		return nil, nil
	}
}

const buildFailureTruncateLen = 2000

// BuildFailureThreshold is the number of consecutive failed-build cycles a
// session may accumulate before NewBuildFailureHook gives up on the
// correction nudge and emits a terminal error instead (spec.md §9 DESIGN
// NOTES: "bound the number of consecutive failed-build cycles per turn").
const BuildFailureThreshold = 3

// BuildFailureTracker counts consecutive failed build/type-check/test
// commands per session, mirroring policy.DoomLoopDetector's per-session
// bookkeeping. A successful build resets the session's count to zero; it is
// not itself a denial mechanism, so it lives in internal/hook rather than
// internal/policy.
type BuildFailureTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewBuildFailureTracker creates an empty tracker.
func NewBuildFailureTracker() *BuildFailureTracker {
	return &BuildFailureTracker{counts: make(map[string]int)}
}

// RecordFailure increments sessionID's consecutive-failure count and returns
// the new total.
func (t *BuildFailureTracker) RecordFailure(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[sessionID]++
	return t.counts[sessionID]
}

// RecordSuccess resets sessionID's consecutive-failure count.
func (t *BuildFailureTracker) RecordSuccess(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, sessionID)
}

// NewBuildFailureHook is the required build-failure self-correction post-hook
// (spec.md §4.5): on a non-zero-exit build/type-check/test command, injects a
// system message instructing the model to delegate to code-reviewer then
// error-fixer before retrying the build. Once the session's consecutive
// failure count in tracker exceeds BuildFailureThreshold, it emits a
// terminal error instead of another correction nudge, per spec.md §9's bound
// on the self-correction loop.
func NewBuildFailureHook(tracker *BuildFailureTracker) PostHookFunc {
	return func(ctx context.Context, call Call) (*Effects, error) {
		if call.ToolName != "bash" || !call.HasExit || !isBuildCommand(call.Command) {
			return nil, nil
		}

		if call.ExitCode == 0 {
			tracker.RecordSuccess(call.SessionID)
			return nil, nil
		}

		failures := tracker.RecordFailure(call.SessionID)
		if failures > BuildFailureThreshold {
			return &Effects{
				TerminalError: fmt.Errorf(
					"build-failure: %q failed %d consecutive times, exceeding the bound of %d; stopping turn",
					call.Command, failures, BuildFailureThreshold,
				),
			}, nil
		}

		output := call.Output
		if len(output) > buildFailureTruncateLen {
			output = output[len(output)-buildFailureTruncateLen:]
		}

		msg := fmt.Sprintf(
			"Command %q failed with exit code %d. Output (truncated):\n%s\n\n"+
				"Delegate to the code-reviewer sub-agent to assess the failure, then to the "+
				"error-fixer sub-agent to apply a fix, before attempting the build again.",
			call.Command, call.ExitCode, strings.TrimSpace(output),
		)

		return &Effects{Messages: []SystemMessage{{Source: "build-failure", Content: msg}}}, nil
	}
}

// NewReviewInvalidationHook is the required review-invalidation post-hook
// (spec.md §4.5 and §3): any file-mutating tool call advances the review
// state via policy.AdvanceOnMutation.
func NewReviewInvalidationHook() PostHookFunc {
	return func(ctx context.Context, call Call) (*Effects, error) {
		if !call.Mutated {
			return nil, nil
		}
		next := policy.AdvanceOnMutation(call.ReviewState)
		if next == call.ReviewState {
			return nil, nil
		}
		return &Effects{ReviewState: &next}, nil
	}
}

// NewSecurityReviewPassedHook is the post-hook backing the
// mark-security-review-passed tool (spec.md §4.3): the tool itself is a
// no-op confirmation, so the actual NONE/REQUESTED/INVALIDATED → PASSED
// transition happens here, the same way every other review-state change
// flows through Effects.ReviewState rather than a tool mutating session
// state directly.
func NewSecurityReviewPassedHook() PostHookFunc {
	return func(ctx context.Context, call Call) (*Effects, error) {
		if call.ToolName != "mark-security-review-passed" || call.IsError {
			return nil, nil
		}
		passed := policy.ReviewPassed
		return &Effects{ReviewState: &passed}, nil
	}
}

// NewPlanningTrackingHook is the required planning-state-tracking post-hook
// (spec.md §4.5): successful data-exploration tool calls or planner
// sub-agent completions advance the planning state machine.
func NewPlanningTrackingHook() PostHookFunc {
	return func(ctx context.Context, call Call) (*Effects, error) {
		if call.IsError || !call.PlanningSignal {
			return nil, nil
		}
		return &Effects{AdvancePlanning: true}, nil
	}
}

// NewDefault builds the Pipeline with every hook SPEC_FULL.md §4.5 requires,
// in the order: audit → path validation → doom loop (pre); build failure →
// review invalidation → security review passed → planning tracking (post).
func NewDefault(store *storage.Storage, doomLoop *policy.DoomLoopDetector) *Pipeline {
	return NewDefaultWithBuildFailureTracker(store, doomLoop, NewBuildFailureTracker())
}

// NewDefaultWithBuildFailureTracker is NewDefault with an explicit
// BuildFailureTracker, so callers that need to inspect or share the
// consecutive-failure count across pipelines (e.g. a sub-agent executor
// reusing its parent's pipeline) can supply their own.
func NewDefaultWithBuildFailureTracker(store *storage.Storage, doomLoop *policy.DoomLoopDetector, buildFailures *BuildFailureTracker) *Pipeline {
	p := New()
	p.RegisterPre("audit-log", "*", NewAuditPreHook(store))
	p.RegisterPre("path-validation", "*", NewPathValidationPreHook())
	p.RegisterPre("doom-loop", "*", NewDoomLoopPreHook(doomLoop))

	p.RegisterPost("build-failure", "bash", NewBuildFailureHook(buildFailures))
	p.RegisterPost("review-invalidation", "*", NewReviewInvalidationHook())
	p.RegisterPost("security-review-passed", "mark-security-review-passed", NewSecurityReviewPassedHook())
	p.RegisterPost("planning-tracking", "*", NewPlanningTrackingHook())
	return p
}
