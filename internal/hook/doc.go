// Package hook implements the Hook Pipeline (spec component C4): pre- and
// post-tool hooks that react to tool calls without owning the allow/deny
// contract of the Policy Gate (internal/policy), which they complement.
//
// A Pipeline holds an ordered list of pre-hooks and post-hooks, each
// registered against a tool-name glob pattern (matched with
// github.com/bmatcuk/doublestar, generalizing the teacher's bash-subcommand
// wildcard matcher to whole tool names). Pre-hooks run before a tool executes
// and may deny the call by returning a policy.Decision; post-hooks run after
// and may return a synthetic system message to be injected into the Agent
// Session's next model turn.
//
// Execution is strictly sequential per call. A hook that panics or returns an
// error is logged and skipped; it never aborts the rest of the pipeline.
package hook
