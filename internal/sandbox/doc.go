/*
Package sandbox implements the Sandbox Supervisor (C1): it owns every
session's workspace directory, allocates preview/dev-server ports, starts
and stops dev-server child processes, and enforces path containment
(spec.md §4.6).

# Workspace

CreateWorkspace materializes <workspace-root>/<sessionID>, copies the
configured project scaffold into it, then overlays the curated-component
library, using github.com/bmatcuk/doublestar/v4 glob matching to walk both
source trees — the same library internal/agent and internal/hook already use
for tool-name and scaffold-path pattern matching. ResolvePath resolves a
path with internal/policy's ResolveInSandbox and IsWithinDir, the same pair
the Policy Gate's path-containment rule uses, rather than re-implementing
containment checking, so the two enforcement points (Gate and Supervisor)
can never drift apart on what "inside the sandbox" means.

# Process management

Every dev-server child is spawned in its own process group
(syscall.SysProcAttr{Setpgid: true}), matching internal/tool's BashTool —
the supervisor tracks each session's children so a single teardown call can
signal a whole group at once without affecting any other session's
processes. StartDevServer performs an HTTP readiness probe with exponential
backoff (github.com/cenkalti/backoff/v4, the same retry library
internal/session's reasoning-model transport retry uses) rather than a fixed
sleep, per spec.md §4.6.

# Ports

Port allocation is a probe-then-bind-at-spawn-time affair: a free port in
the configured range is a hint. StartDevServer re-checks the port right
before spawning and moves to a fresh one if it is already bound, and it
retries a bounded number of times when the child fails to start. A child
that starts but cannot bind its port is not retried on another port; it
surfaces as a readiness-probe failure.
*/
package sandbox
