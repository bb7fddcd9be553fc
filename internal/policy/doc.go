// Package policy implements the Policy Gate (spec component C3): a synchronous
// allow/deny decision evaluated on every tool call before it reaches the
// Sandbox Supervisor. Unlike a typical permission system it never blocks on
// user input — every rule is a deterministic function of the call and the
// session's current state.
//
// # Rules
//
// Decide evaluates, in order:
//
//  1. Shell denylist — the command text is matched against a configured set of
//     dangerous regexes (root-wide rm -rf, sudo/su, device writes, fork bombs).
//  2. Path containment — for file-family tools, the target path is resolved
//     (symlinks included) and must land inside the workspace root.
//  3. Sensitive-file denylist — canonical paths containing configured
//     substrings (.env, id_rsa, credentials, ...) are denied regardless of
//     containment.
//  4. Review gate — start-dev-server is denied unless the session's review
//     state is PASSED.
//  5. Port bounds — any port argument outside [1, 65535] is denied.
//
// # Bash command parsing
//
// ParseBashCommand uses mvdan.cc/sh's shell parser to break a command string
// into structured BashCommand values. internal/hook's build-failure post-hook
// uses it to recognise build commands by their command name.
//
// # Doom loop detection
//
// DoomLoopDetector is a pre-hook primitive (wired from internal/hook) that
// flags three or more identical consecutive tool calls in a session as a
// stalled agent, per SPEC_FULL.md §4.5.
package policy
