package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ReviewState is the finite-state gate controlling whether the preview server
// may start. See spec.md §3 "Review State".
type ReviewState string

const (
	ReviewNone        ReviewState = "NONE"
	ReviewRequested   ReviewState = "REQUESTED"
	ReviewPassed      ReviewState = "PASSED"
	ReviewInvalidated ReviewState = "INVALIDATED"
)

// AdvanceOnMutation returns the review state after a code-mutating tool call,
// per spec.md §3: NONE→REQUESTED, PASSED→INVALIDATED, otherwise unchanged.
func AdvanceOnMutation(current ReviewState) ReviewState {
	switch current {
	case ReviewNone:
		return ReviewRequested
	case ReviewPassed:
		return ReviewInvalidated
	default:
		return current
	}
}

// Reason identifies why a call was denied.
type Reason string

const (
	ReasonShellDenylist   Reason = "shell_denylist"
	ReasonOutOfSandbox    Reason = "out_of_sandbox"
	ReasonSensitiveFile   Reason = "sensitive_file"
	ReasonReviewNotPassed Reason = "review_not_passed"
	ReasonPortOutOfBounds Reason = "port_out_of_bounds"

	// ReasonDoomLoop is used by internal/hook's doom-loop pre-hook, not by
	// Gate.Decide itself — declared here alongside the other Reason values
	// since both share the same denial vocabulary.
	ReasonDoomLoop Reason = "doom_loop"
)

// Decision is the result of a Decide call.
type Decision struct {
	Allow  bool
	Reason Reason
	Detail string
}

func allow() Decision { return Decision{Allow: true} }

func deny(r Reason, detail string) Decision {
	return Decision{Allow: false, Reason: r, Detail: detail}
}

// Call describes the tool invocation the Gate must decide on. The Tool Surface
// fills in only the fields relevant to the tool family being invoked; zero
// values mean "not applicable" and the corresponding rule is skipped.
type Call struct {
	ToolName string

	// Shell family.
	Command string

	// File family. RawPath is what the model asked for; WorkspaceRoot is where
	// it must resolve under. The gate does the canonicalization itself so that
	// symlink traversal is always resolved before the containment check.
	RawPath       string
	WorkspaceRoot string

	// Preview family.
	IsStartDevServer bool
	ReviewState      ReviewState

	// Any tool carrying a port argument.
	Port    int
	HasPort bool
}

// Gate is the synchronous Policy Gate (spec.md §4.4, component C3).
type Gate struct {
	shellDenylist []*regexp.Regexp
	sensitive     []string
}

// DefaultShellDenylist are the dangerous-pattern regexes spec.md §4.4 rule 1
// names explicitly: root-wide recursive deletion, privilege escalation, device
// writes, fork bombs.
func DefaultShellDenylist() []string {
	return []string{
		`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/(\s|$)`,
		`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/\*`,
		`\bsudo\b`,
		`\bsu\s+-`,
		`\bchmod\s+-R\s+777\s+/`,
		`\bchown\s+-R\s+.*\s+/(\s|$)`,
		`>\s*/dev/(sd|nvme|hd)[a-z0-9]*`,
		`\bdd\s+.*of=/dev/`,
		`:\(\)\s*\{\s*:\s*\|\s*:\s*&?\s*\}\s*;`, // fork bomb
		`\bmkfs\.`,
	}
}

// DefaultSensitiveSubstrings are canonical-path substrings that deny reads,
// writes, and edits (spec.md §4.4 rule 3).
func DefaultSensitiveSubstrings() []string {
	return []string{
		".env",
		".aws/credentials",
		".ssh/id_",
		"id_rsa",
		"id_ed25519",
		".netrc",
		"credentials.json",
		"secret",
		".npmrc",
	}
}

// NewGate builds a Gate from (optionally customized) denylist and sensitive
// path substring configuration. Passing nil uses the defaults.
func NewGate(shellDenylist, sensitiveSubstrings []string) (*Gate, error) {
	if shellDenylist == nil {
		shellDenylist = DefaultShellDenylist()
	}
	if sensitiveSubstrings == nil {
		sensitiveSubstrings = DefaultSensitiveSubstrings()
	}

	g := &Gate{sensitive: sensitiveSubstrings}
	for _, pat := range shellDenylist {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid denylist pattern %q: %w", pat, err)
		}
		g.shellDenylist = append(g.shellDenylist, re)
	}
	return g, nil
}

// Decide evaluates the rules of spec.md §4.4 in order and returns the first
// denial, or allow if none apply.
func (g *Gate) Decide(call Call) Decision {
	// Rule 1: shell denylist.
	if call.Command != "" {
		for _, re := range g.shellDenylist {
			if re.MatchString(call.Command) {
				return deny(ReasonShellDenylist, fmt.Sprintf("command blocked by pattern %q", re.String()))
			}
		}
	}

	// Rule 2 + 3: path containment and sensitive-file denylist.
	if call.RawPath != "" && call.WorkspaceRoot != "" {
		resolved, err := ResolveInSandbox(call.RawPath, call.WorkspaceRoot)
		if err != nil {
			return deny(ReasonOutOfSandbox, err.Error())
		}
		if !IsWithinDir(resolved, call.WorkspaceRoot) {
			return deny(ReasonOutOfSandbox, fmt.Sprintf("%s escapes workspace root %s", resolved, call.WorkspaceRoot))
		}
		for _, substr := range g.sensitive {
			if strings.Contains(resolved, substr) {
				return deny(ReasonSensitiveFile, fmt.Sprintf("%s matches sensitive pattern %q", resolved, substr))
			}
		}
	}

	// Rule 4: review gate.
	if call.IsStartDevServer && call.ReviewState != ReviewPassed {
		return deny(ReasonReviewNotPassed, fmt.Sprintf("review state is %s, must be PASSED", call.ReviewState))
	}

	// Rule 5: port bounds.
	if call.HasPort && (call.Port < 1 || call.Port > 65535) {
		return deny(ReasonPortOutOfBounds, fmt.Sprintf("port %d out of range [1, 65535]", call.Port))
	}

	return allow()
}

// ResolveInSandbox joins rawPath against root (if relative) and resolves
// symlinks, returning the canonical absolute path. It does not require the
// path to exist under root — callers apply the containment check themselves
// (mirrored here by Decide) so writes to not-yet-existing files still resolve.
func ResolveInSandbox(rawPath, root string) (string, error) {
	path := rawPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	// Resolve symlinks on the deepest existing ancestor; the remaining suffix
	// (for paths that don't exist yet, e.g. a file about to be written) is
	// appended unresolved.
	resolved, suffix, err := resolveExistingAncestor(path)
	if err != nil {
		return "", err
	}
	if suffix == "" {
		return resolved, nil
	}
	return filepath.Join(resolved, suffix), nil
}

func resolveExistingAncestor(path string) (resolved string, suffix string, err error) {
	cur := path
	var tail []string
	for {
		real, statErr := filepath.EvalSymlinks(cur)
		if statErr == nil {
			suffix := filepath.Join(tail...)
			return real, suffix, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached filesystem root without finding an existing ancestor.
			return cur, filepath.Join(tail...), nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
