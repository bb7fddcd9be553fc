package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/forgesmith/buildrunner/pkg/types"
)

// ErrOutOfSandbox is returned by ResolvePath when a path escapes the
// session's workspace root, mirroring policy.ReasonOutOfSandbox.
type ErrOutOfSandbox struct {
	Path string
	Root string
}

func (e *ErrOutOfSandbox) Error() string {
	return fmt.Sprintf("%s escapes workspace root %s", e.Path, e.Root)
}

// session is the Supervisor's per-session bookkeeping: workspace location,
// allocated port, and tracked child processes.
type session struct {
	workspaceRoot string

	portMu sync.Mutex
	port   int

	devServer *devServerState

	childrenMu sync.Mutex
	children   []*trackedChild
}

// Supervisor is the Sandbox Supervisor (C1).
type Supervisor struct {
	config types.SandboxConfig

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs a Supervisor from the configured workspace root, scaffold
// sources, port range, and teardown policy.
func New(cfg types.SandboxConfig) *Supervisor {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.PortRangeStart <= 0 {
		cfg.PortRangeStart = DefaultPortRangeStart
	}
	if cfg.PortRangeEnd <= 0 {
		cfg.PortRangeEnd = DefaultPortRangeEnd
	}
	if cfg.DevServerReadyTimeoutSeconds <= 0 {
		cfg.DevServerReadyTimeoutSeconds = DefaultDevServerReadyTimeoutSeconds
	}
	if cfg.ChildProcessGraceSeconds <= 0 {
		cfg.ChildProcessGraceSeconds = DefaultChildProcessGraceSeconds
	}
	if cfg.PreviewBaseURL == "" {
		cfg.PreviewBaseURL = "http://localhost"
	}
	return &Supervisor{
		config:   cfg,
		sessions: make(map[string]*session),
	}
}

func (s *Supervisor) sessionFor(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}
	return sess
}

// WorkspaceRoot returns a session's workspace path, empty if it has not
// been created yet.
func (s *Supervisor) WorkspaceRoot(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.workspaceRoot
	}
	return ""
}

// CreateWorkspace materializes <workspace-root>/<sessionID>, copies the
// project scaffold, then overlays the curated-component library, per
// spec.md §4.6. It is idempotent: calling it again for an already-created
// session is a no-op that returns the existing path.
func (s *Supervisor) CreateWorkspace(ctx context.Context, sessionID string) (string, error) {
	sess := s.sessionFor(sessionID)
	if sess.workspaceRoot != "" {
		return sess.workspaceRoot, nil
	}

	root := filepath.Join(s.config.WorkspaceRoot, sessionID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("sandbox: create workspace dir: %w", err)
	}

	if s.config.ScaffoldDir != "" {
		if err := copyTree(s.config.ScaffoldDir, root); err != nil {
			return "", fmt.Errorf("sandbox: copy scaffold: %w", err)
		}
	}
	if s.config.CuratedComponentsDir != "" {
		if err := copyTree(s.config.CuratedComponentsDir, filepath.Join(root, "curated")); err != nil {
			return "", fmt.Errorf("sandbox: copy curated components: %w", err)
		}
	}

	sess.workspaceRoot = root
	logging.Logger.Info().Str("session", sessionID).Str("workspace", root).Msg("sandbox: workspace created")
	return root, nil
}

// copyTree copies every file doublestar's recursive glob finds under src
// into dst, preserving relative structure. Directories are created on
// demand; copy, not rename, since src is a shared, reusable source tree.
func copyTree(src, dst string) error {
	fsys := os.DirFS(src)
	matches, err := doublestar.Glob(fsys, "**")
	if err != nil {
		return err
	}

	for _, rel := range matches {
		srcPath := filepath.Join(src, rel)
		info, err := os.Stat(srcPath)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)
		if info.IsDir() {
			if err := os.MkdirAll(dstPath, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
			return err
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, data, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

// ResolvePath canonicalises rawPath against the session's workspace root
// (resolving symlinks on its deepest existing ancestor, per
// policy.ResolveInSandbox) and rejects it with ErrOutOfSandbox if the
// result does not have the workspace root as a prefix. This is the same
// containment check the Policy Gate and its path-validation pre-hook apply;
// tools call it directly so a third enforcement point never disagrees with
// the other two.
func (s *Supervisor) ResolvePath(sessionID, rawPath string) (string, error) {
	root := s.WorkspaceRoot(sessionID)
	if root == "" {
		return "", fmt.Errorf("sandbox: no workspace for session %s", sessionID)
	}

	resolved, err := policy.ResolveInSandbox(rawPath, root)
	if err != nil {
		return "", err
	}
	if !policy.IsWithinDir(resolved, root) {
		return "", &ErrOutOfSandbox{Path: resolved, Root: root}
	}
	return resolved, nil
}

// Teardown implements spec.md §4.6's session destroy: terminate every
// tracked child (group kill after a grace period), release the allocated
// port, and — unless KeepWorkspaceOnTeardown is false — leave the
// workspace directory on disk for post-mortem inspection.
func (s *Supervisor) Teardown(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.terminateAllChildren(sess)

	keep := s.config.KeepWorkspaceOnTeardown == nil || *s.config.KeepWorkspaceOnTeardown
	if !keep && sess.workspaceRoot != "" {
		if err := os.RemoveAll(sess.workspaceRoot); err != nil {
			logging.Logger.Warn().Err(err).Str("session", sessionID).Msg("sandbox: workspace removal failed")
		}
	}

	logging.Logger.Info().Str("session", sessionID).Msg("sandbox: torn down")
	return nil
}
