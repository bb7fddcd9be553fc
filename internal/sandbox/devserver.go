package sandbox

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgesmith/buildrunner/internal/logging"
)

// Defaults applied when SandboxConfig leaves a field unset.
const (
	DefaultPortRangeStart               = 30000
	DefaultPortRangeEnd                 = 39999
	DefaultDevServerReadyTimeoutSeconds = 30
	DefaultChildProcessGraceSeconds     = 5
	maxPortBindAttempts                 = 5
)

// devServerState tracks the single dev-server child a session may have
// running at a time.
type devServerState struct {
	child *trackedChild
}

// StartDevServer implements spec.md §4.6's start-dev-server contract: probe
// for a free port in the configured range (reusing the session's existing
// allocation if one exists), spawn the server as a background child,
// readiness-probe it over HTTP with exponential backoff, and return its
// preview URL. Any previously running dev-server for this session is
// terminated first. The caller — the Policy Gate, upstream — is
// responsible for the review-state gate; this method does not re-check it.
func (s *Supervisor) StartDevServer(ctx context.Context, sessionID, command string) (string, int, error) {
	sess := s.sessionFor(sessionID)
	if sess.workspaceRoot == "" {
		return "", 0, fmt.Errorf("sandbox: no workspace for session %s", sessionID)
	}

	if sess.devServer != nil {
		s.terminateChild(sess.devServer.child)
		s.untrack(sess, sess.devServer.child)
		sess.devServer = nil
	}

	port, err := s.allocatedOrProbedPort(sess)
	if err != nil {
		return "", 0, err
	}

	child, boundPort, err := s.spawnDevServerRetrying(sess, command, port)
	if err != nil {
		return "", 0, err
	}

	if err := s.waitReady(ctx, boundPort); err != nil {
		s.terminateChild(child)
		s.untrack(sess, child)
		return "", 0, fmt.Errorf("sandbox: dev server failed readiness probe: %w", err)
	}

	sess.portMu.Lock()
	sess.port = boundPort
	sess.portMu.Unlock()
	sess.devServer = &devServerState{child: child}

	logging.Logger.Info().Str("session", sessionID).Int("port", boundPort).Msg("sandbox: dev server ready")
	return s.PreviewURLFor(boundPort), boundPort, nil
}

// spawnDevServerRetrying spawns command with port exposed via the PORT
// environment variable. Before each attempt it re-checks the port and moves
// to a freshly probed one if the port is already bound; it retries, up to
// maxPortBindAttempts, only when the child fails to start. A child that
// starts but then cannot bind its port is not detected here and is not
// retried on another port; StartDevServer reports it as a readiness-probe
// failure.
func (s *Supervisor) spawnDevServerRetrying(sess *session, command string, hintPort int) (*trackedChild, int, error) {
	port := hintPort
	var lastErr error
	for attempt := 0; attempt < maxPortBindAttempts; attempt++ {
		if !portFree(port) {
			var err error
			port, err = s.probeFreePort()
			if err != nil {
				return nil, 0, err
			}
		}

		cmd := exec.Command("sh", "-c", command)
		cmd.Dir = sess.workspaceRoot
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port))

		child, err := s.spawnGrouped(sess, "dev-server", cmd)
		if err != nil {
			lastErr = err
			port = 0
			continue
		}
		return child, port, nil
	}
	return nil, 0, fmt.Errorf("sandbox: could not bind a dev-server port after %d attempts: %w", maxPortBindAttempts, lastErr)
}

// allocatedOrProbedPort reuses the session's already-allocated port if one
// exists, otherwise probes the configured range for a free one.
func (s *Supervisor) allocatedOrProbedPort(sess *session) (int, error) {
	sess.portMu.Lock()
	existing := sess.port
	sess.portMu.Unlock()
	if existing != 0 {
		return existing, nil
	}
	return s.probeFreePort()
}

// probeFreePort scans the configured range for a port nothing is currently
// listening on. This is a hint, not a reservation: spawnDevServerRetrying
// re-checks it immediately before each spawn.
func (s *Supervisor) probeFreePort() (int, error) {
	for port := s.config.PortRangeStart; port <= s.config.PortRangeEnd; port++ {
		if portFree(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("sandbox: no free port in range [%d, %d]", s.config.PortRangeStart, s.config.PortRangeEnd)
}

func portFree(port int) bool {
	if port == 0 {
		return false
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// waitReady HTTP-probes the dev server until it answers or the configured
// timeout elapses, using exponential backoff with jitter (the same
// github.com/cenkalti/backoff/v4 retry style internal/session's
// reasoning-model transport uses) rather than a fixed sleep, per spec.md
// §4.6.
func (s *Supervisor) waitReady(ctx context.Context, port int) error {
	timeout := time.Duration(s.config.DevServerReadyTimeoutSeconds) * time.Second
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	client := &http.Client{Timeout: 2 * time.Second}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.3

	op := func() error {
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(b, probeCtx))
}

// PreviewURLFor derives a preview URL from a bound port and the configured
// public base.
func (s *Supervisor) PreviewURLFor(port int) string {
	base := strings.TrimSuffix(s.config.PreviewBaseURL, "/")
	return fmt.Sprintf("%s:%d", base, port)
}

// PreviewURL returns the session's current preview URL, if a dev server has
// ever been successfully started for it.
func (s *Supervisor) PreviewURL(sessionID string) (string, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	sess.portMu.Lock()
	port := sess.port
	sess.portMu.Unlock()
	if port == 0 {
		return "", false
	}
	return s.PreviewURLFor(port), true
}

// StopDevServer terminates the session's dev-server child, if any, without
// tearing down the rest of the session.
func (s *Supervisor) StopDevServer(sessionID string) error {
	sess := s.sessionFor(sessionID)
	if sess.devServer == nil {
		return nil
	}
	s.terminateChild(sess.devServer.child)
	s.untrack(sess, sess.devServer.child)
	sess.devServer = nil
	return nil
}
