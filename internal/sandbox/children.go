package sandbox

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/forgesmith/buildrunner/internal/logging"
)

// trackedChild is one background process spawned on behalf of a session,
// tracked so Teardown (or a dev-server restart) can signal its whole
// process group at once. Mirrors spec.md §4's Child Process entity:
// process-group identifier (via cmd.Process.Pid, the group leader),
// command string, and originating tool-call id.
type trackedChild struct {
	cmd     *exec.Cmd
	label   string
	callID  string
	command string
}

// SpawnBackground starts command as a tracked background child of the
// session's workspace, implementing the Shell tool's "background" flag
// (spec.md §4.3: "background commands registered as Child Processes").
func (s *Supervisor) SpawnBackground(sessionID, callID, command string) error {
	sess := s.sessionFor(sessionID)
	if sess.workspaceRoot == "" {
		return fmt.Errorf("sandbox: no workspace for session %s", sessionID)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = sess.workspaceRoot

	tc, err := s.spawnGrouped(sess, "background", cmd)
	if err != nil {
		return err
	}
	tc.callID = callID
	tc.command = command
	return nil
}

// spawnGrouped starts cmd in its own process group (spec.md §4.6: "every
// background shell invocation spawns the child in a new process group"),
// matching internal/tool's BashTool, and registers it with the session's
// tracked-children set.
func (s *Supervisor) spawnGrouped(sess *session, label string, cmd *exec.Cmd) (*trackedChild, error) {
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	tc := &trackedChild{cmd: cmd, label: label}
	sess.childrenMu.Lock()
	sess.children = append(sess.children, tc)
	sess.childrenMu.Unlock()
	return tc, nil
}

// untrack removes a child from the session's tracked set without signalling
// it, for callers (StopDevServer, a dev-server restart) that terminate it
// through a more specific handle and don't want Teardown to double-signal
// an already-reaped process.
func (s *Supervisor) untrack(sess *session, tc *trackedChild) {
	sess.childrenMu.Lock()
	defer sess.childrenMu.Unlock()
	for i, c := range sess.children {
		if c == tc {
			sess.children = append(sess.children[:i], sess.children[i+1:]...)
			return
		}
	}
}

// terminateChild signals one tracked child's process group, escalating
// from terminate to kill after the configured grace period.
func (s *Supervisor) terminateChild(tc *trackedChild) {
	if tc.cmd.Process == nil {
		return
	}
	pid := tc.cmd.Process.Pid
	grace := time.Duration(s.config.ChildProcessGraceSeconds) * time.Second

	if runtime.GOOS == "windows" {
		_ = exec.Command("taskkill", "/pid", fmt.Sprint(pid), "/f", "/t").Run()
		return
	}

	_ = syscall.Kill(-pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = tc.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
	}
}

// terminateAllChildren implements the group-kill half of Teardown: every
// tracked child is signalled, the grace period awaited once collectively
// rather than serially, then the set is cleared.
func (s *Supervisor) terminateAllChildren(sess *session) {
	sess.childrenMu.Lock()
	children := sess.children
	sess.children = nil
	sess.childrenMu.Unlock()

	var wg sync.WaitGroup
	for _, tc := range children {
		wg.Add(1)
		go func(tc *trackedChild) {
			defer wg.Done()
			s.terminateChild(tc)
		}(tc)
	}
	wg.Wait()

	if len(children) > 0 {
		logging.Logger.Debug().Int("count", len(children)).Msg("sandbox: terminated tracked children")
	}
}
