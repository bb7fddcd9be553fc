package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/session"
	"github.com/forgesmith/buildrunner/pkg/types"
)

// Kind enumerates the Connection Manager's own error surfaces, per
// spec.md §7. These are distinct from the Policy Gate's policy.Reason and
// the Hook Pipeline's hook.Effect — they describe failures of the channel
// and turn protocol itself, not of a tool call.
type Kind string

const (
	KindInitError Kind = "InitError"
	KindTimeout   Kind = "Timeout"
	KindBusy      Kind = "Busy"
	KindBroken    Kind = "Broken"
)

// Sender is the outbound half of a channel: anything that can deliver
// envelopes to the connected client in order. Transport implementations
// (transport.go) satisfy this; tests can substitute a recording fake.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
	Close(reason string) error
}

// DefaultReconnectGraceSeconds and DefaultTurnTimeoutSeconds apply when
// ConnectionConfig leaves a field unset.
const (
	DefaultReconnectGraceSeconds = 30
	DefaultTurnTimeoutSeconds    = 300
)

// entry is the Manager's per-session binding: the live channel, the
// session's own agent configuration, and the turn token enforcing
// spec.md §4.1's non-blocking, non-queueing turn lock.
type entry struct {
	sessionID string
	agent     *session.Agent

	// turnToken is a capacity-1 channel used as a non-blocking mutex. A
	// chat message must receive from it without blocking (select/default)
	// to acquire the turn; it returns the token on completion.
	turnToken chan struct{}

	// sentConnection is true once the connection envelope has been written for this
	// binding's lifetime, satisfying the "connection envelope must precede
	// any model envelope" ordering rule on first turn only.
	sentConnection bool

	// sendMu serializes outbound writes per spec.md §5's per-session send
	// lock: streaming text, tool envelopes, and pong replies must not
	// interleave their bytes on the wire.
	sendMu sync.Mutex
	sender Sender

	// broken marks a session whose reset failed; all subsequent operations
	// return KindBroken until the session is discarded.
	broken bool

	// teardownTimer, when non-nil, is a scheduled graceful teardown armed by
	// Disconnect(graceful=true); Connect with reconnect=true cancels it.
	teardownTimer *time.Timer
	teardownMu    sync.Mutex
}

// Manager is the Connection Manager (C6): it owns the session table and
// mediates every channel's connect/receive/disconnect lifecycle.
type Manager struct {
	svc    *session.Service
	config types.ConnectionConfig

	// previewBaseURL is the Sandbox Supervisor's (C1) configured public host
	// template (types.SandboxConfig.PreviewBaseURL) used to derive the
	// preview URL embedded in the terminal done envelope.
	previewBaseURL string

	mu      sync.Mutex // table lock: guards entries map only
	entries map[string]*entry
}

// NewManager constructs a Connection Manager bound to the given session
// service (which owns the agentic loop, Policy Gate, and Hook Pipeline).
func NewManager(svc *session.Service, cfg types.ConnectionConfig, previewBaseURL string) *Manager {
	if cfg.ReconnectGraceSeconds <= 0 {
		cfg.ReconnectGraceSeconds = DefaultReconnectGraceSeconds
	}
	if cfg.TurnTimeoutSeconds <= 0 {
		cfg.TurnTimeoutSeconds = DefaultTurnTimeoutSeconds
	}
	if previewBaseURL == "" {
		previewBaseURL = "http://localhost"
	}
	return &Manager{
		svc:            svc,
		config:         cfg,
		previewBaseURL: previewBaseURL,
		entries:        make(map[string]*entry),
	}
}

// Connect binds sender to sessionID. If reconnect is true and a scheduled
// teardown exists for this session, it is cancelled and the existing
// binding's state (turn token, agent) is reused; the connection envelope is
// re-sent since it is per-channel, not per-session. Otherwise a fresh
// binding is constructed, lazily creating the session record if needed.
func (m *Manager) Connect(ctx context.Context, sender Sender, sessionID string, reconnect bool) error {
	m.mu.Lock()
	e, exists := m.entries[sessionID]
	if exists && reconnect {
		e.cancelScheduledTeardown()
		e.sender = sender
		m.mu.Unlock()
	} else {
		if exists {
			// A non-reconnect connect on an already-bound session replaces
			// the binding outright; the old channel is presumed dead.
			e.cancelScheduledTeardown()
		}
		e = &entry{
			sessionID: sessionID,
			agent:     session.DefaultAgent(),
			turnToken: make(chan struct{}, 1),
			sender:    sender,
		}
		e.turnToken <- struct{}{} // token starts available
		m.entries[sessionID] = e
		m.mu.Unlock()

		if _, err := m.svc.Get(ctx, sessionID); err != nil {
			if _, err := m.svc.CreateWithID(ctx, sessionID, "", ""); err != nil {
				logging.Logger.Error().Err(err).Str("session", sessionID).Msg("connection: session init failed")
				return fmt.Errorf("%s: %w", KindInitError, err)
			}
		}
	}

	logging.Logger.Debug().Str("session", sessionID).Bool("reconnect", reconnect).Msg("connection: connected")

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := e.sender.Send(ctx, connectionEnvelope(sessionID)); err != nil {
		return err
	}
	e.sentConnection = true
	return nil
}

// Receive routes an inbound client message.
func (m *Manager) Receive(ctx context.Context, sessionID string, msg ClientMessage) error {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection: unknown session %s", sessionID)
	}

	if e.broken {
		return m.sendError(ctx, e, "session is broken; discard and reconnect")
	}

	switch msg.Type {
	case ClientPing:
		return m.send(ctx, e, pongEnvelope)
	case ClientChat:
		return m.handleChat(ctx, e, msg.Message)
	case ClientReset:
		return m.handleReset(ctx, e)
	default:
		return m.sendError(ctx, e, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// Disconnect unbinds sessionID. If graceful, teardown is scheduled after the
// configured grace window (cancelled by a reconnecting Connect); otherwise
// the binding is torn down immediately.
func (m *Manager) Disconnect(sessionID string, graceful bool) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if !graceful {
		m.teardown(sessionID)
		return
	}

	grace := time.Duration(m.config.ReconnectGraceSeconds) * time.Second
	e.teardownMu.Lock()
	e.teardownTimer = time.AfterFunc(grace, func() { m.teardown(sessionID) })
	e.teardownMu.Unlock()
	logging.Logger.Debug().Str("session", sessionID).Dur("grace", grace).Msg("connection: teardown scheduled")
}

func (e *entry) cancelScheduledTeardown() {
	e.teardownMu.Lock()
	defer e.teardownMu.Unlock()
	if e.teardownTimer != nil {
		e.teardownTimer.Stop()
		e.teardownTimer = nil
	}
}

func (m *Manager) teardown(sessionID string) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	if ok {
		delete(m.entries, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.sendMu.Lock()
	_ = e.sender.Close("session teardown")
	e.sendMu.Unlock()
	logging.Logger.Debug().Str("session", sessionID).Msg("connection: torn down")
}

// handleChat implements the turn protocol of spec.md §4.1: non-blocking
// lock acquisition, connection-envelope-first ordering, timeout-bounded
// streaming, and lock release on every exit path.
func (m *Manager) handleChat(ctx context.Context, e *entry, text string) error {
	select {
	case <-e.turnToken:
	default:
		return m.sendError(ctx, e, "a turn is already in flight for this session")
	}
	defer func() { e.turnToken <- struct{}{} }()

	turnCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.TurnTimeoutSeconds)*time.Second)
	defer cancel()

	sess, err := m.svc.Get(turnCtx, e.sessionID)
	if err != nil {
		return m.sendError(ctx, e, fmt.Sprintf("%s: %v", KindInitError, err))
	}

	start := time.Now()
	turns := 0
	tracker := newTurnTracker()

	_, _, err = m.svc.ProcessMessage(turnCtx, sess, text, nil, func(msg *types.Message, parts []types.Part) {
		turns++
		for _, part := range parts {
			for _, env := range tracker.diff(part) {
				if sendErr := m.send(ctx, e, env); sendErr != nil {
					logging.Logger.Warn().Err(sendErr).Str("session", e.sessionID).Msg("connection: envelope send failed mid-turn")
				}
			}
		}
	})

	if err != nil {
		if turnCtx.Err() == context.DeadlineExceeded {
			return m.sendError(ctx, e, fmt.Sprintf("%s: turn exceeded %ds", KindTimeout, m.config.TurnTimeoutSeconds))
		}
		return m.sendError(ctx, e, err.Error())
	}

	previewURL := m.previewURLFor(sess)
	durationMS := time.Since(start).Milliseconds()
	return m.send(ctx, e, doneEnvelope(previewURL, nil, durationMS, turns))
}

// turnTracker maps the Agent Session's envelope-mapping table (spec.md
// §4.2) onto the processor's accumulate-and-replay callback, which hands
// the full part list on every invocation rather than a delta. It remembers,
// per part ID, how much text has already gone out and which tool state was
// last reported, so diff() yields only the new envelopes for this call.
type turnTracker struct {
	textSent map[string]int
	toolSent map[string]string
}

func newTurnTracker() *turnTracker {
	return &turnTracker{
		textSent: make(map[string]int),
		toolSent: make(map[string]string),
	}
}

// diff returns the envelopes that have not yet been emitted for part.
func (t *turnTracker) diff(part types.Part) []Envelope {
	switch p := part.(type) {
	case *types.TextPart:
		sent := t.textSent[p.ID]
		if len(p.Text) <= sent {
			return nil
		}
		delta := p.Text[sent:]
		t.textSent[p.ID] = len(p.Text)
		return []Envelope{textEnvelope(delta)}
	case *types.ToolPart:
		if t.toolSent[p.ID] == p.State {
			return nil
		}
		prev := t.toolSent[p.ID]
		t.toolSent[p.ID] = p.State
		return toolEnvelopesFor(prev, p)
	default:
		return nil
	}
}

// toolEnvelopesFor maps a tool part's state transition onto wire envelopes.
// A part moving straight from absent to completed/error (no intervening
// "running" observation) still emits tool_use before tool_result so the
// client always sees the call before its outcome.
func toolEnvelopesFor(prevState string, p *types.ToolPart) []Envelope {
	var envs []Envelope
	terminal := p.State == "completed" || p.State == "error"
	if prevState == "" && terminal {
		envs = append(envs, toolUseEnvelope(p.ToolCallID, p.ToolName, p.Input))
	} else if prevState == "" {
		envs = append(envs, toolUseEnvelope(p.ToolCallID, p.ToolName, p.Input))
		return envs
	}

	switch {
	case p.State == "error":
		msg := ""
		if p.Error != nil {
			msg = *p.Error
		}
		envs = append(envs, toolResultEnvelope(p.ToolCallID, msg, true))
	case p.State == "completed":
		var result any
		if p.Output != nil {
			result = *p.Output
		}
		envs = append(envs, toolResultEnvelope(p.ToolCallID, result, false))
	}
	return envs
}

// handleReset handles a reset request. It is rejected while a turn holds the
// lock (no preempt); otherwise it clears the session's review state, planning
// state and allocated port. It does not stop the session's child processes
// and does not rebuild the agent session or the workspace.
func (m *Manager) handleReset(ctx context.Context, e *entry) error {
	select {
	case <-e.turnToken:
	default:
		return m.sendError(ctx, e, "reset rejected: a turn is in flight")
	}
	defer func() { e.turnToken <- struct{}{} }()

	updates := map[string]any{
		"reviewState":   "",
		"planningState": "",
		"allocatedPort": 0,
	}
	if _, err := m.svc.Update(ctx, e.sessionID, updates); err != nil {
		e.broken = true
		return m.sendError(ctx, e, fmt.Sprintf("%s: reset failed: %v", KindBroken, err))
	}

	logging.Logger.Info().Str("session", e.sessionID).Msg("connection: session reset")
	return nil
}

func (m *Manager) send(ctx context.Context, e *entry, env Envelope) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.sender.Send(ctx, env)
}

func (m *Manager) sendError(ctx context.Context, e *entry, reason string) error {
	return m.send(ctx, e, errorEnvelope(reason))
}

// previewURLFor derives the preview URL embedded in the terminal done
// envelope from the session's allocated port (Sandbox Supervisor, C1). Nil
// until a dev server has actually been started for this session.
func (m *Manager) previewURLFor(sess *types.Session) *string {
	if sess.AllocatedPort == 0 {
		return nil
	}
	url := fmt.Sprintf("%s:%d", m.previewBaseURL, sess.AllocatedPort)
	return &url
}
