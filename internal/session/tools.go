package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgesmith/buildrunner/internal/event"
	"github.com/forgesmith/buildrunner/internal/hook"
	"github.com/forgesmith/buildrunner/internal/logging"
	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/forgesmith/buildrunner/internal/tool"
	"github.com/forgesmith/buildrunner/pkg/types"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// executeToolCalls executes all pending tool calls in the state.
func (p *Processor) executeToolCalls(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	// Find all running tool parts
	var pendingTools []*types.ToolPart
	for _, part := range state.parts {
		if toolPart, ok := part.(*types.ToolPart); ok {
			if toolPart.State == string(ToolStateRunning) {
				pendingTools = append(pendingTools, toolPart)
			}
		}
	}

	// Execute each tool
	for _, toolPart := range pendingTools {
		err := p.executeSingleTool(ctx, state, agent, toolPart, callback)
		if err != nil {
			// Error is captured in tool part, don't stop processing
			continue
		}
		if state.terminalErr != nil {
			// A post-hook (e.g. the build-failure bound of spec.md §9) ended
			// the turn; stop running further pending tool calls.
			return state.terminalErr
		}
	}

	return nil
}

// executeSingleTool executes a single tool call.
func (p *Processor) executeSingleTool(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
	callback ProcessCallback,
) error {
	// Get the tool from registry
	t, ok := p.toolRegistry.Get(toolPart.ToolName)
	if !ok {
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("Tool not found: %s", toolPart.ToolName))
	}

	// Prepare input JSON
	inputJSON, err := json.Marshal(toolPart.Input)
	if err != nil {
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("Failed to marshal input: %v", err))
	}

	call := p.buildCall(state, toolPart, inputJSON)

	// Policy Gate: shell denylist, path containment, sensitive files, review
	// gate, port bounds. A denial here is final — no per-agent override.
	if decision := p.gateDecide(call); decision != nil && !decision.Allow {
		p.publishPolicyDenied(state, toolPart, decision.Reason, decision.Detail)
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("denied by policy: %s (%s)", decision.Reason, decision.Detail))
	}

	// Hook Pipeline pre-hooks: audit log, redundant path validation, doom loop.
	if p.hooks != nil {
		if decision := p.hooks.RunPre(ctx, call); decision != nil && !decision.Allow {
			p.publishPolicyDenied(state, toolPart, decision.Reason, decision.Detail)
			return p.failTool(ctx, state, toolPart, callback,
				fmt.Sprintf("denied by hook: %s (%s)", decision.Reason, decision.Detail))
		}
	}

	// Create tool context
	abortCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abortCh)
	}()

	toolCtx := &tool.Context{
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Agent:     agent.Name,
		WorkDir:   state.workspaceRoot,
		AbortCh:   abortCh,
		Extra: map[string]any{
			"model": state.message.ModelID,
		},
	}

	// Set metadata callback for real-time updates
	toolCtx.OnMetadata = func(title string, meta map[string]any) {
		toolPart.Title = &title
		if toolPart.Metadata == nil {
			toolPart.Metadata = make(map[string]any)
		}
		for k, v := range meta {
			toolPart.Metadata[k] = v
		}

		// Publish event (SDK compatible: uses MessagePartUpdated)
		event.PublishSync(event.Event{
			Type: event.MessagePartUpdated,
			Data: event.MessagePartUpdatedData{
				Part: toolPart,
			},
		})

		callback(state.message, state.parts)
	}

	// Execute tool
	result, err := t.Execute(ctx, inputJSON, toolCtx)
	if err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	// Update tool part with result
	now := time.Now().UnixMilli()
	toolPart.State = string(ToolStateCompleted)
	toolPart.Output = &result.Output
	toolPart.Title = &result.Title
	toolPart.Time.End = &now

	if result.Metadata != nil {
		if toolPart.Metadata == nil {
			toolPart.Metadata = make(map[string]any)
		}
		for k, v := range result.Metadata {
			toolPart.Metadata[k] = v
		}
	}

	// Handle attachments - convert to types.FilePart
	if len(result.Attachments) > 0 {
		toolPart.Attachments = make([]types.FilePart, len(result.Attachments))
		for i, att := range result.Attachments {
			toolPart.Attachments[i] = types.FilePart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "file",
				Filename:  att.Filename,
				MediaType: att.MediaType,
				URL:       att.URL,
			}
		}
	}

	// Record diff for edit-like tools when metadata contains before/after
	p.recordDiff(state, toolPart)

	// Hook Pipeline post-hooks: build-failure self-correction, review
	// invalidation, planning tracking. Runs even though the tool call itself
	// succeeded (Go-level err == nil) — failure here means the command the
	// model ran reported a non-zero exit, not that Execute returned an error.
	if p.hooks != nil {
		postCall := call
		postCall.Output = result.Output
		postCall.IsError = false
		if exit, ok := result.Metadata["exit"].(int); ok {
			postCall.HasExit = true
			postCall.ExitCode = exit
		}
		p.applyHookEffects(ctx, state, p.hooks.RunPost(ctx, postCall))
	}

	// start-dev-server allocates (or reuses) a port on the Sandbox
	// Supervisor, which tracks it only in its own in-memory state; persist
	// it onto the session record here so the Connection Manager's preview
	// URL derivation (which reads types.Session.AllocatedPort) sees it too.
	if strings.EqualFold(toolPart.ToolName, "start-dev-server") {
		if port, ok := result.Metadata["port"].(int); ok {
			p.persistAllocatedPort(state.message.SessionID, port)
		}
	}

	// Save updated part
	p.savePart(ctx, state.message.ID, toolPart)

	// Publish event (SDK compatible: uses MessagePartUpdated)
	event.PublishSync(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{
			Part: toolPart,
		},
	})

	callback(state.message, state.parts)
	return nil
}

// failTool marks a tool as failed with an error.
func (p *Processor) failTool(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
	callback ProcessCallback,
	errMsg string,
) error {
	now := time.Now().UnixMilli()
	toolPart.State = string(ToolStateError)
	toolPart.Error = &errMsg
	toolPart.Time.End = &now

	p.savePart(ctx, state.message.ID, toolPart)

	// Publish event (SDK compatible: uses MessagePartUpdated)
	event.PublishSync(event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{
			Part: toolPart,
		},
	})

	callback(state.message, state.parts)
	return errors.New(errMsg)
}

// buildCall derives the Policy Gate / Hook Pipeline call descriptor for a
// tool invocation from the tool name and its input arguments. Tool-family
// matching is case-insensitive since the Tool Surface's registered IDs are
// not uniformly cased (e.g. "bash" vs "Write").
func (p *Processor) buildCall(state *sessionState, toolPart *types.ToolPart, inputJSON json.RawMessage) hook.Call {
	call := hook.Call{
		SessionID:     state.message.SessionID,
		CallID:        toolPart.ToolCallID,
		ToolName:      toolPart.ToolName,
		Input:         inputJSON,
		WorkspaceRoot: state.workspaceRoot,
		ReviewState:   state.reviewState,
	}

	switch {
	case strings.EqualFold(toolPart.ToolName, "bash"):
		if cmd, ok := toolPart.Input["command"].(string); ok {
			call.Command = cmd
		}

	case strings.EqualFold(toolPart.ToolName, "write"), strings.EqualFold(toolPart.ToolName, "edit"):
		if path, ok := toolPart.Input["filePath"].(string); ok {
			call.RawPath = path
		}
		call.Mutated = true

	case strings.EqualFold(toolPart.ToolName, "start-dev-server"):
		call.IsStartDevServer = true
		if port, ok := toolPart.Input["port"].(float64); ok {
			call.HasPort = true
			call.Port = int(port)
		}

	case strings.EqualFold(toolPart.ToolName, "glob"), strings.EqualFold(toolPart.ToolName, "grep"),
		strings.EqualFold(toolPart.ToolName, "read"), strings.EqualFold(toolPart.ToolName, "list"):
		call.PlanningSignal = true
	}

	return call
}

// gateDecide runs the Policy Gate, returning nil when no gate is configured
// (unit tests exercising tool execution without wiring C3).
func (p *Processor) gateDecide(call hook.Call) *policy.Decision {
	if p.gate == nil {
		return nil
	}
	decision := p.gate.Decide(call.ToPolicyCall())
	return &decision
}

// publishPolicyDenied notifies subscribers (the connection manager's UI
// stream) that a tool call was refused. There is no interactive reply to
// this event; the denial already happened.
func (p *Processor) publishPolicyDenied(state *sessionState, toolPart *types.ToolPart, reason, detail string) {
	event.PublishSync(event.Event{
		Type: event.PolicyDenied,
		Data: event.PolicyDeniedData{
			SessionID: state.message.SessionID,
			CallID:    toolPart.ToolCallID,
			ToolName:  toolPart.ToolName,
			Reason:    reason,
			Detail:    detail,
		},
	})
}

// applyHookEffects updates session-scoped state (review state, planning
// state, pending system-prompt notices) from a post-hook pass. The mutations
// are persisted to storage by the caller once the current step completes. A
// non-nil eff.TerminalError is recorded on state so executeToolCalls stops
// the turn instead of continuing the agentic loop.
func (p *Processor) applyHookEffects(ctx context.Context, state *sessionState, eff hook.Effects) {
	changed := false
	if eff.TerminalError != nil {
		state.terminalErr = eff.TerminalError
	}
	if eff.ReviewState != nil {
		state.reviewState = *eff.ReviewState
		changed = true
	}
	if eff.AdvancePlanning {
		state.planningState = AdvancePlanning(state.planningState)
		changed = true
	}
	for _, msg := range eff.Messages {
		state.pendingNotices = append(state.pendingNotices, msg.Content)
	}
	if changed {
		event.PublishSync(event.Event{
			Type: event.SessionState,
			Data: event.SessionStateData{
				SessionID:     state.message.SessionID,
				ReviewState:   string(state.reviewState),
				PlanningState: string(state.planningState),
			},
		})
	}
}

// recordDiff captures file diffs from tool metadata and updates session summary/state.
func (p *Processor) recordDiff(state *sessionState, toolPart *types.ToolPart) error {
	if toolPart.Metadata == nil {
		toolPart.Metadata = make(map[string]any)
	}

	pathVal, ok := toolPart.Metadata["file"].(string)
	if !ok || pathVal == "" {
		return nil
	}

	before, okBefore := toolPart.Metadata["before"].(string)
	after, okAfter := toolPart.Metadata["after"].(string)
	if !okBefore || !okAfter {
		return nil
	}

	relPath := pathVal
	if state.workspaceRoot != "" {
		if rp, err := filepath.Rel(state.workspaceRoot, pathVal); err == nil {
			relPath = rp
		}
	}

	diffText, additions, deletions, err := computeDiff(before, after, relPath)
	if err != nil {
		return err
	}

	fileDiff := types.FileDiff{
		Path:      relPath,
		Additions: additions,
		Deletions: deletions,
		Before:    before,
		After:     after,
	}

	// Load session to update summary
	session, err := p.loadSession(state.message.SessionID)
	if err != nil {
		return err
	}

	// Replace existing diff for same path, then append
	var filtered []types.FileDiff
	for _, d := range session.Summary.Diffs {
		if d.Path != relPath {
			filtered = append(filtered, d)
		}
	}
	filtered = append(filtered, fileDiff)
	session.Summary.Diffs = filtered

	// Recompute summary totals
	adds, dels, files := 0, 0, len(session.Summary.Diffs)
	for _, d := range session.Summary.Diffs {
		adds += d.Additions
		dels += d.Deletions
	}
	session.Summary.Additions = adds
	session.Summary.Deletions = dels
	session.Summary.Files = files
	session.Time.Updated = time.Now().UnixMilli()

	if err := p.saveSession(session); err != nil {
		return err
	}

	// Publish updated session diff
	event.PublishSync(event.Event{
		Type: event.SessionDiff,
		Data: event.SessionDiffData{SessionID: session.ID, Diff: session.Summary.Diffs},
	})

	// Attach diff text to metadata for consumers
	toolPart.Metadata["diff"] = diffText
	return nil
}

func computeDiff(before, after, path string) (string, int, int, error) {
	dmp := diffmatchpatch.New()

	// Compute line-based diff for accurate line counting
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	// Count additions and deletions by lines
	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			lines := countLines(d.Text)
			additions += lines
		case diffmatchpatch.DiffDelete:
			lines := countLines(d.Text)
			deletions += lines
		}
	}

	// Generate proper unified diff text for display
	diffText := generateUnifiedDiff(diffs, path)

	return diffText, additions, deletions, nil
}

// countLines counts the number of lines in text
func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	// If text doesn't end with newline, count it as a line
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

// generateUnifiedDiff creates a proper unified diff format from diffs with context lines
func generateUnifiedDiff(diffs []diffmatchpatch.Diff, path string) string {
	if len(diffs) == 0 {
		return ""
	}

	// Check if there are any actual changes
	hasChanges := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return ""
	}

	// Convert diffs to lines with their types
	type diffLine struct {
		text     string
		diffType diffmatchpatch.Operation
	}
	var allLines []diffLine

	for _, d := range diffs {
		text := d.Text
		lines := strings.Split(text, "\n")
		// Handle trailing newline - if text ends with \n, the last split element is empty
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			allLines = append(allLines, diffLine{text: line, diffType: d.Type})
		}
	}

	// Find ranges of changes with context (3 lines before and after)
	const contextLines = 3
	type hunk struct {
		startOld, countOld int
		startNew, countNew int
		lines              []diffLine
	}

	var hunks []hunk
	var currentHunk *hunk
	oldLineNum := 1
	newLineNum := 1

	for i, line := range allLines {
		isChange := line.diffType != diffmatchpatch.DiffEqual

		if isChange {
			// Start a new hunk or extend current one
			if currentHunk == nil {
				// Calculate start positions including context
				contextStart := i - contextLines
				if contextStart < 0 {
					contextStart = 0
				}

				// Calculate old/new line numbers at context start
				startOld := 1
				startNew := 1
				for j := 0; j < contextStart; j++ {
					switch allLines[j].diffType {
					case diffmatchpatch.DiffEqual:
						startOld++
						startNew++
					case diffmatchpatch.DiffDelete:
						startOld++
					case diffmatchpatch.DiffInsert:
						startNew++
					}
				}

				currentHunk = &hunk{
					startOld: startOld,
					startNew: startNew,
				}

				// Add context lines before the change
				for j := contextStart; j < i; j++ {
					currentHunk.lines = append(currentHunk.lines, allLines[j])
				}
			}
			currentHunk.lines = append(currentHunk.lines, line)
		} else if currentHunk != nil {
			// Check if we should end the hunk or continue with context
			// Look ahead to see if there's another change within context range
			nextChangeIdx := -1
			for j := i + 1; j < len(allLines) && j <= i+contextLines*2; j++ {
				if allLines[j].diffType != diffmatchpatch.DiffEqual {
					nextChangeIdx = j
					break
				}
			}

			if nextChangeIdx != -1 && nextChangeIdx <= i+contextLines*2 {
				// Another change is close, include this line and continue
				currentHunk.lines = append(currentHunk.lines, line)
			} else {
				// Add remaining context lines and close hunk
				for j := i; j < len(allLines) && j < i+contextLines; j++ {
					if allLines[j].diffType == diffmatchpatch.DiffEqual {
						currentHunk.lines = append(currentHunk.lines, allLines[j])
					} else {
						break
					}
				}

				// Calculate counts
				for _, l := range currentHunk.lines {
					switch l.diffType {
					case diffmatchpatch.DiffEqual:
						currentHunk.countOld++
						currentHunk.countNew++
					case diffmatchpatch.DiffDelete:
						currentHunk.countOld++
					case diffmatchpatch.DiffInsert:
						currentHunk.countNew++
					}
				}

				hunks = append(hunks, *currentHunk)
				currentHunk = nil
			}
		}

		// Track line numbers
		switch line.diffType {
		case diffmatchpatch.DiffEqual:
			oldLineNum++
			newLineNum++
		case diffmatchpatch.DiffDelete:
			oldLineNum++
		case diffmatchpatch.DiffInsert:
			newLineNum++
		}
	}

	// Close any remaining hunk
	if currentHunk != nil {
		for _, l := range currentHunk.lines {
			switch l.diffType {
			case diffmatchpatch.DiffEqual:
				currentHunk.countOld++
				currentHunk.countNew++
			case diffmatchpatch.DiffDelete:
				currentHunk.countOld++
			case diffmatchpatch.DiffInsert:
				currentHunk.countNew++
			}
		}
		hunks = append(hunks, *currentHunk)
	}

	// Build output
	var buf strings.Builder

	// Write file headers
	buf.WriteString("Index: ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("===================================================================\n")
	buf.WriteString("--- ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("+++ ")
	buf.WriteString(path)
	buf.WriteString("\n")

	// Write each hunk
	for _, h := range hunks {
		buf.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", h.startOld, h.countOld, h.startNew, h.countNew))
		for _, line := range h.lines {
			switch line.diffType {
			case diffmatchpatch.DiffEqual:
				buf.WriteString(" ")
			case diffmatchpatch.DiffDelete:
				buf.WriteString("-")
			case diffmatchpatch.DiffInsert:
				buf.WriteString("+")
			}
			buf.WriteString(line.text)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func (p *Processor) loadSession(sessionID string) (*types.Session, error) {
	projects, err := p.storage.List(context.Background(), []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := p.storage.Get(context.Background(), []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

func (p *Processor) saveSession(session *types.Session) error {
	return p.storage.Put(context.Background(), []string{"session", session.ProjectID, session.ID}, session)
}

// persistAllocatedPort records a dev-server port on the session record. Best
// effort: a failure here does not fail the tool call, since the port is
// also held live by the Sandbox Supervisor for the duration of the process.
func (p *Processor) persistAllocatedPort(sessionID string, port int) {
	sess, err := p.loadSession(sessionID)
	if err != nil {
		return
	}
	sess.AllocatedPort = port
	if err := p.saveSession(sess); err != nil {
		logging.Logger.Warn().Err(err).Str("session", sessionID).Msg("failed to persist allocated port")
	}
}

// ToolState represents the current state of tool execution.
type ToolState string

const (
	ToolStatePending   ToolState = "pending"
	ToolStateRunning   ToolState = "running"
	ToolStateCompleted ToolState = "completed"
	ToolStateError     ToolState = "error"
)
