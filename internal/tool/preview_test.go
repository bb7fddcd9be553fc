package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeDevServerController struct {
	startErr    error
	startedURL  string
	startedPort int
	previewURL  string
	previewOK   bool
	gotSession  string
	gotCommand  string
}

func (f *fakeDevServerController) StartDevServer(ctx context.Context, sessionID, command string) (string, int, error) {
	f.gotSession = sessionID
	f.gotCommand = command
	if f.startErr != nil {
		return "", 0, f.startErr
	}
	return f.startedURL, f.startedPort, nil
}

func (f *fakeDevServerController) PreviewURL(sessionID string) (string, bool) {
	return f.previewURL, f.previewOK
}

func TestGetPreviewURLTool_ReturnsURLWhenRunning(t *testing.T) {
	fake := &fakeDevServerController{previewURL: "http://localhost:30001", previewOK: true}
	tool := NewGetPreviewURLTool(fake)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`), testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "http://localhost:30001" {
		t.Errorf("expected preview URL in output, got %q", result.Output)
	}
}

func TestGetPreviewURLTool_NoneRunning(t *testing.T) {
	fake := &fakeDevServerController{previewOK: false}
	tool := NewGetPreviewURLTool(fake)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`), testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output == "" {
		t.Error("expected a non-empty explanatory message when no dev server is running")
	}
}

func TestGetPreviewURLTool_NoSessionErrors(t *testing.T) {
	fake := &fakeDevServerController{}
	tool := NewGetPreviewURLTool(fake)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`), &Context{})
	if err == nil {
		t.Error("expected an error when no session is present in context")
	}
}

func TestStartDevServerTool_PassesCommandAndIgnoresPort(t *testing.T) {
	fake := &fakeDevServerController{startedURL: "http://localhost:30002", startedPort: 30002}
	tool := NewStartDevServerTool(fake)

	input := json.RawMessage(`{"command": "npm run dev", "port": 9999}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if fake.gotCommand != "npm run dev" {
		t.Errorf("expected command to be forwarded, got %q", fake.gotCommand)
	}
	if fake.gotSession != "test-session" {
		t.Errorf("expected session id to be forwarded, got %q", fake.gotSession)
	}
	if result.Output != "http://localhost:30002" {
		t.Errorf("expected preview URL in output, got %q", result.Output)
	}
	if result.Metadata["port"] != 30002 {
		t.Errorf("expected bound port in metadata, got %v", result.Metadata["port"])
	}
}

func TestStartDevServerTool_PropagatesSupervisorError(t *testing.T) {
	fake := &fakeDevServerController{startErr: errors.New("readiness probe failed")}
	tool := NewStartDevServerTool(fake)

	input := json.RawMessage(`{"command": "npm run dev"}`)
	_, err := tool.Execute(context.Background(), input, testContext())
	if err == nil {
		t.Error("expected the supervisor's error to propagate")
	}
}

func TestMarkSecurityReviewPassedTool_IsANoOpConfirmation(t *testing.T) {
	tool := NewMarkSecurityReviewPassedTool()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`), testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output == "" {
		t.Error("expected a confirmation message")
	}
}
