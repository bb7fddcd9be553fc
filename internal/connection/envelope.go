package connection

import "encoding/json"

// EnvelopeType is the tagged-union discriminant for server-to-client
// envelopes, per spec.md §6.
type EnvelopeType string

const (
	EnvelopeConnection EnvelopeType = "connection"
	EnvelopeText       EnvelopeType = "text"
	EnvelopeToolUse    EnvelopeType = "tool_use"
	EnvelopeToolResult EnvelopeType = "tool_result"
	EnvelopeDone       EnvelopeType = "done"
	EnvelopeError      EnvelopeType = "error"
	EnvelopePong       EnvelopeType = "pong"
)

// Envelope is a single server-to-client message on the channel. Fields are
// optional per type; only the type's documented subset is populated.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// connection
	SessionID string `json:"session_id,omitempty"`

	// text
	Content string `json:"content,omitempty"`

	// tool_use
	Tool  string `json:"tool,omitempty"`
	Input any    `json:"input,omitempty"`
	ID    string `json:"id,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Result    any    `json:"result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// done
	PreviewURL *string  `json:"preview_url,omitempty"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
	NumTurns   *int     `json:"num_turns,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func connectionEnvelope(sessionID string) Envelope {
	return Envelope{Type: EnvelopeConnection, SessionID: sessionID}
}

func textEnvelope(content string) Envelope {
	return Envelope{Type: EnvelopeText, Content: content}
}

func toolUseEnvelope(id, tool string, input any) Envelope {
	return Envelope{Type: EnvelopeToolUse, ID: id, Tool: tool, Input: input}
}

func toolResultEnvelope(toolUseID string, result any, isError bool) Envelope {
	return Envelope{Type: EnvelopeToolResult, ToolUseID: toolUseID, Result: result, IsError: isError}
}

func doneEnvelope(previewURL *string, costUSD *float64, durationMS int64, numTurns int) Envelope {
	return Envelope{
		Type:       EnvelopeDone,
		PreviewURL: previewURL,
		CostUSD:    costUSD,
		DurationMS: &durationMS,
		NumTurns:   &numTurns,
	}
}

func errorEnvelope(reason string) Envelope {
	return Envelope{Type: EnvelopeError, Message: reason}
}

var pongEnvelope = Envelope{Type: EnvelopePong}

// ClientMessageType is the discriminant for client-to-server messages.
type ClientMessageType string

const (
	ClientChat  ClientMessageType = "chat"
	ClientPing  ClientMessageType = "ping"
	ClientReset ClientMessageType = "reset"
)

// ClientMessage is an inbound message from the channel.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Message string            `json:"message,omitempty"`
}

// ParseClientMessage decodes a raw frame into a ClientMessage.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
