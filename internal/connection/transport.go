package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/forgesmith/buildrunner/internal/logging"
)

// wsReadLimit bounds a single inbound frame. Chat messages are user text;
// there is no legitimate reason for one to approach this.
const wsReadLimit = 1 << 20 // 1 MiB

// wsSender adapts a github.com/coder/websocket connection to the Sender
// interface the Manager writes envelopes through. Conventions (read limit,
// JSON text frames, close-code mapping) follow the client-side usage of
// this library seen in the retrieved corpus
// (internal/channels/zalo/personal/protocol/ws_client.go); the server-side
// Accept call itself has no corpus precedent and is written directly
// against the library's documented API.
type wsSender struct {
	conn *websocket.Conn
}

func newWSSender(conn *websocket.Conn) *wsSender {
	conn.SetReadLimit(wsReadLimit)
	return &wsSender{conn: conn}
}

func (w *wsSender) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsSender) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

// ServeChannel upgrades r to a WebSocket, binds it to sessionID via
// Connect, and runs the read loop until the client disconnects or the
// request context is cancelled. It implements the GET
// /session/{id}/channel?reconnect=bool endpoint (spec.md §6).
func (m *Manager) ServeChannel(w http.ResponseWriter, r *http.Request, sessionID string, reconnect bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // channel is same-origin control plane, not public browser traffic
	})
	if err != nil {
		logging.Logger.Error().Err(err).Str("session", sessionID).Msg("connection: websocket upgrade failed")
		return
	}

	ctx := r.Context()
	sender := newWSSender(conn)

	if err := m.Connect(ctx, sender, sessionID, reconnect); err != nil {
		logging.Logger.Error().Err(err).Str("session", sessionID).Msg("connection: connect failed")
		_ = conn.Close(websocket.StatusInternalError, err.Error())
		return
	}

	defer func() {
		m.Disconnect(sessionID, true)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
				logging.Logger.Debug().Str("session", sessionID).Msg("connection: channel closed")
				return
			}
			logging.Logger.Warn().Err(err).Str("session", sessionID).Msg("connection: read failed")
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			logging.Logger.Warn().Err(err).Str("session", sessionID).Msg("connection: malformed client message")
			_ = sender.Send(ctx, errorEnvelope("malformed message: "+err.Error()))
			continue
		}

		recvCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.TurnTimeoutSeconds+5)*time.Second)
		if err := m.Receive(recvCtx, sessionID, msg); err != nil {
			logging.Logger.Warn().Err(err).Str("session", sessionID).Msg("connection: receive failed")
		}
		cancel()
	}
}
