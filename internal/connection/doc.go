/*
Package connection implements the Connection Manager (C6): the component
that binds a client's bidirectional WebSocket channel to a session's Agent
Session (C5) and mediates every turn between them.

# Responsibilities

Connect binds a channel to a session, reusing an in-flight Agent Session on
reconnect within the grace window or constructing a new one. Receive routes
an inbound client message (chat, ping, reset) and — for chat — serializes
the turn against the session's own lock before handing the user text to
internal/session.Service.ProcessMessage and translating its update callbacks
into the wire Envelope stream. Disconnect tears the binding down, immediately
or after a grace window that a subsequent reconnect can cancel.

# Turn locking

internal/session.Processor already serializes concurrent Process calls on the
same session, but it does so by queueing the caller until the in-flight turn
finishes — exactly the behavior spec.md's turn protocol forbids ("if another
turn is in flight, reject with a busy error envelope — do not queue"). The
Manager therefore holds its own non-blocking per-session turn token (a
buffered channel of capacity 1) in front of Processor.Process: a chat message
that cannot immediately acquire the token is rejected with a Busy error
envelope without ever reaching the processor, rather than relying on or
modifying the processor's internal queue.

# Transport

The wire transport is a server-side github.com/coder/websocket connection
(see transport.go). The corpus's client-side usage of this library
(internal/channels/zalo/personal/protocol/ws_client.go in the retrieved
vanducng-goclaw example) establishes the Read/Write/Close conventions this
package's server-side Accept loop follows; no server-side Accept usage
exists in the retrieved corpus, so that half of the wiring is written
directly against the library's documented API rather than copied from an
example.
*/
package connection
