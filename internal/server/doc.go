// Package server provides the minimal HTTP control surface for the
// buildrunner runtime.
//
// Nearly all agentic traffic — chat turns, streamed tool calls, tool
// results, reset — flows over a single bidirectional WebSocket channel
// owned by internal/connection, not through individually routed HTTP
// endpoints. This package exists only to stand the process up, hand out
// session identifiers, and perform the channel upgrade.
//
// # Endpoints
//
//   - POST /session: allocates a session identifier. No session state is
//     materialized yet; the Connection Manager lazily creates the session
//     record (sandbox, directory, title) on the first channel bind for that
//     ID, so a client that never connects a channel leaves nothing behind.
//   - GET /health: liveness for process supervisors and load balancers.
//   - GET /session/{sessionID}/channel?reconnect=bool: upgrades to the
//     WebSocket channel and hands the connection to
//     internal/connection.Manager.ServeChannel for the socket's lifetime.
//     reconnect=true rebinds an existing session within its reconnect grace
//     window instead of starting a fresh one.
//
// # Usage
//
//	config := server.DefaultConfig()
//	config.Port = 8080
//	config.Directory = "/path/to/project"
//
//	srv := server.New(config, appConfig, storage, providerRegistry, toolRegistry, connManager)
//
//	if err := srv.InitializeMCP(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.CloseMCP()
//
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// # Architecture
//
// Middleware (request ID, logging, recovery, CORS, directory-from-query)
// wraps a chi router. The Server struct also carries the storage, provider
// registry, and tool registry handles needed to construct the
// internal/session.Service that the Connection Manager wraps during
// process wiring (see cmd/buildrunner-server) — this package does not call
// into them directly, since the channel is where the actual agentic work
// happens.
package server
