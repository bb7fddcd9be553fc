package server

// setupRoutes configures the minimal control HTTP surface (spec.md §6): session
// allocation, health, and the WebSocket channel upgrade that hands the
// connection off to internal/connection.Manager. All agentic traffic after
// that handoff flows over the channel, not through additional HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Post("/session", s.createSession)
	r.Get("/health", s.health)
	r.Get("/session/{sessionID}/channel", s.sessionChannel)
}
