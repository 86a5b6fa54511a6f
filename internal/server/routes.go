package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Post("/message", s.sendMessage)
			r.Post("/interrupt", s.interruptSession)
			r.Post("/handover", s.handoverSession)
			r.Post("/queue", s.enqueueTurns)
			r.Post("/active", s.setActiveSession)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)

	// Descriptors
	r.Get("/backend", s.listBackends)
	r.Get("/persona", s.listPersonas)
	r.Get("/task", s.listTasks)

	// Liveness
	r.Get("/health", s.health)
}
