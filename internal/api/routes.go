package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListDevices)
			r.Route("/{addr}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Put("/", s.HandleUpdateDevice)
				r.Get("/readings", s.HandleListReadings)
				r.Get("/readings/latest", s.HandleLatestReading)
			})
		})
	})
}
