package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all covariance routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/covariance", func(r chi.Router) {
		r.Post("/rmt", h.HandleRMT)
		r.Post("/spiked", h.HandleSpiked)
		r.Get("/losses", h.HandleLosses)
		r.Get("/stream", h.HandleStream)
	})
}
