package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) RegisterConfigRoutes(r chi.Router) {
	r.Route("/config", func(r chi.Router) {
		r.Post("/reload", h.ReloadConfigHandler)
		r.Post("/import", h.ImportConfigHandler)
		r.Get("/export", h.ExportConfigHandler)
		r.Post("/clear", h.ClearConfigHandler)
	})
}
