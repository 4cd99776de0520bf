package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) RegisterStorageRoutes(r chi.Router) {
	r.Get("/storage/usage", h.StorageUsageHandler)
	r.Post("/storage/migrate", h.MigrateStorageHandler)
}
