package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterWebsiteRoutes sets up the routes for website management.
func (h *Handlers) RegisterWebsiteRoutes(r chi.Router) {
	r.Get("/websites", h.ListWebsitesHandler)
	r.Post("/websites", h.SaveWebsiteHandler)

	r.Route("/websites/{websiteID}", func(subRouter chi.Router) {
		subRouter.Delete("/", h.DeleteWebsiteHandler)
		subRouter.Post("/toggle", h.ToggleWebsiteHandler)
		subRouter.Post("/rules/{ruleID}/toggle", h.ToggleWebsiteRuleHandler)
	})
}
