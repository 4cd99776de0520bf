package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) RegisterRuleRoutes(r chi.Router) {
	r.Get("/rules", h.ListRulesHandler)
	r.Post("/rules", h.SaveRuleHandler)
	r.Delete("/rules/{ruleID}", h.DeleteRuleHandler)
}
