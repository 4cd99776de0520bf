package handlers

import (
	"encoding/json"
	"net/http"

	"headersmanager/logger"
	"headersmanager/models"

	"github.com/go-chi/chi/v5"
)

// ListRulesHandler returns every header rule.
// @Summary List header rules
// @Tags Rules
// @Produce json
// @Success 200 {array} models.HeaderRule
// @Router /rules [get]
func (h *Handlers) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.Load(r.Context())
	if err != nil {
		logger.Error("ListRulesHandler: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.HeaderRules)
}

// SaveRuleHandler creates a header rule, or replaces the one with the same id.
// @Summary Create or update a header rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param rule body models.HeaderRule true "Header rule"
// @Success 200 {object} models.HeaderRule
// @Failure 400 {object} models.ErrorResponse "Invalid payload, no headers or a header without name/value"
// @Router /rules [post]
func (h *Handlers) SaveRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule models.HeaderRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		logger.Error("SaveRuleHandler: Error decoding request body: %v", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request payload: " + err.Error()})
		return
	}
	defer r.Body.Close()

	saved, err := h.Config.SaveRule(r.Context(), rule)
	if err != nil {
		logger.Error("SaveRuleHandler: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeleteRuleHandler removes a header rule.
// @Summary Delete a header rule
// @Tags Rules
// @Produce json
// @Param ruleID path string true "Rule ID"
// @Success 200 {object} models.CommandResult
// @Failure 404 {object} models.CommandResult
// @Router /rules/{ruleID} [delete]
func (h *Handlers) DeleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Config.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")))
}
