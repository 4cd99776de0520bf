package handlers

import (
	"encoding/json"
	"net/http"

	"headersmanager/logger"
	"headersmanager/models"

	"github.com/go-chi/chi/v5"
)

// ListWebsitesHandler returns every configured website.
// @Summary List websites
// @Tags Websites
// @Produce json
// @Success 200 {array} models.Website
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /websites [get]
func (h *Handlers) ListWebsitesHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.Load(r.Context())
	if err != nil {
		logger.Error("ListWebsitesHandler: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Websites)
}

// SaveWebsiteHandler creates a website, or replaces the one with the same id.
// @Summary Create or update a website
// @Tags Websites
// @Accept json
// @Produce json
// @Param website body models.Website true "Website"
// @Success 200 {object} models.Website
// @Failure 400 {object} models.ErrorResponse "Invalid payload or no URLs"
// @Router /websites [post]
func (h *Handlers) SaveWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	var website models.Website
	if err := json.NewDecoder(r.Body).Decode(&website); err != nil {
		logger.Error("SaveWebsiteHandler: Error decoding request body: %v", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request payload: " + err.Error()})
		return
	}
	defer r.Body.Close()

	saved, err := h.Config.SaveWebsite(r.Context(), website)
	if err != nil {
		logger.Error("SaveWebsiteHandler: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeleteWebsiteHandler removes a website.
// @Summary Delete a website
// @Tags Websites
// @Produce json
// @Param websiteID path string true "Website ID"
// @Success 200 {object} models.CommandResult
// @Failure 404 {object} models.CommandResult
// @Router /websites/{websiteID} [delete]
func (h *Handlers) DeleteWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Config.DeleteWebsite(r.Context(), chi.URLParam(r, "websiteID")))
}

// ToggleWebsiteHandler sets a website's enabled flag.
// @Summary Enable or disable a website
// @Tags Websites
// @Accept json
// @Produce json
// @Param websiteID path string true "Website ID"
// @Param body body enabledRequest true "New state"
// @Success 200 {object} models.CommandResult
// @Failure 404 {object} models.CommandResult
// @Router /websites/{websiteID}/toggle [post]
func (h *Handlers) ToggleWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	enabled, err := decodeEnabled(r)
	if err != nil {
		writeResult(w, err)
		return
	}
	writeResult(w, h.Config.ToggleWebsite(r.Context(), chi.URLParam(r, "websiteID"), enabled))
}

// ToggleWebsiteRuleHandler attaches a rule to, or detaches it from, a website.
// @Summary Toggle a rule for a website
// @Tags Websites
// @Accept json
// @Produce json
// @Param websiteID path string true "Website ID"
// @Param ruleID path string true "Rule ID"
// @Param body body enabledRequest true "New state"
// @Success 200 {object} models.CommandResult
// @Router /websites/{websiteID}/rules/{ruleID}/toggle [post]
func (h *Handlers) ToggleWebsiteRuleHandler(w http.ResponseWriter, r *http.Request) {
	enabled, err := decodeEnabled(r)
	if err != nil {
		writeResult(w, err)
		return
	}
	err = h.Config.ToggleWebsiteRule(r.Context(), chi.URLParam(r, "websiteID"), chi.URLParam(r, "ruleID"), enabled)
	writeResult(w, err)
}
