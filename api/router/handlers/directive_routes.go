package handlers

import (
	"net/http"
	"strings"

	"headersmanager/models"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) RegisterDirectiveRoutes(r chi.Router) {
	r.Get("/directives", h.ListDirectivesHandler)
	r.Get("/identity", h.IdentityHandler)
}

// ListDirectivesHandler returns the installed directives in application order.
// @Summary Installed directives
// @Tags Directives
// @Produce json
// @Success 200 {array} models.CompiledDirective
// @Router /directives [get]
func (h *Handlers) ListDirectivesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Table.Installed())
}

// identityResponse is what the identity endpoint returns. Bundle is omitted when no
// website sets a user agent for the URL.
type identityResponse struct {
	URL    string      `json:"url"`
	Found  bool        `json:"found"`
	Bundle interface{} `json:"bundle,omitempty"`
}

// IdentityHandler resolves the navigator preferences for a page URL.
// @Summary Resolve identity preferences
// @Tags Directives
// @Produce json
// @Param url query string true "Page URL"
// @Success 200 {object} identityResponse
// @Failure 400 {object} models.ErrorResponse "Missing url"
// @Router /identity [get]
func (h *Handlers) IdentityHandler(w http.ResponseWriter, r *http.Request) {
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: "url query parameter is required"})
		return
	}
	bundle, found, err := h.Identity.Resolve(r.Context(), pageURL)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := identityResponse{URL: pageURL, Found: found}
	if found {
		resp.Bundle = bundle
	}
	writeJSON(w, http.StatusOK, resp)
}
