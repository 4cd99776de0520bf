package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"headersmanager/logger"
	"headersmanager/models"
)

// maxImportBytes bounds the size of an uploaded configuration file.
const maxImportBytes = 5 << 20

// ReloadConfigHandler recompiles and reinstalls the directives.
// @Summary Reload configuration
// @Tags Config
// @Produce json
// @Success 200 {object} models.CommandResult
// @Router /config/reload [post]
func (h *Handlers) ReloadConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Config.Reload(r.Context()))
}

// ImportConfigHandler replaces the whole configuration with an export file.
// @Summary Import configuration
// @Tags Config
// @Accept json
// @Produce json
// @Param file body models.ExportFile true "Export file"
// @Success 200 {object} models.CommandResult
// @Failure 400 {object} models.CommandResult "Invalid configuration file format"
// @Router /config/import [post]
func (h *Handlers) ImportConfigHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		logger.Error("ImportConfigHandler: Error reading request body: %v", err)
		writeJSON(w, http.StatusBadRequest, models.CommandResult{Error: "could not read request body"})
		return
	}
	defer r.Body.Close()

	_, err = h.Config.Import(r.Context(), body)
	if err != nil {
		logger.Error("ImportConfigHandler: %v", err)
	}
	writeResult(w, err)
}

// ExportConfigHandler downloads the configuration as an export file.
// @Summary Export configuration
// @Tags Config
// @Produce json
// @Success 200 {object} models.ExportFile
// @Router /config/export [get]
func (h *Handlers) ExportConfigHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.Config.Export(r.Context())
	if err != nil {
		logger.Error("ExportConfigHandler: %v", err)
		writeError(w, err)
		return
	}
	filename := fmt.Sprintf("headers-manager-config-%s.json", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ClearConfigHandler wipes all stored configuration.
// @Summary Clear all data
// @Tags Config
// @Produce json
// @Success 200 {object} models.CommandResult
// @Router /config/clear [post]
func (h *Handlers) ClearConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Config.ClearAll(r.Context()))
}
