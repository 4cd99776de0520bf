package handlers

import (
	"net/http"

	"headersmanager/logger"
)

// StorageUsageHandler reports backend usage and recommendations.
// @Summary Storage usage
// @Tags Storage
// @Produce json
// @Success 200 {object} models.UsageInfo
// @Router /storage/usage [get]
func (h *Handlers) StorageUsageHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.Config.StorageUsage(r.Context())
	if err != nil {
		logger.Error("StorageUsageHandler: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// MigrateStorageHandler moves the configuration from local back to sync storage.
// @Summary Migrate back to sync storage
// @Tags Storage
// @Produce json
// @Success 200 {object} models.CommandResult
// @Failure 409 {object} models.CommandResult "Already on sync storage, or data too large"
// @Router /storage/migrate [post]
func (h *Handlers) MigrateStorageHandler(w http.ResponseWriter, r *http.Request) {
	err := h.Config.MigrateToPrimary(r.Context())
	if err != nil {
		logger.Error("MigrateStorageHandler: %v", err)
	}
	writeResult(w, err)
}
