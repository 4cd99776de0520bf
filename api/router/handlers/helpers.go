package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"headersmanager/core"
	"headersmanager/logger"
	"headersmanager/models"
	"headersmanager/storage"
)

// Handlers carries the services the API routes call into.
type Handlers struct {
	Config   *core.ConfigService
	Table    *core.RuleTable
	Identity *core.IdentityCache
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrCapacity), errors.Is(err, storage.ErrAlreadyPrimary):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeResult answers a command with a CommandResult.
func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), models.CommandResult{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.CommandResult{Success: true})
}

// writeError answers a query that failed.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), models.ErrorResponse{Message: err.Error()})
}

// enabledRequest is the body of the toggle endpoints.
type enabledRequest struct {
	Enabled bool `json:"enabled" example:"true"`
}

func decodeEnabled(r *http.Request) (bool, error) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, errors.Join(core.ErrValidation, err)
	}
	return req.Enabled, nil
}
