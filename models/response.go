package models

// ErrorResponse is a generic error response structure for API
type ErrorResponse struct {
	Message string `json:"message" example:"Error message describing the issue"`
}

// CommandResult is returned by every command on the consumer-facing surface.
type CommandResult struct {
	Success bool   `json:"success" example:"true"`
	Error   string `json:"error,omitempty" example:"website not found"`
}

// UsageInfo summarizes storage consumption for the settings view.
type UsageInfo struct {
	Backend         string   `json:"backend" example:"sync" enum:"sync,local"`
	BytesUsed       int64    `json:"bytesUsed"`
	PercentUsed     float64  `json:"percentUsed"` // Primary usage relative to its quota.
	RemainingBytes  int64    `json:"remainingBytes"`
	PrimaryBytes    int64    `json:"primaryBytes"`
	SecondaryBytes  int64    `json:"secondaryBytes"`
	QuotaBytes      int64    `json:"quotaBytes" example:"102400"`
	Recommendations []string `json:"recommendations"`
}
