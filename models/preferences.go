package models

// Brand is one entry of a client hints brand list.
type Brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// UserAgentData mirrors the low- and high-entropy client hints derived from a user agent.
type UserAgentData struct {
	Brands          []Brand `json:"brands"`
	Mobile          bool    `json:"mobile"`
	Platform        string  `json:"platform"`
	Architecture    string  `json:"architecture,omitempty"`
	Bitness         string  `json:"bitness,omitempty"`
	Model           string  `json:"model"`
	PlatformVersion string  `json:"platformVersion,omitempty"`
	UAFullVersion   string  `json:"uaFullVersion,omitempty"`
	FullVersionList []Brand `json:"fullVersionList,omitempty"`
}

// PreferenceBundle is handed to the identity-spoofing layer.
type PreferenceBundle struct {
	UserAgent     string         `json:"userAgent,omitempty"`
	AppVersion    string         `json:"appVersion,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	UserAgentData *UserAgentData `json:"userAgentData,omitempty"`
}
