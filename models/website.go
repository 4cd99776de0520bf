package models

// Header operations understood by the rewrite engine.
const (
	OperationSet    = "set"
	OperationRemove = "remove"
)

// HeaderDirective is a single header edit inside a HeaderRule.
type HeaderDirective struct {
	Name      string `json:"name" example:"User-Agent" binding:"required"`              // Case-insensitive HTTP header name.
	Operation string `json:"operation,omitempty" example:"set" enum:"set,remove"`       // Empty is treated as "set".
	Value     string `json:"value,omitempty" example:"TestBot/1.0"`                     // Required for "set", ignored for "remove".
}

// EffectiveOperation returns the operation with the "set" default applied.
func (h HeaderDirective) EffectiveOperation() string {
	if h.Operation == "" {
		return OperationSet
	}
	return h.Operation
}

// HeaderRule groups header directives that can be attached to websites.
type HeaderRule struct {
	ID      string            `json:"id" example:"cors-basic" readOnly:"true"`
	Name    string            `json:"name" example:"Basic CORS Headers"`
	Enabled bool              `json:"enabled" example:"true"`
	Headers []HeaderDirective `json:"headers"`
}

// Website binds URL patterns to an ordered list of header rule IDs.
type Website struct {
	ID           string   `json:"id" example:"localhost-dev" readOnly:"true"`
	Name         string   `json:"name" example:"Local Development"`
	Enabled      bool     `json:"enabled" example:"false"`
	URLs         []string `json:"urls" example:"https://*.example.com"`      // User-authored wildcard URL patterns.
	EnabledRules []string `json:"enabledRules" example:"cors-basic"`         // HeaderRule IDs, order decides first-match lookups.
}

// HasRule reports whether ruleID is in the website's enabled rule list.
func (w Website) HasRule(ruleID string) bool {
	for _, id := range w.EnabledRules {
		if id == ruleID {
			return true
		}
	}
	return false
}

// Configuration is the persisted user configuration.
type Configuration struct {
	Websites    []Website    `json:"websites"`
	HeaderRules []HeaderRule `json:"headerRules"`
}

// FindRule returns the rule with the given ID.
func (c Configuration) FindRule(id string) (HeaderRule, bool) {
	for _, r := range c.HeaderRules {
		if r.ID == id {
			return r, true
		}
	}
	return HeaderRule{}, false
}

// ExportFile is the on-disk export/import format.
type ExportFile struct {
	Websites    []Website    `json:"websites"`
	HeaderRules []HeaderRule `json:"headerRules"`
	ExportDate  string       `json:"exportDate" format:"date-time"`
	Version     string       `json:"version" example:"1.0"`
}

// ExportVersion is written into every export file.
const ExportVersion = "1.0"
