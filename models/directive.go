package models

// Resource types as named by the rewrite engine.
const (
	ResourceMainFrame      = "main_frame"
	ResourceSubFrame       = "sub_frame"
	ResourceXMLHTTPRequest = "xmlhttprequest"
	ResourceScript         = "script"
	ResourceStylesheet     = "stylesheet"
	ResourceImage          = "image"
	ResourceFont           = "font"
	ResourceMedia          = "media"
	ResourceWebSocket      = "websocket"
	ResourceOther          = "other"
)

// ActionModifyHeaders is the only action type the compiler emits.
const ActionModifyHeaders = "modifyHeaders"

// RequestHeaderEdit is one header edit inside a directive action. Value is nil for
// "remove" so that it is omitted from the encoded form rather than sent empty.
type RequestHeaderEdit struct {
	Header    string  `json:"header"`
	Operation string  `json:"operation"`
	Value     *string `json:"value,omitempty"`
}

// DirectiveAction describes what a directive does to a matching request.
type DirectiveAction struct {
	Type           string              `json:"type"`
	RequestHeaders []RequestHeaderEdit `json:"requestHeaders"`
}

// DirectiveCondition describes which requests a directive applies to.
type DirectiveCondition struct {
	URLFilter     string   `json:"urlFilter"`
	ResourceTypes []string `json:"resourceTypes"`
}

// CompiledDirective is an engine-ready header rewrite instruction. It only lives for one
// reload pass and is never persisted.
type CompiledDirective struct {
	ID        int                `json:"id" example:"48213"`
	Priority  int                `json:"priority" example:"1"`
	Action    DirectiveAction    `json:"action"`
	Condition DirectiveCondition `json:"condition"`
}

// DirectiveSource records where a compiled directive came from, for logs and previews.
type DirectiveSource struct {
	Website string `json:"website"`
	Rule    string `json:"rule"`
	Header  string `json:"header"`
	Pattern string `json:"pattern"`
}
