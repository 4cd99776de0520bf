package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"headersmanager/models"
)

func strPtr(s string) *string { return &s }

func directive(id, priority int, filter string, edits ...models.RequestHeaderEdit) models.CompiledDirective {
	return models.CompiledDirective{
		ID:       id,
		Priority: priority,
		Action:   models.DirectiveAction{Type: models.ActionModifyHeaders, RequestHeaders: edits},
		Condition: models.DirectiveCondition{
			URLFilter:     filter,
			ResourceTypes: DirectiveResourceTypes,
		},
	}
}

func TestRuleTableRejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	table := NewRuleTable()
	d := directive(7, 1, "https://example.com/*", models.RequestHeaderEdit{Header: "X-A", Operation: "set", Value: strPtr("1")})

	if err := table.AddDirectives(ctx, []models.CompiledDirective{d}); err != nil {
		t.Fatalf("AddDirectives failed: %v", err)
	}
	err := table.AddDirectives(ctx, []models.CompiledDirective{directive(8, 1, "a"), d})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	ids, _ := table.GetInstalledIDs(ctx)
	if len(ids) != 1 || ids[0] != 7 {
		t.Errorf("failed batch must not partially install, have %v", ids)
	}

	if err := table.RemoveDirectives(ctx, []int{7, 99}); err != nil {
		t.Fatalf("RemoveDirectives failed: %v", err)
	}
	if err := table.AddDirectives(ctx, []models.CompiledDirective{d}); err != nil {
		t.Errorf("re-adding after removal failed: %v", err)
	}
}

func TestCompileURLFilter(t *testing.T) {
	tests := []struct {
		filter string
		url    string
		want   bool
	}{
		{"https://example.com/*", "https://example.com/path?q=1", true},
		{"https://example.com/*", "https://EXAMPLE.com/", true},
		{"https://example.com/*", "http://example.com/", false},
		{"http://localhost:*/*", "http://localhost:3000/app", true},
		{"https://*.example.com/*", "https://api.example.com/v1", true},
		{"https://*.example.com/*", "https://example.com/v1", false},
		{"https://example.com/file.js", "https://example.com/file.js", true},
		{"https://example.com/file.js", "https://example.com/file.json", true},
		{"|https://example.com/file.js|", "https://example.com/file.json", false},
		{"||example.com^", "https://sub.example.com/x", true},
		{"||example.com^", "https://notexample.com/x", false},
		{"||example.com^", "https://example.com", true},
		{"|http://", "https://example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.url, func(t *testing.T) {
			re, err := compileURLFilter(tt.filter)
			if err != nil {
				t.Fatalf("compileURLFilter(%q) failed: %v", tt.filter, err)
			}
			if got := re.MatchString(tt.url); got != tt.want {
				t.Errorf("match(%q, %q) = %v, want %v", tt.filter, tt.url, got, tt.want)
			}
		})
	}
}

func TestRuleTableApply(t *testing.T) {
	ctx := context.Background()
	table := NewRuleTable()
	err := table.AddDirectives(ctx, []models.CompiledDirective{
		directive(1, 1, "https://example.com/*", models.RequestHeaderEdit{Header: "User-Agent", Operation: "set", Value: strPtr("TestBot/1.0")}),
		directive(2, 1, "https://example.com/*", models.RequestHeaderEdit{Header: "referer", Operation: "remove"}),
		directive(3, 1, "https://other.com/*", models.RequestHeaderEdit{Header: "X-Other", Operation: "set", Value: strPtr("1")}),
		directive(4, 2, "https://example.com/*", models.RequestHeaderEdit{Header: "X-Order", Operation: "set", Value: strPtr("high")}),
		directive(5, 1, "https://example.com/*", models.RequestHeaderEdit{Header: "X-Order", Operation: "set", Value: strPtr("low")}),
	})
	if err != nil {
		t.Fatalf("AddDirectives failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/index.html", nil)
	req.Header.Set("Referer", "https://tracker.test/")
	req.Header.Set("User-Agent", "Original")

	n := table.Apply(req, models.ResourceMainFrame)
	if n != 4 {
		t.Errorf("expected 4 matching directives, got %d", n)
	}
	if got := req.Header.Get("User-Agent"); got != "TestBot/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
	if _, ok := req.Header["Referer"]; ok {
		t.Errorf("Referer should be removed")
	}
	if req.Header.Get("X-Other") != "" {
		t.Errorf("directive for other host applied")
	}
	// Higher priority runs first, so the lower priority edit is the one left standing.
	if got := req.Header.Get("X-Order"); got != "low" {
		t.Errorf("X-Order = %q, want low", got)
	}

	img := httptest.NewRequest(http.MethodGet, "https://example.com/logo.png", nil)
	if n := table.Apply(img, models.ResourceImage); n != 0 {
		t.Errorf("image requests are out of scope, got %d matches", n)
	}

	installed := table.Installed()
	if len(installed) != 5 || installed[0].ID != 4 {
		t.Errorf("unexpected installed order: %+v", installed)
	}
}

func TestResourceTypeOf(t *testing.T) {
	tests := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"Sec-Fetch-Dest": "document"}, models.ResourceMainFrame},
		{map[string]string{"Sec-Fetch-Dest": "iframe"}, models.ResourceSubFrame},
		{map[string]string{"Sec-Fetch-Dest": "empty"}, models.ResourceXMLHTTPRequest},
		{map[string]string{"Sec-Fetch-Dest": "script"}, models.ResourceScript},
		{map[string]string{"Sec-Fetch-Dest": "style"}, models.ResourceStylesheet},
		{map[string]string{"Sec-Fetch-Dest": "image"}, models.ResourceImage},
		{map[string]string{"Sec-Fetch-Dest": "video"}, models.ResourceMedia},
		{map[string]string{"Upgrade": "websocket"}, models.ResourceWebSocket},
		{map[string]string{"X-Requested-With": "XMLHttpRequest"}, models.ResourceXMLHTTPRequest},
		{map[string]string{}, models.ResourceOther},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
		for k, v := range tt.headers {
			req.Header.Set(k, v)
		}
		if got := ResourceTypeOf(req); got != tt.want {
			t.Errorf("ResourceTypeOf(%v) = %q, want %q", tt.headers, got, tt.want)
		}
	}
}
