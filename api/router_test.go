package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"headersmanager/api/router/handlers"
	"headersmanager/core"
	"headersmanager/models"
	"headersmanager/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *core.RuleTable) {
	t.Helper()
	ctx := context.Background()
	sel := storage.NewSelector(storage.NewMemoryBackend(storage.AreaSync, 0), storage.NewMemoryBackend(storage.AreaLocal, 0))
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	table := core.NewRuleTable()
	reloader := core.NewReloader(sel, table, nil, 0)
	identity := core.NewIdentityCache(sel)
	reloader.AddNotifier(identity)
	svc := core.NewConfigService(sel, reloader)
	if _, err := svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}

	srv := httptest.NewServer(NewServer(&handlers.Handlers{Config: svc, Table: table, Identity: identity}))
	t.Cleanup(srv.Close)
	return srv, table
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return resp, data
}

func decodeResult(t *testing.T, data []byte) models.CommandResult {
	t.Helper()
	var res models.CommandResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decoding CommandResult %q: %v", data, err)
	}
	return res
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := do(t, srv, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	resp, data := do(t, srv, http.MethodGet, "/api/version", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"version"`) {
		t.Errorf("version: %d %s", resp.StatusCode, data)
	}
}

func TestToggleWebsiteEndpoint(t *testing.T) {
	srv, table := newTestServer(t)

	resp, data := do(t, srv, http.MethodPost, "/api/websites/localhost-dev/toggle", `{"enabled": true}`)
	if resp.StatusCode != http.StatusOK || !decodeResult(t, data).Success {
		t.Fatalf("toggle failed: %d %s", resp.StatusCode, data)
	}
	if n := len(table.Installed()); n != 6 {
		t.Errorf("expected 6 installed directives, got %d", n)
	}

	resp, data = do(t, srv, http.MethodPost, "/api/websites/nope/toggle", `{"enabled": true}`)
	res := decodeResult(t, data)
	if resp.StatusCode != http.StatusNotFound || res.Success || res.Error == "" {
		t.Errorf("unknown website: %d %+v", resp.StatusCode, res)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/websites/localhost-dev/toggle", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestRuleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, data := do(t, srv, http.MethodPost, "/api/rules", `{"name": "Empty", "headers": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("rule without headers: status %d %s", resp.StatusCode, data)
	}

	resp, data = do(t, srv, http.MethodPost, "/api/rules", `{"name": "UA", "enabled": true, "headers": [{"name": "User-Agent", "operation": "set", "value": "TestBot/2.0"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save rule: %d %s", resp.StatusCode, data)
	}
	var saved models.HeaderRule
	if err := json.Unmarshal(data, &saved); err != nil || saved.ID == "" {
		t.Fatalf("saved rule = %+v, %v", saved, err)
	}

	_, data = do(t, srv, http.MethodGet, "/api/rules", "")
	var rules []models.HeaderRule
	if err := json.Unmarshal(data, &rules); err != nil || len(rules) != 5 {
		t.Errorf("expected 5 rules, got %d (%v)", len(rules), err)
	}

	resp, data = do(t, srv, http.MethodDelete, "/api/rules/"+saved.ID, "")
	if resp.StatusCode != http.StatusOK || !decodeResult(t, data).Success {
		t.Errorf("delete rule: %d %s", resp.StatusCode, data)
	}
}

func TestImportExportEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, data := do(t, srv, http.MethodPost, "/api/config/import", `{"websites": []}`)
	res := decodeResult(t, data)
	if resp.StatusCode != http.StatusBadRequest || res.Error != core.ErrInvalidFormat.Error() {
		t.Errorf("invalid import: %d %+v", resp.StatusCode, res)
	}

	resp, exported := do(t, srv, http.MethodGet, "/api/config/export", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Disposition"), "headers-manager-config-") {
		t.Fatalf("export: %d %v", resp.StatusCode, resp.Header)
	}

	resp, data = do(t, srv, http.MethodPost, "/api/config/import", string(exported))
	if resp.StatusCode != http.StatusOK || !decodeResult(t, data).Success {
		t.Errorf("re-import: %d %s", resp.StatusCode, data)
	}
}

func TestStorageEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, data := do(t, srv, http.MethodGet, "/api/storage/usage", "")
	var info models.UsageInfo
	if err := json.Unmarshal(data, &info); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("usage: %d %v", resp.StatusCode, err)
	}
	if info.Backend != "sync" || info.QuotaBytes != storage.DefaultQuotaBytes {
		t.Errorf("unexpected usage info: %+v", info)
	}

	resp, data = do(t, srv, http.MethodPost, "/api/storage/migrate", "")
	if resp.StatusCode != http.StatusConflict || decodeResult(t, data).Success {
		t.Errorf("migrate while on sync: %d %s", resp.StatusCode, data)
	}
}

func TestIdentityEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/api/identity", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url status = %d", resp.StatusCode)
	}

	do(t, srv, http.MethodPost, "/api/websites/localhost-dev/rules/custom-user-agent/toggle", `{"enabled": true}`)
	do(t, srv, http.MethodPost, "/api/websites/localhost-dev/toggle", `{"enabled": true}`)
	// custom-user-agent is disabled in the defaults.
	_, data := do(t, srv, http.MethodGet, "/api/identity?url=http://localhost:3000/app", "")
	if strings.Contains(string(data), `"found":true`) {
		t.Errorf("disabled rule should not resolve: %s", data)
	}

	do(t, srv, http.MethodPost, "/api/rules", `{"id": "custom-user-agent", "name": "Custom User Agent", "enabled": true, "headers": [{"name": "User-Agent", "operation": "set", "value": "TestBot/1.0"}]}`)
	_, data = do(t, srv, http.MethodGet, "/api/identity?url=http://localhost:3000/app", "")
	var out struct {
		Found  bool                    `json:"found"`
		Bundle models.PreferenceBundle `json:"bundle"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if !out.Found || out.Bundle.UserAgent != "TestBot/1.0" {
		t.Errorf("identity = %s", data)
	}
}

func TestDirectivesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/websites/localhost-dev/toggle", `{"enabled": true}`)

	_, data := do(t, srv, http.MethodGet, "/api/directives", "")
	var directives []models.CompiledDirective
	if err := json.Unmarshal(data, &directives); err != nil {
		t.Fatalf("decode directives: %v", err)
	}
	if len(directives) != 6 {
		t.Errorf("expected 6 directives, got %d", len(directives))
	}
	for _, d := range directives {
		if d.Action.Type != models.ActionModifyHeaders || d.Priority != core.DirectivePriority {
			t.Errorf("unexpected directive %+v", d)
		}
	}
}
