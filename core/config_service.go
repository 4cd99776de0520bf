package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"headersmanager/logger"
	"headersmanager/models"
	"headersmanager/storage"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConfigStore is the storage surface the service edits through.
type ConfigStore interface {
	Get(ctx context.Context, keys []string) (storage.Items, error)
	Set(ctx context.Context, items storage.Items) error
	Clear(ctx context.Context) error
	UsageInfo(ctx context.Context) (models.UsageInfo, error)
	MigrateToPrimary(ctx context.Context) error
}

// ReloadTrigger starts a reload pass.
type ReloadTrigger interface {
	Reload(ctx context.Context) error
}

// ConfigService implements the editing commands on top of the storage selector. Edits are
// read-modify-write on the whole websites or headerRules list and are serialized.
type ConfigService struct {
	store    ConfigStore
	reloader ReloadTrigger
	now      func() time.Time

	mu sync.Mutex
}

func NewConfigService(store ConfigStore, reloader ReloadTrigger) *ConfigService {
	return &ConfigService{store: store, reloader: reloader, now: time.Now}
}

// Load returns the stored configuration. Missing lists come back empty.
func (s *ConfigService) Load(ctx context.Context) (models.Configuration, error) {
	items, err := s.store.Get(ctx, models.ConfigKeys)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("reading configuration: %w", err)
	}
	return DecodeConfiguration(items)
}

func (s *ConfigService) save(ctx context.Context, cfg models.Configuration, keys ...string) error {
	items := make(storage.Items, len(keys))
	for _, key := range keys {
		var (
			raw []byte
			err error
		)
		switch key {
		case models.WebsitesKey:
			raw, err = json.Marshal(cfg.Websites)
		case models.HeaderRulesKey:
			raw, err = json.Marshal(cfg.HeaderRules)
		}
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		items[key] = raw
	}
	if err := s.store.Set(ctx, items); err != nil {
		return fmt.Errorf("saving %s: %w", strings.Join(keys, ", "), err)
	}
	return nil
}

// Reload asks the reloader for a pass. A pass already in flight absorbs the request.
func (s *ConfigService) Reload(ctx context.Context) error {
	if s.reloader == nil {
		return nil
	}
	return s.reloader.Reload(ctx)
}

func findWebsite(websites []models.Website, id string) int {
	for i, w := range websites {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func findRule(rules []models.HeaderRule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// ToggleWebsite enables or disables a website and reloads.
func (s *ConfigService) ToggleWebsite(ctx context.Context, websiteID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	i := findWebsite(cfg.Websites, websiteID)
	if i < 0 {
		return fmt.Errorf("website %q: %w", websiteID, ErrNotFound)
	}
	cfg.Websites[i].Enabled = enabled
	if err := s.save(ctx, cfg, models.WebsitesKey); err != nil {
		return err
	}
	logger.Info("Website %s enabled=%t", websiteID, enabled)
	return s.Reload(ctx)
}

// ToggleWebsiteRule attaches ruleID to, or detaches it from, a website's enabled rules.
// Attaching appends at the end, so it is looked up last.
func (s *ConfigService) ToggleWebsiteRule(ctx context.Context, websiteID, ruleID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	i := findWebsite(cfg.Websites, websiteID)
	if i < 0 {
		return fmt.Errorf("website %q: %w", websiteID, ErrNotFound)
	}
	website := &cfg.Websites[i]
	if enabled {
		if !website.HasRule(ruleID) {
			website.EnabledRules = append(website.EnabledRules, ruleID)
		}
	} else {
		kept := make([]string, 0, len(website.EnabledRules))
		for _, id := range website.EnabledRules {
			if id != ruleID {
				kept = append(kept, id)
			}
		}
		website.EnabledRules = kept
	}
	if err := s.save(ctx, cfg, models.WebsitesKey); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// ValidateWebsite trims URL patterns, drops blank ones and requires at least one.
func ValidateWebsite(w *models.Website) error {
	urls := make([]string, 0, len(w.URLs))
	for _, u := range w.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return fmt.Errorf("%w: please add at least one URL", ErrValidation)
	}
	w.URLs = urls
	if w.EnabledRules == nil {
		w.EnabledRules = []string{}
	}
	return nil
}

// ValidateRule checks every header and normalizes operations. Remove edits carry an
// empty value.
func ValidateRule(r *models.HeaderRule) error {
	if len(r.Headers) == 0 {
		return fmt.Errorf("%w: please add at least one header", ErrValidation)
	}
	for i := range r.Headers {
		h := &r.Headers[i]
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("%w: header %d has no name", ErrValidation, i+1)
		}
		switch h.EffectiveOperation() {
		case models.OperationSet:
			if h.Value == "" {
				return fmt.Errorf("%w: header %q needs a value", ErrValidation, h.Name)
			}
			h.Operation = models.OperationSet
		case models.OperationRemove:
			h.Value = ""
		default:
			return fmt.Errorf("%w: header %q has unknown operation %q", ErrValidation, h.Name, h.Operation)
		}
	}
	return nil
}

// SaveWebsite adds a website, or replaces the one with the same ID. A new ID is generated
// when none is given.
func (s *ConfigService) SaveWebsite(ctx context.Context, w models.Website) (models.Website, error) {
	if err := ValidateWebsite(&w); err != nil {
		return w, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return w, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if i := findWebsite(cfg.Websites, w.ID); i >= 0 {
		cfg.Websites[i] = w
	} else {
		cfg.Websites = append(cfg.Websites, w)
	}
	if err := s.save(ctx, cfg, models.WebsitesKey); err != nil {
		return w, err
	}
	return w, s.Reload(ctx)
}

func (s *ConfigService) DeleteWebsite(ctx context.Context, websiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	i := findWebsite(cfg.Websites, websiteID)
	if i < 0 {
		return fmt.Errorf("website %q: %w", websiteID, ErrNotFound)
	}
	cfg.Websites = append(cfg.Websites[:i], cfg.Websites[i+1:]...)
	if err := s.save(ctx, cfg, models.WebsitesKey); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// SaveRule adds a header rule, or replaces the one with the same ID.
func (s *ConfigService) SaveRule(ctx context.Context, r models.HeaderRule) (models.HeaderRule, error) {
	if err := ValidateRule(&r); err != nil {
		return r, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return r, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if i := findRule(cfg.HeaderRules, r.ID); i >= 0 {
		cfg.HeaderRules[i] = r
	} else {
		cfg.HeaderRules = append(cfg.HeaderRules, r)
	}
	if err := s.save(ctx, cfg, models.HeaderRulesKey); err != nil {
		return r, err
	}
	return r, s.Reload(ctx)
}

// DeleteRule removes a header rule. Websites still referring to it keep the ID; dangling
// references are skipped at compile time.
func (s *ConfigService) DeleteRule(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	i := findRule(cfg.HeaderRules, ruleID)
	if i < 0 {
		return fmt.Errorf("rule %q: %w", ruleID, ErrNotFound)
	}
	cfg.HeaderRules = append(cfg.HeaderRules[:i], cfg.HeaderRules[i+1:]...)
	if err := s.save(ctx, cfg, models.HeaderRulesKey); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// Import replaces the whole configuration with the contents of an export file. Nothing is
// written unless the body is valid.
func (s *ConfigService) Import(ctx context.Context, body []byte) (models.Configuration, error) {
	if !gjson.ValidBytes(body) {
		return models.Configuration{}, ErrInvalidFormat
	}
	if !gjson.GetBytes(body, models.WebsitesKey).IsArray() || !gjson.GetBytes(body, models.HeaderRulesKey).IsArray() {
		return models.Configuration{}, ErrInvalidFormat
	}
	var file models.ExportFile
	if err := json.Unmarshal(body, &file); err != nil {
		return models.Configuration{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	cfg := models.Configuration{Websites: file.Websites, HeaderRules: file.HeaderRules}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, cfg, models.HeaderRulesKey, models.WebsitesKey); err != nil {
		return cfg, err
	}
	logger.Info("Imported %d websites and %d header rules", len(cfg.Websites), len(cfg.HeaderRules))
	return cfg, s.Reload(ctx)
}

// Export renders the configuration as an indented export file.
func (s *ConfigService) Export(ctx context.Context) ([]byte, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	if out, err = sjson.SetBytes(out, "exportDate", s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("stamping export date: %w", err)
	}
	if out, err = sjson.SetBytes(out, "version", models.ExportVersion); err != nil {
		return nil, fmt.Errorf("stamping export version: %w", err)
	}
	return out, nil
}

// ClearAll wipes both storage backends and reloads, leaving no directives installed.
func (s *ConfigService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing storage: %w", err)
	}
	logger.Info("All configuration data cleared")
	return s.Reload(ctx)
}

// SeedDefaults stores the stock configuration when neither websites nor header rules exist.
// It reports whether anything was written.
func (s *ConfigService) SeedDefaults(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.store.Get(ctx, models.ConfigKeys)
	if err != nil {
		return false, fmt.Errorf("reading configuration: %w", err)
	}
	if _, ok := items[models.WebsitesKey]; ok {
		return false, nil
	}
	if _, ok := items[models.HeaderRulesKey]; ok {
		return false, nil
	}
	if err := s.save(ctx, DefaultConfiguration(), models.HeaderRulesKey, models.WebsitesKey); err != nil {
		return false, err
	}
	logger.Info("Stored default configuration")
	return true, nil
}

func (s *ConfigService) StorageUsage(ctx context.Context) (models.UsageInfo, error) {
	return s.store.UsageInfo(ctx)
}

// MigrateToPrimary moves the configuration back to synced storage.
func (s *ConfigService) MigrateToPrimary(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.MigrateToPrimary(ctx); err != nil {
		return err
	}
	logger.Info("Configuration migrated back to sync storage")
	return nil
}

// DefaultConfiguration is the configuration a fresh installation starts with.
func DefaultConfiguration() models.Configuration {
	return models.Configuration{
		HeaderRules: []models.HeaderRule{
			{
				ID:      "cors-basic",
				Name:    "Basic CORS Headers",
				Enabled: true,
				Headers: []models.HeaderDirective{
					{Name: "Access-Control-Allow-Origin", Operation: models.OperationSet, Value: "*"},
					{Name: "Access-Control-Allow-Methods", Operation: models.OperationSet, Value: "GET, POST, PUT, DELETE, OPTIONS"},
					{Name: "Access-Control-Allow-Headers", Operation: models.OperationSet, Value: "Content-Type, Authorization"},
				},
			},
			{
				ID:      "auth-bearer",
				Name:    "Bearer Token Auth",
				Headers: []models.HeaderDirective{{Name: "Authorization", Operation: models.OperationSet, Value: "Bearer your-token-here"}},
			},
			{
				ID:      "custom-user-agent",
				Name:    "Custom User Agent",
				Headers: []models.HeaderDirective{{Name: "User-Agent", Operation: models.OperationSet, Value: "TestBot/1.0"}},
			},
			{
				ID:   "privacy-headers",
				Name: "Privacy Headers (Remove Tracking)",
				Headers: []models.HeaderDirective{
					{Name: "Referer", Operation: models.OperationRemove},
					{Name: "X-Forwarded-For", Operation: models.OperationRemove},
				},
			},
		},
		Websites: []models.Website{
			{
				ID:           "localhost-dev",
				Name:         "Local Development",
				URLs:         []string{"http://localhost:*/*", "https://localhost:*/*"},
				EnabledRules: []string{"cors-basic"},
			},
		},
	}
}
