package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"headersmanager/models"
)

var (
	mobileUA      = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)
	chromeVersion = regexp.MustCompile(`Chrome/([\d.]+)`)
	edgeVersion   = regexp.MustCompile(`Edg/([\d.]+)`)
)

const defaultFullVersion = "139.0.0.0"

// patternRegexp converts a website URL pattern into an anchored page-URL matcher.
func patternRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := strings.Join(parts, ".*")
	if strings.Contains(pattern, "://*.") {
		expr = strings.Replace(expr, `://.*\.`, `://(.*\.)?`, 1)
	}
	hostStart := strings.Index(pattern, "://") + 3
	if hostStart > len(pattern) {
		hostStart = len(pattern)
	}
	if !strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[hostStart:], "/") {
		expr += "/.*"
	}
	return regexp.Compile("^" + expr + "$")
}

// PatternMatchesURL reports whether a page URL falls under a website URL pattern.
func PatternMatchesURL(pattern, pageURL string) bool {
	re, err := patternRegexp(pattern)
	if err != nil {
		return strings.Contains(pageURL, strings.ReplaceAll(pattern, "*", ""))
	}
	return re.MatchString(pageURL)
}

func userAgentOf(rule models.HeaderRule) (string, bool) {
	for _, h := range rule.Headers {
		if strings.EqualFold(h.Name, "user-agent") && h.Operation == models.OperationSet && h.Value != "" {
			return h.Value, true
		}
	}
	return "", false
}

// ResolvePreferences finds the user agent configured for pageURL. Websites are checked in
// list order and each website's rules in enabledRules order; the first match wins.
func ResolvePreferences(pageURL string, websites []models.Website, rules []models.HeaderRule) (models.PreferenceBundle, bool) {
	for _, website := range websites {
		if !website.Enabled {
			continue
		}
		matches := false
		for _, pattern := range website.URLs {
			if PatternMatchesURL(pattern, pageURL) {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		for _, ruleID := range website.EnabledRules {
			rule, ok := findEnabledRule(rules, ruleID)
			if !ok {
				continue
			}
			if ua, ok := userAgentOf(rule); ok {
				return BuildPreferences(ua), true
			}
		}
	}
	return models.PreferenceBundle{}, false
}

// BuildPreferences derives navigator properties from a user agent string.
func BuildPreferences(userAgent string) models.PreferenceBundle {
	platform := "Linux x86_64"
	switch {
	case strings.Contains(userAgent, "Windows NT"):
		platform = "Win32"
	case strings.Contains(userAgent, "Macintosh"):
		platform = "MacIntel"
	case strings.Contains(userAgent, "Android"):
		platform = "Linux armv7l"
	}
	return models.PreferenceBundle{
		UserAgent:     userAgent,
		AppVersion:    strings.TrimPrefix(userAgent, "Mozilla/"),
		Platform:      platform,
		UserAgentData: BuildUserAgentData(userAgent),
	}
}

func majorVersion(re *regexp.Regexp, userAgent string) (string, bool) {
	m := re.FindStringSubmatch(userAgent)
	if m == nil {
		return "", false
	}
	return strings.SplitN(m[1], ".", 2)[0], true
}

// BuildUserAgentData synthesises client hints, high-entropy values included.
func BuildUserAgentData(userAgent string) *models.UserAgentData {
	platform := "Unknown"
	switch {
	case strings.Contains(userAgent, "Windows NT"):
		platform = "Windows"
	case strings.Contains(userAgent, "Macintosh"), strings.Contains(userAgent, "Mac OS"):
		platform = "macOS"
	case strings.Contains(userAgent, "Linux"):
		platform = "Linux"
	}

	brands := []models.Brand{{Brand: "Not/A)Brand", Version: "8"}}
	if v, ok := majorVersion(chromeVersion, userAgent); ok {
		brands = append(brands, models.Brand{Brand: "Chromium", Version: v}, models.Brand{Brand: "Google Chrome", Version: v})
	}
	if v, ok := majorVersion(edgeVersion, userAgent); ok {
		brands = append(brands, models.Brand{Brand: "Microsoft Edge", Version: v})
	}

	fullVersion := defaultFullVersion
	if len(brands) > 1 {
		fullVersion = brands[1].Version + ".0.0.0"
	}
	return &models.UserAgentData{
		Brands:          brands,
		Mobile:          mobileUA.MatchString(userAgent),
		Platform:        platform,
		Architecture:    "x86",
		Bitness:         "64",
		Model:           "",
		PlatformVersion: "10.0.0",
		UAFullVersion:   fullVersion,
		FullVersionList: append([]models.Brand(nil), brands...),
	}
}

// IdentityCache memoises resolved preferences per page URL until the next reload.
type IdentityCache struct {
	source ConfigSource

	mu      sync.Mutex
	config  *models.Configuration
	bundles map[string]identityEntry
}

type identityEntry struct {
	bundle models.PreferenceBundle
	found  bool
}

func NewIdentityCache(source ConfigSource) *IdentityCache {
	return &IdentityCache{source: source, bundles: make(map[string]identityEntry)}
}

// Resolve returns the preference bundle for pageURL. found is false when no website sets
// a user agent for it.
func (c *IdentityCache) Resolve(ctx context.Context, pageURL string) (bundle models.PreferenceBundle, found bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.bundles[pageURL]; ok {
		return e.bundle, e.found, nil
	}
	if c.config == nil {
		items, err := c.source.Get(ctx, models.ConfigKeys)
		if err != nil {
			return models.PreferenceBundle{}, false, fmt.Errorf("reading configuration: %w", err)
		}
		cfg, err := DecodeConfiguration(items)
		if err != nil {
			return models.PreferenceBundle{}, false, err
		}
		c.config = &cfg
	}
	bundle, found = ResolvePreferences(pageURL, c.config.Websites, c.config.HeaderRules)
	c.bundles[pageURL] = identityEntry{bundle: bundle, found: found}
	return bundle, found, nil
}

// Len is the number of cached page URLs.
func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bundles)
}

func (c *IdentityCache) Name() string { return "identity" }

// Notify drops everything cached so the next Resolve re-reads the configuration.
func (c *IdentityCache) Notify(ctx context.Context) error {
	c.mu.Lock()
	c.config = nil
	c.bundles = make(map[string]identityEntry)
	c.mu.Unlock()
	return nil
}
