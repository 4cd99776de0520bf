package core

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"headersmanager/models"
)

type installedDirective struct {
	directive models.CompiledDirective
	filter    *regexp.Regexp
	types     map[string]bool
	seq       int
}

// RuleTable holds the installed directives and applies them to live requests.
type RuleTable struct {
	mu    sync.RWMutex
	rules map[int]*installedDirective
	seq   int
}

func NewRuleTable() *RuleTable {
	return &RuleTable{rules: make(map[int]*installedDirective)}
}

func (t *RuleTable) GetInstalledIDs(ctx context.Context) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.rules))
	for id := range t.rules {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// RemoveDirectives uninstalls ids. Unknown IDs are ignored.
func (t *RuleTable) RemoveDirectives(ctx context.Context, ids []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.rules, id)
	}
	return nil
}

// AddDirectives installs the batch atomically: either every directive is added or none.
func (t *RuleTable) AddDirectives(ctx context.Context, directives []models.CompiledDirective) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	batch := make(map[int]*installedDirective, len(directives))
	for _, d := range directives {
		if _, exists := t.rules[d.ID]; exists {
			return fmt.Errorf("%w: %d", ErrDuplicateID, d.ID)
		}
		if _, exists := batch[d.ID]; exists {
			return fmt.Errorf("%w: %d appears twice in batch", ErrDuplicateID, d.ID)
		}
		re, err := compileURLFilter(d.Condition.URLFilter)
		if err != nil {
			return fmt.Errorf("directive %d has an invalid urlFilter %q: %w", d.ID, d.Condition.URLFilter, err)
		}
		types := make(map[string]bool, len(d.Condition.ResourceTypes))
		for _, rt := range d.Condition.ResourceTypes {
			types[rt] = true
		}
		t.seq++
		batch[d.ID] = &installedDirective{directive: d, filter: re, types: types, seq: t.seq}
	}
	for id, inst := range batch {
		t.rules[id] = inst
	}
	return nil
}

func (t *RuleTable) ordered() []*installedDirective {
	list := make([]*installedDirective, 0, len(t.rules))
	for _, inst := range t.rules {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].directive.Priority != list[j].directive.Priority {
			return list[i].directive.Priority > list[j].directive.Priority
		}
		return list[i].seq < list[j].seq
	})
	return list
}

// Installed returns the installed directives in application order.
func (t *RuleTable) Installed() []models.CompiledDirective {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.ordered()
	out := make([]models.CompiledDirective, len(list))
	for i, inst := range list {
		out[i] = inst.directive
	}
	return out
}

// Match returns the directives that apply to rawURL for the given resource type.
func (t *RuleTable) Match(rawURL, resourceType string) []models.CompiledDirective {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.CompiledDirective
	for _, inst := range t.ordered() {
		if inst.types[resourceType] && inst.filter.MatchString(rawURL) {
			out = append(out, inst.directive)
		}
	}
	return out
}

// Apply rewrites req's headers with every matching directive and returns how many matched.
func (t *RuleTable) Apply(req *http.Request, resourceType string) int {
	if req == nil || req.URL == nil {
		return 0
	}
	matched := t.Match(req.URL.String(), resourceType)
	for _, d := range matched {
		for _, edit := range d.Action.RequestHeaders {
			switch edit.Operation {
			case models.OperationRemove:
				req.Header.Del(edit.Header)
			default:
				value := ""
				if edit.Value != nil {
					value = *edit.Value
				}
				if strings.EqualFold(edit.Header, "Host") {
					req.Host = value
				}
				req.Header.Set(edit.Header, value)
			}
		}
	}
	return len(matched)
}

// compileURLFilter translates urlFilter syntax into a case-insensitive regexp:
// "*" any characters, "^" a separator or the end, "|" anchors the start or end and "||"
// anchors at a domain label. Unanchored filters match anywhere in the URL.
func compileURLFilter(filter string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)")

	rest := filter
	switch {
	case strings.HasPrefix(rest, "||"):
		b.WriteString(`^[a-z][a-z0-9+.\-]*://(?:[^/?#]*\.)?`)
		rest = rest[2:]
	case strings.HasPrefix(rest, "|"):
		b.WriteString("^")
		rest = rest[1:]
	}
	endAnchor := false
	if strings.HasSuffix(rest, "|") {
		endAnchor = true
		rest = rest[:len(rest)-1]
	}

	for _, r := range rest {
		switch r {
		case '*':
			b.WriteString(".*")
		case '^':
			b.WriteString(`(?:[^a-z0-9_\-.%]|$)`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if endAnchor {
		b.WriteString("$")
	}
	return regexp.Compile(b.String())
}

// ResourceTypeOf classifies a request the way the rule table's resource types do.
func ResourceTypeOf(req *http.Request) string {
	if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return models.ResourceWebSocket
	}
	switch strings.ToLower(req.Header.Get("Sec-Fetch-Dest")) {
	case "document":
		return models.ResourceMainFrame
	case "iframe", "frame", "embed", "object":
		return models.ResourceSubFrame
	case "empty":
		return models.ResourceXMLHTTPRequest
	case "script", "worker", "sharedworker", "serviceworker":
		return models.ResourceScript
	case "style":
		return models.ResourceStylesheet
	case "image":
		return models.ResourceImage
	case "font":
		return models.ResourceFont
	case "audio", "video", "track":
		return models.ResourceMedia
	}
	if req.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return models.ResourceXMLHTTPRequest
	}
	return models.ResourceOther
}
