package core

import (
	"math/rand"
	"time"

	"headersmanager/models"
)

const (
	// MaxDirectiveID is the largest synthetic directive ID.
	MaxDirectiveID = 999999
	// DirectivePriority is shared by every compiled directive.
	DirectivePriority = 1

	maxIDDraws = 64
)

// DirectiveResourceTypes is the fixed resource-type scope of every compiled directive.
var DirectiveResourceTypes = []string{
	models.ResourceMainFrame,
	models.ResourceSubFrame,
	models.ResourceXMLHTTPRequest,
	models.ResourceOther,
}

// IDSource draws integers in [0, n). *rand.Rand satisfies it.
type IDSource interface {
	Intn(n int) int
}

// Compiler expands websites × rules × headers into directives.
type Compiler struct {
	IDs IDSource
}

func NewCompiler() *Compiler {
	return &Compiler{IDs: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// idPool hands out IDs unique within one compile pass.
type idPool struct {
	src  IDSource
	used map[int]struct{}
	scan int
}

func (p *idPool) next() int {
	for i := 0; i < maxIDDraws; i++ {
		id := p.src.Intn(MaxDirectiveID) + 1
		if _, taken := p.used[id]; !taken {
			p.used[id] = struct{}{}
			return id
		}
	}
	// Deterministic fallback once random draws keep colliding.
	for {
		p.scan++
		if p.scan > MaxDirectiveID {
			p.scan = 1
		}
		if _, taken := p.used[p.scan]; !taken {
			p.used[p.scan] = struct{}{}
			return p.scan
		}
	}
}

func findEnabledRule(rules []models.HeaderRule, id string) (models.HeaderRule, bool) {
	for _, r := range rules {
		if r.ID == id && r.Enabled {
			return r, true
		}
	}
	return models.HeaderRule{}, false
}

// Compile returns one directive per enabled website, URL pattern, enabled rule and header.
// Dangling rule references are skipped.
func (c *Compiler) Compile(websites []models.Website, rules []models.HeaderRule) []models.CompiledDirective {
	directives, _ := c.CompileWithSources(websites, rules)
	return directives
}

// CompileWithSources is Compile plus, for each directive, where it came from.
func (c *Compiler) CompileWithSources(websites []models.Website, rules []models.HeaderRule) ([]models.CompiledDirective, []models.DirectiveSource) {
	src := c.IDs
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	pool := &idPool{src: src, used: make(map[int]struct{})}

	var directives []models.CompiledDirective
	var sources []models.DirectiveSource
	for _, website := range websites {
		if !website.Enabled {
			continue
		}
		for _, pattern := range website.URLs {
			filter := CompilePattern(pattern)
			for _, ruleID := range website.EnabledRules {
				rule, ok := findEnabledRule(rules, ruleID)
				if !ok {
					continue
				}
				for _, header := range rule.Headers {
					directives = append(directives, models.CompiledDirective{
						ID:       pool.next(),
						Priority: DirectivePriority,
						Action: models.DirectiveAction{
							Type:           models.ActionModifyHeaders,
							RequestHeaders: []models.RequestHeaderEdit{headerEdit(header)},
						},
						Condition: models.DirectiveCondition{
							URLFilter:     filter,
							ResourceTypes: append([]string(nil), DirectiveResourceTypes...),
						},
					})
					sources = append(sources, models.DirectiveSource{
						Website: website.Name,
						Rule:    rule.Name,
						Header:  header.Name,
						Pattern: pattern,
					})
				}
			}
		}
	}
	return directives, sources
}

func headerEdit(h models.HeaderDirective) models.RequestHeaderEdit {
	edit := models.RequestHeaderEdit{Header: h.Name, Operation: h.EffectiveOperation()}
	if edit.Operation != models.OperationRemove {
		value := h.Value
		edit.Value = &value
	}
	return edit
}

// CountDirectives is the number of directives Compile would return.
func CountDirectives(websites []models.Website, rules []models.HeaderRule) int {
	n := 0
	for _, website := range websites {
		if !website.Enabled {
			continue
		}
		perPattern := 0
		for _, ruleID := range website.EnabledRules {
			if rule, ok := findEnabledRule(rules, ruleID); ok {
				perPattern += len(rule.Headers)
			}
		}
		n += perPattern * len(website.URLs)
	}
	return n
}
