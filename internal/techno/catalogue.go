// Package techno fingerprints web technologies. Response headers, cookies
// and markup are matched against the wappalyzergo fingerprint database;
// global JavaScript state, implied technologies and category metadata come
// from a local catalogue in the wappalyzer apps.json layout.
package techno

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed signatures.json
var defaultSignatures []byte

type catalogueFile struct {
	Categories map[string]categoryDef `json:"categories"`
	Apps       map[string]appDef      `json:"apps"`
}

type categoryDef struct {
	Name string `json:"name"`
}

type appDef struct {
	Cats    []int             `json:"cats"`
	JS      map[string]string `json:"js"`
	Implies stringList        `json:"implies"`
	Website string            `json:"website"`
	Icon    string            `json:"icon"`
}

// App is a compiled technology entry
type App struct {
	Name       string
	Categories []int
	Website    string
	Icon       string

	JS      map[string][]*Pattern
	Implies []Implied
}

// Implied is a technology whose presence follows from another one
type Implied struct {
	Name       string
	Confidence int
}

// Catalogue is the compiled signature database, loaded once per run
type Catalogue struct {
	apps       map[string]*App
	categories map[int]string
}

// LoadDefault compiles the embedded signature catalogue
func LoadDefault() (*Catalogue, error) {
	return Parse(defaultSignatures)
}

// LoadFile compiles a catalogue from a JSON file
func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures: %w", err)
	}
	return Parse(data)
}

// jsChain restricts global-state probes to dotted identifier paths
var jsChain = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// Parse compiles a catalogue. Patterns that do not compile (wappalyzer
// sources use lookarounds RE2 lacks) are skipped with a warning.
func Parse(data []byte) (*Catalogue, error) {
	var file catalogueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse signatures: %w", err)
	}

	c := &Catalogue{
		apps:       make(map[string]*App, len(file.Apps)),
		categories: make(map[int]string, len(file.Categories)),
	}

	for id, cat := range file.Categories {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid category id %q: %w", id, err)
		}
		c.categories[n] = cat.Name
	}

	for name, def := range file.Apps {
		c.apps[name] = compileApp(name, def)
	}

	return c, nil
}

func compileApp(name string, def appDef) *App {
	app := &App{
		Name:       name,
		Categories: def.Cats,
		Website:    def.Website,
		Icon:       def.Icon,
	}

	js := make(map[string]string, len(def.JS))
	for chain, raw := range def.JS {
		if !jsChain.MatchString(chain) {
			logrus.Warnf("Signature %s: skipping js probe %q", name, chain)
			continue
		}
		js[chain] = raw
	}
	app.JS = compileKeyed(name, js)

	for _, raw := range def.Implies {
		implied, err := parseImplied(raw)
		if err != nil {
			logrus.Warnf("Signature %s: skipping implies %q: %v", name, raw, err)
			continue
		}
		app.Implies = append(app.Implies, implied)
	}

	return app
}

// parseImplied reads "Name\;confidence:50"; the name is literal, not a regex
func parseImplied(raw string) (Implied, error) {
	parts := strings.Split(raw, `\;`)
	implied := Implied{
		Name:       strings.TrimSpace(parts[0]),
		Confidence: defaultConfidence,
	}
	for _, tag := range parts[1:] {
		if value, ok := strings.CutPrefix(tag, "confidence:"); ok {
			n, err := strconv.Atoi(value)
			if err != nil {
				return Implied{}, err
			}
			implied.Confidence = n
		}
	}
	if implied.Name == "" {
		return Implied{}, fmt.Errorf("empty name")
	}
	return implied, nil
}

func compileKeyed(app string, raw map[string]string) map[string][]*Pattern {
	compiled := make(map[string][]*Pattern, len(raw))
	for k, v := range raw {
		p, err := ParsePattern(v)
		if err != nil {
			logrus.Warnf("Signature %s: skipping js %s: %v", app, k, err)
			continue
		}
		compiled[k] = append(compiled[k], p)
	}
	return compiled
}

// Len returns the number of technologies in the catalogue
func (c *Catalogue) Len() int {
	return len(c.apps)
}

// App returns a technology by name
func (c *Catalogue) App(name string) (*App, bool) {
	app, ok := c.apps[name]
	return app, ok
}

// CategoryNames maps category ids to names, skipping unknown ids
func (c *Catalogue) CategoryNames(ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := c.categories[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// JSChains lists every global-state chain probed by the catalogue, sorted
func (c *Catalogue) JSChains() []string {
	seen := make(map[string]struct{})
	for _, app := range c.apps {
		for chain := range app.JS {
			seen[chain] = struct{}{}
		}
	}
	chains := make([]string, 0, len(seen))
	for chain := range seen {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// Filter returns a catalogue restricted to technologies the scope allows
func (c *Catalogue) Filter(scope Scope) *Catalogue {
	if scope.All() {
		return c
	}

	filtered := &Catalogue{
		apps:       make(map[string]*App),
		categories: c.categories,
	}
	for name, app := range c.apps {
		if scope.Allows(name, app.Categories) {
			filtered.apps[name] = app
		}
	}
	return filtered
}

// Scope limits detection to a set of category ids plus technologies kept
// by name. An empty scope allows everything.
type Scope struct {
	Categories []int
	Keep       []string
}

// All reports whether the scope allows every technology
func (s Scope) All() bool {
	return len(s.Categories) == 0
}

// Allows reports whether a technology in the given categories is in scope
func (s Scope) Allows(name string, categories []int) bool {
	if s.All() || slices.Contains(s.Keep, name) {
		return true
	}
	for _, id := range categories {
		if slices.Contains(s.Categories, id) {
			return true
		}
	}
	return false
}
