package techno

import (
	"sort"
	"sync"

	"github.com/alvmarrod/web-surveyor/internal/model"
)

// maxImplyDepth stops implies chains that loop
const maxImplyDepth = 5

type detection struct {
	confidence map[string]int
	version    string
	categories []int
}

func (d *detection) total() int {
	sum := 0
	for _, c := range d.confidence {
		sum += c
	}
	return min(sum, 100)
}

// DetectionSet merges hits per technology. The same pattern counts once,
// different patterns add up to a confidence capped at 100, and the longest
// version seen wins.
type DetectionSet struct {
	mu   sync.Mutex
	apps map[string]*detection
}

// NewDetectionSet creates an empty set
func NewDetectionSet() *DetectionSet {
	return &DetectionSet{apps: make(map[string]*detection)}
}

// Add records a hit. It matches the report callback of Catalogue.MatchJS.
func (s *DetectionSet) Add(hit Hit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.apps[hit.App]
	if !ok {
		d = &detection{confidence: make(map[string]int)}
		s.apps[hit.App] = d
	}
	d.confidence[hit.Source] = hit.Confidence
	if len(hit.Version) > len(d.version) {
		d.version = hit.Version
	}
	if len(d.categories) == 0 {
		d.categories = hit.Categories
	}
}

// Len returns the number of distinct technologies detected
func (s *DetectionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.apps)
}

// Technologies resolves implied technologies and returns the final list
// sorted by name
func (s *DetectionSet) Technologies(c *Catalogue) []model.Technology {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolveImplies(c)

	techs := make([]model.Technology, 0, len(s.apps))
	for name, d := range s.apps {
		tech := model.Technology{
			Name:       name,
			Confidence: d.total(),
			Version:    d.version,
			Icon:       "default.svg",
		}
		if app, ok := c.App(name); ok {
			tech.Categories = c.CategoryNames(app.Categories)
			tech.Website = app.Website
			if app.Icon != "" {
				tech.Icon = app.Icon
			}
		} else {
			tech.Categories = c.CategoryNames(d.categories)
		}
		techs = append(techs, tech)
	}

	sort.Slice(techs, func(i, j int) bool { return techs[i].Name < techs[j].Name })
	return techs
}

func (s *DetectionSet) resolveImplies(c *Catalogue) {
	pending := make([]string, 0, len(s.apps))
	for name := range s.apps {
		pending = append(pending, name)
	}

	for depth := 0; depth < maxImplyDepth && len(pending) > 0; depth++ {
		var next []string
		for _, name := range pending {
			app, ok := c.App(name)
			if !ok {
				continue
			}
			for _, implied := range app.Implies {
				d, exists := s.apps[implied.Name]
				if !exists {
					d = &detection{confidence: make(map[string]int)}
					s.apps[implied.Name] = d
					next = append(next, implied.Name)
				}
				d.confidence["implies "+name] = implied.Confidence
			}
		}
		pending = next
	}
}
