package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/web-surveyor/internal/page"
)

// JSONLDResult reports the first JSON-LD block of a page
type JSONLDResult struct {
	IsJSONLD   bool `json:"isJsonLd"`
	JSONLDData any  `json:"jsonLdData,omitempty"`
}

// JSONLDAnalyzer decodes the first application/ld+json script of a page.
// A block that is not valid JSON fails the analyzer.
type JSONLDAnalyzer struct{}

func (JSONLDAnalyzer) Name() string { return "json_ld" }

func (JSONLDAnalyzer) Analyze(ctx context.Context, p page.Page) (any, error) {
	scripts, err := p.QueryAll(ctx, `script[type="application/ld+json"]`)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		return &JSONLDResult{}, nil
	}

	var data any
	if err := json.Unmarshal([]byte(strings.TrimSpace(scripts[0].Text)), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON-LD block: %w", err)
	}
	return &JSONLDResult{IsJSONLD: true, JSONLDData: data}, nil
}

// MicrodataItem is one itemscope with its properties. Property values are
// strings or nested items.
type MicrodataItem struct {
	Type       []string         `json:"@type,omitempty"`
	ID         string           `json:"@id,omitempty"`
	Properties map[string][]any `json:"properties"`
}

// MicrodataResult lists the top-level microdata items of a page
type MicrodataResult struct {
	IsMicrodata bool             `json:"isMicrodata"`
	Microdata   []*MicrodataItem `json:"microdata,omitempty"`
}

// MicrodataAnalyzer extracts schema.org style microdata
type MicrodataAnalyzer struct{}

func (MicrodataAnalyzer) Name() string { return "microdata" }

func (MicrodataAnalyzer) Analyze(ctx context.Context, p page.Page) (any, error) {
	doc, err := parseDocument(ctx, p)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(p.URL())

	result := &MicrodataResult{}
	doc.Find("[itemscope]").Not("[itemprop]").Each(func(_ int, s *goquery.Selection) {
		result.Microdata = append(result.Microdata, readItem(s, base))
	})
	result.IsMicrodata = len(result.Microdata) > 0
	return result, nil
}

func readItem(scope *goquery.Selection, base *url.URL) *MicrodataItem {
	item := &MicrodataItem{Properties: make(map[string][]any)}
	if itemType, ok := scope.Attr("itemtype"); ok {
		item.Type = strings.Fields(itemType)
	}
	item.ID, _ = scope.Attr("itemid")
	collectProperties(scope.Children(), item, base)
	return item
}

// collectProperties walks the subtree of an item. Nested scopes own
// everything beneath them.
func collectProperties(nodes *goquery.Selection, item *MicrodataItem, base *url.URL) {
	nodes.Each(func(_ int, s *goquery.Selection) {
		_, nested := s.Attr("itemscope")
		if props, ok := s.Attr("itemprop"); ok {
			var value any
			if nested {
				value = readItem(s, base)
			} else {
				value = propertyValue(s, base)
			}
			for _, name := range strings.Fields(props) {
				item.Properties[name] = append(item.Properties[name], value)
			}
		}
		if !nested {
			collectProperties(s.Children(), item, base)
		}
	})
}

func propertyValue(s *goquery.Selection, base *url.URL) string {
	attr := func(name string) string {
		v, _ := s.Attr(name)
		return strings.TrimSpace(v)
	}

	switch goquery.NodeName(s) {
	case "meta":
		return attr("content")
	case "audio", "embed", "iframe", "img", "source", "track", "video":
		return page.Resolve(base, attr("src"))
	case "a", "area", "link":
		return page.Resolve(base, attr("href"))
	case "object":
		return page.Resolve(base, attr("data"))
	case "data", "meter":
		return attr("value")
	case "time":
		if v := attr("datetime"); v != "" {
			return v
		}
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}
