package analysis

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/web-surveyor/internal/page"
	"golang.org/x/net/html"
)

// SEOThresholds are the limits the basic SEO checks are measured against
type SEOThresholds struct {
	MaxTitleLength           int `json:"max_title_length" yaml:"max_title_length"`
	MinTitleLength           int `json:"min_title_length" yaml:"min_title_length"`
	MaxMetaDescriptionLength int `json:"max_meta_description_length" yaml:"max_meta_description_length"`
	MaxLinksCount            int `json:"max_links_count" yaml:"max_links_count"`
	MaxWordsCount            int `json:"max_words_count" yaml:"max_words_count"`
}

// DefaultSEOThresholds returns the stock limits
func DefaultSEOThresholds() SEOThresholds {
	return SEOThresholds{
		MaxTitleLength:           70,
		MinTitleLength:           10,
		MaxMetaDescriptionLength: 140,
		MaxLinksCount:            3000,
		MaxWordsCount:            350,
	}
}

// SEOReport holds the basic on-page SEO signals
type SEOReport struct {
	IsCharacterEncode     bool     `json:"isCharacterEncode"`
	IsMetaDescription     bool     `json:"isMetaDescription"`
	MetaDescription       string   `json:"metaDescription,omitempty"`
	MetaDescriptionLength int      `json:"metaDescriptionLength"`
	IsMetaDescriptionLong bool     `json:"isMetaDescriptionLong"`
	IsDoctype             bool     `json:"isDoctype"`
	IsTitle               bool     `json:"isTitle"`
	Title                 string   `json:"title,omitempty"`
	TitleLength           int      `json:"titleLength"`
	IsTitleLong           bool     `json:"isTitleLong"`
	IsTitleShort          bool     `json:"isTitleShort"`
	IsH1                  bool     `json:"isH1"`
	H1                    string   `json:"h1,omitempty"`
	H1Count               int      `json:"h1Count"`
	IsH1Multiple          bool     `json:"isH1Multiple"`
	IsH2                  bool     `json:"isH2"`
	H2Count               int      `json:"h2Count"`
	LinksCount            int      `json:"linksCount"`
	IsTooMuchLinks        bool     `json:"isTooMuchLinks"`
	InternalNoFollowLinks []string `json:"internalNoFollowLinks"`
	InternalNoFollowCount int      `json:"internalNoFollowLinksCount"`
	NotOptimizedImgs      []string `json:"notOptimizedImgs"`
	NotOptimizedImgsCount int      `json:"notOptimizedImgsCount"`
	WordsCount            int      `json:"wordsCount"`
	IsContentTooLong      bool     `json:"isContentTooLong"`
	IsViewport            bool     `json:"isViewport"`
	IsAmp                 bool     `json:"isAmp"`
	IsIframe              bool     `json:"isIframe"`
}

// SEOAnalyzer extracts structural and meta signals from the rendered document
type SEOAnalyzer struct {
	thresholds SEOThresholds
}

// NewSEOAnalyzer creates the analyzer with the given thresholds
func NewSEOAnalyzer(thresholds SEOThresholds) *SEOAnalyzer {
	return &SEOAnalyzer{thresholds: thresholds}
}

func (a *SEOAnalyzer) Name() string { return "seo" }

func (a *SEOAnalyzer) Analyze(ctx context.Context, p page.Page) (any, error) {
	doc, err := parseDocument(ctx, p)
	if err != nil {
		return nil, err
	}
	return a.report(doc, p.URL()), nil
}

func (a *SEOAnalyzer) report(doc *goquery.Document, pageURL string) *SEOReport {
	r := &SEOReport{
		InternalNoFollowLinks: []string{},
		NotOptimizedImgs:      []string{},
	}

	r.IsCharacterEncode = doc.Find("meta[charset]").Length() > 0 ||
		doc.Find("meta[http-equiv]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("http-equiv")
			return strings.EqualFold(v, "content-type")
		}).Length() > 0

	if desc, ok := metaContent(doc, "description"); ok {
		r.IsMetaDescription = true
		r.MetaDescription = desc
		r.MetaDescriptionLength = utf8.RuneCountInString(desc)
		r.IsMetaDescriptionLong = r.MetaDescriptionLength > a.thresholds.MaxMetaDescriptionLength
	}

	r.IsDoctype = hasDoctype(doc)

	if title := doc.Find("title").First(); title.Length() > 0 {
		r.IsTitle = true
		r.Title = strings.TrimSpace(title.Text())
		r.TitleLength = utf8.RuneCountInString(r.Title)
		r.IsTitleLong = r.TitleLength > a.thresholds.MaxTitleLength
		r.IsTitleShort = r.TitleLength < a.thresholds.MinTitleLength
	}

	h1 := doc.Find("h1")
	r.H1Count = h1.Length()
	r.IsH1 = r.H1Count > 0
	r.IsH1Multiple = r.H1Count > 1
	if r.IsH1 {
		r.H1 = strings.TrimSpace(h1.Text())
	}
	r.H2Count = doc.Find("h2").Length()
	r.IsH2 = r.H2Count > 0

	anchors := doc.Find("a")
	r.LinksCount = anchors.Length()
	r.IsTooMuchLinks = r.LinksCount > a.thresholds.MaxLinksCount

	base, _ := url.Parse(pageURL)
	hostname := ""
	if base != nil {
		hostname = base.Hostname()
	}
	anchors.Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !slices.Contains(strings.Fields(strings.ToLower(rel)), "nofollow") {
			return
		}
		href, _ := s.Attr("href")
		abs := page.Resolve(base, href)
		if hostname != "" && strings.Contains(abs, hostname) {
			r.InternalNoFollowLinks = append(r.InternalNoFollowLinks, abs)
		}
	})
	r.InternalNoFollowCount = len(r.InternalNoFollowLinks)

	doc.Find("img:not([alt])").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			r.NotOptimizedImgs = append(r.NotOptimizedImgs, src)
		}
	})
	r.NotOptimizedImgsCount = len(r.NotOptimizedImgs)

	r.WordsCount = len(strings.Fields(doc.Find("body").Text()))
	r.IsContentTooLong = r.WordsCount > a.thresholds.MaxWordsCount

	_, r.IsViewport = metaContent(doc, "viewport")

	root := doc.Find("html").First()
	_, amp := root.Attr("amp")
	_, bolt := root.Attr("⚡")
	r.IsAmp = amp || bolt

	r.IsIframe = doc.Find("iframe").Length() > 0
	return r
}

// metaContent finds a meta tag by name, case-insensitively
func metaContent(doc *goquery.Document, name string) (string, bool) {
	var content string
	found := false
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
		content, _ = s.Attr("content")
		found = true
		return false
	})
	return content, found
}

func hasDoctype(doc *goquery.Document) bool {
	for _, root := range doc.Nodes {
		for n := root.FirstChild; n != nil; n = n.NextSibling {
			if n.Type == html.DoctypeNode {
				return true
			}
		}
	}
	return false
}

func parseDocument(ctx context.Context, p page.Page) (*goquery.Document, error) {
	markup, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(markup))
}
