package page

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Document is a page backed by a static HTML response. It answers selector
// queries with goquery and cannot evaluate scripts.
type Document struct {
	url     string
	status  int
	headers http.Header
	body    string
	cookies []*http.Cookie
	doc     *goquery.Document
}

// NewDocument parses body into a queryable page
func NewDocument(loadedURL string, status int, headers http.Header, body []byte, cookies []*http.Cookie) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &Document{
		url:     loadedURL,
		status:  status,
		headers: headers,
		body:    string(body),
		cookies: cookies,
		doc:     doc,
	}, nil
}

func (d *Document) URL() string          { return d.url }
func (d *Document) StatusCode() int      { return d.status }
func (d *Document) Headers() http.Header { return d.headers.Clone() }
func (d *Document) Close()               {}

func (d *Document) Title(ctx context.Context) (string, error) {
	return strings.TrimSpace(d.doc.Find("title").First().Text()), nil
}

func (d *Document) HTML(ctx context.Context) (string, error) {
	return d.body, nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := compileSelection(d.doc, selector)
	if err != nil {
		return nil, err
	}

	elements := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, elementFromNode(s))
	})
	return elements, nil
}

func (d *Document) Evaluate(ctx context.Context, expression string, out any) error {
	return ErrEvaluateUnsupported
}

func (d *Document) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	cookies := make([]*http.Cookie, len(d.cookies))
	copy(cookies, d.cookies)
	return cookies, nil
}

// compileSelection runs a selector. goquery silently matches nothing on an
// invalid selector, so it is compiled up front to surface the error.
func compileSelection(doc *goquery.Document, selector string) (*goquery.Selection, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return doc.FindMatcher(matcher), nil
}

func elementFromNode(s *goquery.Selection) Element {
	el := Element{
		Text:  s.Text(),
		Attrs: make(map[string]string),
	}
	if len(s.Nodes) == 0 {
		return el
	}
	node := s.Nodes[0]
	if node.Type == html.ElementNode {
		el.Tag = node.Data
	}
	for _, attr := range node.Attr {
		el.Attrs[attr.Key] = attr.Val
	}
	return el
}
