// Package page adapts page-loading engines to the handle the crawler and the
// analyzers work against. Two engines are provided: a colly fetcher that
// serves the raw response as a static document, and a chromedp fetcher that
// keeps a headless Chrome tab open for script evaluation.
package page

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrFetch wraps every failure to load a page
	ErrFetch = errors.New("fetch failed")
	// ErrEvaluateUnsupported is returned by pages that cannot run scripts
	ErrEvaluateUnsupported = errors.New("page does not support script evaluation")
)

// Element is a snapshot of one DOM element matched by a selector
type Element struct {
	Tag   string
	Text  string
	Attrs map[string]string
}

// Attr returns an attribute value and whether it was present
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// Page is a loaded page. Implementations must be safe for concurrent use:
// analyzers query the same page from several goroutines.
type Page interface {
	// URL is the loaded URL after redirects
	URL() string
	StatusCode() int
	Headers() http.Header
	Title(ctx context.Context) (string, error)
	// HTML is the serialized document including the doctype
	HTML(ctx context.Context) (string, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Evaluate runs a script expression in the page and decodes its result into out
	Evaluate(ctx context.Context, expression string, out any) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close()
}

// Fetcher loads pages
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
	Close() error
}

// Options configures both fetchers
type Options struct {
	Timeout     time.Duration
	UserAgent   string
	ProxyURL    string
	Parallelism int
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

func (o Options) userAgent() string {
	if strings.TrimSpace(o.UserAgent) != "" {
		return o.UserAgent
	}
	return defaultUserAgent
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 60 * time.Second
	}
	return o.Timeout
}

// Links returns the absolute targets of every a[href] on the page,
// resolved against the loaded URL the way a browser resolves el.href.
func Links(ctx context.Context, p Page) ([]string, error) {
	anchors, err := p.QueryAll(ctx, "a[href]")
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(p.URL())
	links := make([]string, 0, len(anchors))
	for _, a := range anchors {
		href, _ := a.Attr("href")
		if abs := Resolve(base, href); abs != "" {
			links = append(links, abs)
		}
	}
	return links, nil
}

// Resolve makes ref absolute against base. Empty and unparseable references
// resolve to the empty string.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || parsed.IsAbs() {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}
