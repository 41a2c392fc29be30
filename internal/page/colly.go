package page

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// CollyFetcher loads pages with a colly collector. Pages are static
// documents: no script runs and Evaluate is unsupported.
type CollyFetcher struct {
	collector *colly.Collector
	opts      Options
}

// NewCollyFetcher configures the base collector every fetch is cloned from
func NewCollyFetcher(opts Options) (*CollyFetcher, error) {
	c := colly.NewCollector(
		colly.UserAgent(opts.userAgent()),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)

	c.SetRequestTimeout(opts.timeout())
	// Error statuses still produce a page; the record keeps the status code
	c.ParseHTTPErrorResponse = true

	if opts.ProxyURL != "" {
		if err := c.SetProxy(opts.ProxyURL); err != nil {
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
	}

	if opts.Parallelism > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: opts.Parallelism,
		}); err != nil {
			return nil, fmt.Errorf("failed to set limit rule: %w", err)
		}
	}

	return &CollyFetcher{collector: c, opts: opts}, nil
}

// Fetch visits rawURL and returns the response as a Document
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	c := f.collector.Clone()

	var response *colly.Response
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		response = r
	})
	c.OnError(func(r *colly.Response, err error) {
		response = r
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
		}
	}

	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, fetchErr)
	}
	if response == nil || response.Request == nil {
		return nil, fmt.Errorf("%w: %s: no response", ErrFetch, rawURL)
	}

	loadedURL := response.Request.URL.String()
	headers := http.Header{}
	if response.Headers != nil {
		headers = response.Headers.Clone()
	}
	cookies := c.Cookies(loadedURL)

	logrus.Debugf("colly fetched %s (status=%d, bytes=%d)", loadedURL, response.StatusCode, len(response.Body))

	doc, err := NewDocument(loadedURL, response.StatusCode, headers, response.Body, cookies)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}
	return doc, nil
}

// Close releases nothing; colly holds no long-lived resources
func (f *CollyFetcher) Close() error {
	return nil
}
