package page

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// ChromedpFetcher renders pages in tabs of one shared headless Chrome
type ChromedpFetcher struct {
	opts          Options
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpFetcher starts the browser that every fetch opens a tab in
func NewChromedpFetcher(opts Options) (*ChromedpFetcher, error) {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		// Images are never analyzed; skip downloading them
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(opts.userAgent()),
	)
	if opts.ProxyURL != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromedpFetcher{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

type documentResponse struct {
	status  int
	headers http.Header
}

// Fetch opens a tab, navigates to rawURL and waits for the document to be
// ready. The tab stays open until the returned page is closed.
func (f *ChromedpFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)

	var mu sync.Mutex
	responses := make(map[string]documentResponse)
	var first *documentResponse

	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		resp := documentResponse{
			status:  int(e.Response.Status),
			headers: convertHeaders(e.Response.Headers),
		}
		mu.Lock()
		defer mu.Unlock()
		responses[e.Response.URL] = resp
		if first == nil {
			first = &resp
		}
	})

	// The tab is created on the first Run; doing that on the undecorated
	// context keeps the navigation timeout from closing it
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: %s: open tab: %w", ErrFetch, rawURL, err)
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, f.opts.timeout())
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	start := time.Now()
	var finalURL string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(rawURL),
		waitForDocumentReady(),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}

	mu.Lock()
	resp, ok := responses[finalURL]
	if !ok && first != nil {
		resp = *first
	}
	mu.Unlock()
	if resp.headers == nil {
		resp.headers = http.Header{}
	}

	logrus.Debugf("chromedp rendered %s (status=%d) in %v", finalURL, resp.status, time.Since(start))

	return &chromePage{
		ctx:     tabCtx,
		cancel:  tabCancel,
		url:     finalURL,
		status:  resp.status,
		headers: resp.headers,
	}, nil
}

// Close shuts the browser down
func (f *ChromedpFetcher) Close() error {
	f.browserCancel()
	f.allocCancel()
	return nil
}

func waitForDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func convertHeaders(h network.Headers) http.Header {
	headers := http.Header{}
	for k, v := range h {
		headers.Add(k, fmt.Sprint(v))
	}
	return headers
}

// chromePage is an open tab. Every query is a round-trip into the browser.
type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	url     string
	status  int
	headers http.Header
}

func (p *chromePage) URL() string          { return p.url }
func (p *chromePage) StatusCode() int      { return p.status }
func (p *chromePage) Headers() http.Header { return p.headers.Clone() }
func (p *chromePage) Close()               { p.cancel() }

// run executes actions in the tab, aborting when ctx is done
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

const serializeDocument = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : "") + document.documentElement.outerHTML`

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(serializeDocument, &html))
	return html, err
}

const queryAllScript = `Array.from(document.querySelectorAll(%s)).map(el => {
	const attrs = {};
	for (const a of el.attributes) attrs[a.name] = a.value;
	return {tag: el.tagName.toLowerCase(), text: el.textContent, attrs};
})`

type domElement struct {
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
}

func (p *chromePage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}

	var found []domElement
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryAllScript, quoted), &found)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	elements := make([]Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, Element(el))
	}
	return elements, nil
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *chromePage) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, nil
}
