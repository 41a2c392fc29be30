package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/analysis"
	"github.com/alvmarrod/web-surveyor/internal/config"
	"github.com/alvmarrod/web-surveyor/internal/frontier"
	"github.com/alvmarrod/web-surveyor/internal/memory"
	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/output"
	"github.com/alvmarrod/web-surveyor/internal/page"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Resolver probes the address records of a page host
type Resolver interface {
	LookupV4(ctx context.Context, host string) (string, error)
	LookupV6(ctx context.Context, host string) error
}

// DomainStore persists frontier domains across runs
type DomainStore interface {
	UpsertDomain(domain, discoveredFrom string) (int, error)
	MarkHandled(domain string) error
}

// Observer receives crawl counters. *metrics.Tracker satisfies it.
type Observer interface {
	DomainsDiscovered(n int)
	EdgesRecorded(n int)
	PageFetched(duration time.Duration)
	PageProcessed()
	PageFailed()
	FetchRetried()
	AnalyzersFailed(n int)
}

// Options tune the page task controller
type Options struct {
	TargetTLD         string
	Workers           int
	RetryAttempts     int
	RetryDelay        time.Duration
	RequestsPerSecond float64
}

// OptionsFromConfig maps the runtime configuration to controller options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TargetTLD:         cfg.TLD(),
		Workers:           cfg.ConcurrentWorkers,
		RetryAttempts:     cfg.RetryAttempts,
		RetryDelay:        cfg.RetryDelay(),
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// Deps are the collaborators of a crawler. Store, Graph and Observer are optional.
type Deps struct {
	Fetcher  page.Fetcher
	Pipeline *analysis.Pipeline
	Resolver Resolver
	Emitter  output.Emitter
	Store    DomainStore
	Graph    *memory.Graph
	Observer Observer
}

// Crawler visits queued domains, grows the frontier from their links and
// emits one record per visited page
type Crawler struct {
	opts     Options
	deps     Deps
	claims   *frontier.ClaimStore
	expander *frontier.Expander
	queue    *Queue
	limiter  *rate.Limiter
}

// NewCrawler creates a new crawler instance
func NewCrawler(opts Options, deps Deps) (*Crawler, error) {
	if deps.Fetcher == nil || deps.Pipeline == nil || deps.Resolver == nil {
		return nil, errors.New("crawler needs a fetcher, a pipeline and a resolver")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if deps.Emitter == nil {
		deps.Emitter = output.Multi{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	claims := frontier.NewClaimStore()
	c := &Crawler{
		opts:     opts,
		deps:     deps,
		claims:   claims,
		expander: frontier.NewExpander(claims, opts.TargetTLD),
		queue:    NewQueue(),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Queue exposes the domain queue for progress reporting
func (c *Crawler) Queue() *Queue {
	return c.queue
}

// Done is closed once the frontier is exhausted
func (c *Crawler) Done() <-chan struct{} {
	return c.queue.Finished()
}

// Resume restores a persisted frontier: handled domains are never visited
// again and pending ones are queued before any seed.
func (c *Crawler) Resume(handled, pending []string) {
	c.claims.Preload(handled...)
	c.claims.Preload(pending...)
	c.queue.MarkKnownHandled(handled...)
	for _, domain := range pending {
		c.queue.TryEnqueue(model.QueueEntry{URL: domainURL(domain), Domain: domain})
	}
	logrus.Infof("Resumed frontier: %d handled, %d pending", len(handled), len(pending))
}

// SkipVisitedSeeds records seed URLs that already produced a record in an
// earlier run
func (c *Crawler) SkipVisitedSeeds(urls ...string) {
	c.queue.MarkSeedsVisited(urls...)
}

// EnqueueSeed queues a seed URL. Every distinct seed URL is visited, even
// several on one site. The seed's site is claimed so links back to it are
// not reported as new domains.
func (c *Crawler) EnqueueSeed(seedURL string) (bool, error) {
	parsed, err := url.Parse(strings.TrimSpace(seedURL))
	if err != nil || parsed.Hostname() == "" {
		return false, fmt.Errorf("invalid seed URL %q", seedURL)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""

	host := strings.ToLower(parsed.Hostname())
	domain, ok := frontier.SLD(host)
	if !ok {
		domain = host
	}

	// a seed naming just the bare domain shares the domain's entry
	bare := host == domain && parsed.Port() == "" && parsed.RawQuery == "" &&
		(parsed.Path == "" || parsed.Path == "/")
	entry := model.QueueEntry{URL: parsed.String(), Domain: domain, Seed: !bare}

	claimed := c.claims.TryClaim(domain)

	res := c.queue.TryEnqueue(entry)
	if !res.Added() {
		logrus.Debugf("Seed %s already known (handled=%v)", seedURL, res.WasAlreadyHandled)
		return false, nil
	}

	if claimed {
		if c.deps.Store != nil {
			if _, err := c.deps.Store.UpsertDomain(domain, ""); err != nil {
				return false, fmt.Errorf("failed to persist seed domain: %w", err)
			}
		}
		c.deps.Observer.DomainsDiscovered(1)
	}
	return true, nil
}

// Run processes the queue with the configured number of workers until the
// frontier is exhausted or ctx is cancelled
func (c *Crawler) Run(ctx context.Context) error {
	c.queue.Seal()

	logrus.Infof("Starting %d crawler workers", c.opts.Workers)
	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id)
		}(i + 1)
	}

	select {
	case <-c.queue.Finished():
		logrus.Info("Queue empty with no pages in flight, crawl complete")
	case <-ctx.Done():
		logrus.Info("Stopping crawler...")
		c.queue.Stop()
	}

	wg.Wait()
	logrus.Info("Crawler stopped")
	return ctx.Err()
}

func (c *Crawler) worker(ctx context.Context, id int) {
	logrus.Debugf("Worker %d started", id)

	for {
		entry, ok := c.queue.Pop()
		if !ok {
			logrus.Debugf("Worker %d: queue finished, exiting", id)
			return
		}

		logrus.Debugf("Worker %d: popped %s", id, entry.URL)
		rec := c.Process(ctx, entry.URL)
		if rec != nil && c.deps.Store != nil {
			if err := c.deps.Store.MarkHandled(entry.Domain); err != nil {
				logrus.Warnf("Worker %d: failed to mark %s handled: %v", id, entry.Domain, err)
			}
		}
		c.queue.Done(entry)
	}
}

// Process visits one URL, retrying failed attempts, and emits exactly one
// record for it. It returns nil without emitting when ctx is cancelled
// before the page is settled.
func (c *Crawler) Process(ctx context.Context, rawURL string) *model.PageRecord {
	rec, err := c.processWithRetry(ctx, rawURL)
	if err != nil {
		logrus.Warnf("Abandoned %s: %v", rawURL, err)
		return nil
	}
	rec.FinishedAt = time.Now()

	if rec.IsOpen {
		c.deps.Observer.PageProcessed()
	} else {
		c.deps.Observer.PageFailed()
	}

	if err := c.deps.Emitter.Emit(context.WithoutCancel(ctx), rec); err != nil {
		logrus.Errorf("Failed to emit record for %s: %v", rawURL, err)
	}
	return rec
}

func (c *Crawler) processWithRetry(ctx context.Context, rawURL string) (*model.PageRecord, error) {
	log := logrus.WithField("url", rawURL)
	started := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.opts.RetryDelay); err != nil {
				return nil, err
			}
		}

		rec, err := c.attempt(ctx, rawURL)
		if err == nil {
			rec.Attempts = attempt
			rec.StartedAt = started
			return rec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		log.WithField("attempt", attempt).Warnf("Attempt failed: %v", err)
		if attempt < c.opts.RetryAttempts {
			c.deps.Observer.FetchRetried()
		}
	}

	log.Errorf("Request failed %d times", c.opts.RetryAttempts)
	return &model.PageRecord{
		ID:        uuid.NewString(),
		URL:       rawURL,
		IsOpen:    false,
		ErrorMsg:  lastErr.Error(),
		Attempts:  c.opts.RetryAttempts,
		StartedAt: started,
	}, nil
}

// attempt runs one fetch and the concurrent page sub-tasks
func (c *Crawler) attempt(ctx context.Context, rawURL string) (rec *model.PageRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page task panicked: %v", r)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	fetchStart := time.Now()
	pg, err := c.deps.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer pg.Close()
	c.deps.Observer.PageFetched(time.Since(fetchStart))
	logrus.Debugf("Fetched %s in %v (status %d)", pg.URL(), time.Since(fetchStart), pg.StatusCode())

	loaded, err := url.Parse(pg.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid loaded URL %q: %w", pg.URL(), err)
	}
	host := strings.ToLower(loaded.Hostname())
	domain, ok := frontier.SLD(host)
	if !ok {
		domain = host
	}

	rec = &model.PageRecord{
		ID:                   uuid.NewString(),
		URL:                  rawURL,
		IsOpen:               true,
		LoadedURL:            pg.URL(),
		StatusCode:           pg.StatusCode(),
		Domain:               domain,
		Hostname:             host,
		Protocol:             loaded.Scheme + ":",
		IsSSLRedirect:        loaded.Scheme == "https",
		IsPublicSuffixDomain: frontier.IsPublicSuffix(domain),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered("link discovery", func() error {
		links, err := page.Links(gctx, pg)
		if err != nil {
			return fmt.Errorf("link discovery failed: %w", err)
		}
		expansion := c.expander.Expand(links, host)
		rec.NewDomains = c.enqueueNew(domain, expansion.NewDomains)
		rec.SameSiteLinks = expansion.SameSiteLinks
		return nil
	}))
	g.Go(recovered("analysis", func() error {
		analysisStart := time.Now()
		rec.Analysis = c.deps.Pipeline.Run(gctx, pg)
		logrus.Debugf("Analyzed %s in %v", pg.URL(), time.Since(analysisStart))
		return nil
	}))
	g.Go(recovered("dns probe", func() error {
		rec.ServerIPv4Address, rec.IsIPv6Support = c.probeDNS(gctx, host)
		return nil
	}))
	g.Go(recovered("title", func() error {
		title, err := pg.Title(gctx)
		if err != nil {
			logrus.Debugf("No title for %s: %v", pg.URL(), err)
			return nil
		}
		rec.Title = title
		return nil
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, result := range rec.Analysis {
		if result.Failed {
			failed++
		}
	}
	if failed > 0 {
		c.deps.Observer.AnalyzersFailed(failed)
	}
	return rec, nil
}

// enqueueNew pushes freshly claimed domains to the queue. Only domains the
// queue did not know yet are reported back.
func (c *Crawler) enqueueNew(from string, domains []string) []string {
	added := make([]string, 0, len(domains))
	for _, domain := range domains {
		res := c.queue.TryEnqueue(model.QueueEntry{URL: domainURL(domain), Domain: domain})
		if !res.Added() {
			continue
		}
		added = append(added, domain)

		if c.deps.Store != nil {
			if _, err := c.deps.Store.UpsertDomain(domain, from); err != nil {
				logrus.Warnf("Failed to persist domain %s: %v", domain, err)
			}
		}
		if c.deps.Graph != nil {
			c.deps.Graph.RecordEdge(from, domain)
		}
		logrus.Infof("Edge: %s -> %s", from, domain)
	}

	if len(added) > 0 {
		c.deps.Observer.DomainsDiscovered(len(added))
		c.deps.Observer.EdgesRecorded(len(added))
	}
	return added
}

func (c *Crawler) probeDNS(ctx context.Context, host string) (string, bool) {
	addr, err := c.deps.Resolver.LookupV4(ctx, host)
	if err != nil {
		logrus.Debugf("No IPv4 address for %s: %v", host, err)
		addr = ""
	}
	v6 := c.deps.Resolver.LookupV6(ctx, host) == nil
	return addr, v6
}

// recovered turns a panic inside a page sub-task into an attempt failure
func recovered(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func domainURL(domain string) string {
	return "http://" + domain
}

type nopObserver struct{}

func (nopObserver) DomainsDiscovered(int)     {}
func (nopObserver) EdgesRecorded(int)         {}
func (nopObserver) PageFetched(time.Duration) {}
func (nopObserver) PageProcessed()            {}
func (nopObserver) PageFailed()               {}
func (nopObserver) FetchRetried()             {}
func (nopObserver) AnalyzersFailed(int)       {}
