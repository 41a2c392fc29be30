package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/analysis"
	"github.com/alvmarrod/web-surveyor/internal/config"
	"github.com/alvmarrod/web-surveyor/internal/crawler"
	"github.com/alvmarrod/web-surveyor/internal/dns"
	"github.com/alvmarrod/web-surveyor/internal/memory"
	"github.com/alvmarrod/web-surveyor/internal/metrics"
	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/output"
	"github.com/alvmarrod/web-surveyor/internal/page"
	"github.com/alvmarrod/web-surveyor/internal/storage"
	"github.com/alvmarrod/web-surveyor/internal/techno"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from the seeds until the frontier is exhausted",
		Long: `Crawl visits the seed pages and every new domain discovered from them.
Each page is analyzed and written as one JSON line to the output file and to
the sqlite database. An interrupted crawl resumes from the database on the
next run.

Examples:
  web-surveyor crawl --seed https://www.example.cz
  web-surveyor crawl --config config.yaml --renderer chromedp`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("config", "c", "", "Path to a JSON or YAML config file")
	cmd.Flags().StringArrayP("seed", "s", nil, "Seed URL (repeatable)")
	cmd.Flags().String("renderer", "", "Page renderer: colly or chromedp")
	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return crawl(ctx, cfg)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	seeds, _ := cmd.Flags().GetStringArray("seed")
	renderer, _ := cmd.Flags().GetString("renderer")

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	cfg.Seeds = append(cfg.Seeds, seeds...)
	if renderer != "" {
		cfg.Renderer = renderer
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func crawl(ctx context.Context, cfg *config.Config) error {
	logrus.Infof("web-surveyor starting: tld=%q renderer=%s workers=%d seeds=%d",
		cfg.TLD(), cfg.Renderer, cfg.ConcurrentWorkers, len(cfg.Seeds))

	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	jsonl, err := output.OpenJSONL(cfg.OutputPath)
	if err != nil {
		return err
	}
	defer jsonl.Close()

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	tracker := metrics.NewTracker()
	graph := memory.NewGraph()

	c, err := crawler.NewCrawler(crawler.OptionsFromConfig(cfg), crawler.Deps{
		Fetcher:  fetcher,
		Pipeline: pipeline,
		Resolver: dns.NewResolver(cfg.DNSTimeout()),
		Emitter:  output.Multi{store, jsonl},
		Store:    store,
		Graph:    graph,
		Observer: tracker,
	})
	if err != nil {
		return err
	}

	pending, err := seedFrontier(ctx, c, store, cfg.Seeds)
	if err != nil {
		return err
	}
	if pending == 0 {
		return errors.New("nothing to crawl: no seeds given and no pending domains stored")
	}

	progressDone := make(chan struct{})
	go reportProgress(c, tracker, graph, store, progressDone)

	runErr := c.Run(ctx)
	close(progressDone)

	reason := "queue_empty"
	if errors.Is(runErr, context.Canceled) {
		reason = "signal"
	}

	logrus.Info("Flushing domain graph to database...")
	if err := graph.Flush(store); err != nil {
		logrus.Errorf("Failed to flush domain graph: %v", err)
	}

	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if reason == "signal" {
		logrus.Info("Crawl interrupted, pending domains stay queued for the next run")
		return nil
	}
	return runErr
}

func buildPipeline(cfg *config.Config) (*analysis.Pipeline, error) {
	engine, err := loadEngine(cfg)
	if err != nil {
		return nil, err
	}

	return analysis.NewPipeline(cfg.PageTimeout(),
		analysis.NewSEOAnalyzer(*cfg.SEO),
		analysis.JSONLDAnalyzer{},
		analysis.MicrodataAnalyzer{},
		analysis.NewTechnologyAnalyzer(engine),
	)
}

func loadEngine(cfg *config.Config) (*techno.Engine, error) {
	var (
		catalogue *techno.Catalogue
		err       error
	)
	if cfg.SignaturesPath != "" {
		catalogue, err = techno.LoadFile(cfg.SignaturesPath)
	} else {
		catalogue, err = techno.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load technology signatures: %w", err)
	}

	engine, err := techno.NewEngine(catalogue, techno.Scope{
		Categories: cfg.TechCategories,
		Keep:       cfg.TechKeep,
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("Technology catalogue: %d local signatures", engine.Len())
	return engine, nil
}

func newFetcher(cfg *config.Config) (page.Fetcher, error) {
	opts := page.Options{
		Timeout:     cfg.RequestTimeout(),
		UserAgent:   cfg.UserAgent,
		ProxyURL:    cfg.ProxyURL,
		Parallelism: cfg.ConcurrentWorkers,
	}
	if cfg.Renderer == config.RendererChromedp {
		return page.NewChromedpFetcher(opts)
	}
	return page.NewCollyFetcher(opts)
}

// seedFrontier restores stored domains and queues the seeds. It returns the
// number of entries waiting in the queue.
func seedFrontier(ctx context.Context, c *crawler.Crawler, store *storage.Storage, seeds []string) (int, error) {
	handled, err := store.LoadDomains(model.DomainHandled)
	if err != nil {
		return 0, err
	}
	queued, err := store.LoadDomains(model.DomainQueued)
	if err != nil {
		return 0, err
	}
	if len(handled)+len(queued) > 0 {
		c.Resume(domainNames(handled), domainNames(queued))
	}
	visited, err := store.LoadPageURLs(ctx)
	if err != nil {
		return 0, err
	}
	c.SkipVisitedSeeds(visited...)

	for _, seed := range seeds {
		added, err := c.EnqueueSeed(seed)
		if err != nil {
			return 0, err
		}
		if !added {
			logrus.Infof("Seed %s already in the frontier, skipping", seed)
		}
	}
	return c.Queue().Size(), nil
}

func domainNames(entries []*model.DomainEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.DomainName
	}
	return names
}

func reportProgress(c *crawler.Crawler, tracker *metrics.Tracker, graph *memory.Graph, store *storage.Storage, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logrus.Infof("Queue status: %d items, %d in flight", c.Queue().Size(), c.Queue().InFlight())
			logrus.Info(tracker.LogProgress())
			if err := graph.Flush(store); err != nil {
				logrus.Warnf("Periodic graph flush failed: %v", err)
			}
		case <-done:
			return
		}
	}
}
