package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/analysis"
	"gopkg.in/yaml.v3"
)

// Renderers supported by the crawler
const (
	RendererColly    = "colly"
	RendererChromedp = "chromedp"
)

// Config holds all runtime configuration parameters
type Config struct {
	Seeds             []string                `json:"seeds" yaml:"seeds"`
	SeedFile          string                  `json:"seed_file" yaml:"seed_file"`
	TargetTLD         *string                 `json:"target_tld" yaml:"target_tld"`
	ProxyURL          string                  `json:"proxy_url" yaml:"proxy_url"`
	Renderer          string                  `json:"renderer" yaml:"renderer"`
	UserAgent         string                  `json:"user_agent" yaml:"user_agent"`
	ConcurrentWorkers int                     `json:"concurrent_workers" yaml:"concurrent_workers"`
	RequestTimeoutMs  int                     `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	PageTimeoutMs     int                     `json:"page_timeout_ms" yaml:"page_timeout_ms"`
	DNSTimeoutMs      int                     `json:"dns_timeout_ms" yaml:"dns_timeout_ms"`
	RetryAttempts     int                     `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs      int                     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	RequestsPerSecond float64                 `json:"requests_per_second" yaml:"requests_per_second"`
	DBPath            string                  `json:"db_path" yaml:"db_path"`
	OutputPath        string                  `json:"output_path" yaml:"output_path"`
	MetricsPath       string                  `json:"metrics_path" yaml:"metrics_path"`
	SignaturesPath    string                  `json:"signatures_path" yaml:"signatures_path"`
	TechCategories    []int                   `json:"tech_categories" yaml:"tech_categories"`
	TechKeep          []string                `json:"tech_keep" yaml:"tech_keep"`
	SEO               *analysis.SEOThresholds `json:"seo" yaml:"seo"`
}

// LoadConfig reads and validates configuration from a JSON or YAML file.
// The format follows the file extension.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := cfg.Finalize(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no seeds
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Finalize loads the seed file, applies defaults and validates. Relative
// seed file paths are resolved against baseDir.
func (c *Config) Finalize(baseDir string) error {
	if c.SeedFile != "" {
		path := c.SeedFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		seeds, err := readSeedFile(path)
		if err != nil {
			return err
		}
		c.Seeds = append(c.Seeds, seeds...)
	}

	applyDefaults(c)

	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// readSeedFile reads one URL per line; blank lines and # comments are skipped
func readSeedFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer file.Close()

	var seeds []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return seeds, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.TargetTLD == nil {
		tld := "cz"
		cfg.TargetTLD = &tld
	}
	if cfg.Renderer == "" {
		cfg.Renderer = RendererColly
	}
	if cfg.ConcurrentWorkers == 0 {
		cfg.ConcurrentWorkers = 4
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 60000
	}
	if cfg.PageTimeoutMs == 0 {
		cfg.PageTimeoutMs = 180000
	}
	if cfg.DNSTimeoutMs == 0 {
		cfg.DNSTimeoutMs = 10000
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 4
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 1000
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "surveyor.db"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "pages.jsonl"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.TechKeep == nil {
		cfg.TechKeep = []string{"Google Analytics"}
	}
	if cfg.SEO == nil {
		cfg.SEO = &analysis.SEOThresholds{}
	}
	seo, def := cfg.SEO, analysis.DefaultSEOThresholds()
	for _, f := range []struct {
		v *int
		d int
	}{
		{&seo.MaxTitleLength, def.MaxTitleLength},
		{&seo.MinTitleLength, def.MinTitleLength},
		{&seo.MaxMetaDescriptionLength, def.MaxMetaDescriptionLength},
		{&seo.MaxLinksCount, def.MaxLinksCount},
		{&seo.MaxWordsCount, def.MaxWordsCount},
	} {
		if *f.v == 0 {
			*f.v = f.d
		}
	}
}

// Validate re-checks a configuration after it was changed in code
func (c *Config) Validate() error {
	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validate checks that values are sensible. Seeds are optional: a run
// without seeds resumes the persisted frontier.
func validate(cfg *Config) error {
	if strings.Contains(cfg.TLD(), ".") {
		return fmt.Errorf("target_tld must be a single label, got %q", cfg.TLD())
	}
	if cfg.Renderer != RendererColly && cfg.Renderer != RendererChromedp {
		return fmt.Errorf("renderer must be %q or %q", RendererColly, RendererChromedp)
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.PageTimeoutMs < 1000 {
		return fmt.Errorf("page_timeout_ms must be >= 1000")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	if cfg.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms must be >= 0")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if cfg.SEO.MinTitleLength > cfg.SEO.MaxTitleLength {
		return fmt.Errorf("seo.min_title_length must not exceed seo.max_title_length")
	}
	for _, seed := range cfg.Seeds {
		if !strings.Contains(seed, "://") {
			return fmt.Errorf("seed %q must be an absolute URL", seed)
		}
	}
	return nil
}

// TLD returns the lowercased target top-level domain. Empty accepts any.
func (c *Config) TLD() string {
	if c.TargetTLD == nil {
		return ""
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(*c.TargetTLD), "."))
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMs) * time.Millisecond
}

func (c *Config) DNSTimeout() time.Duration {
	return time.Duration(c.DNSTimeoutMs) * time.Millisecond
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}
