package model

import "time"

// Domain status values stored for frontier entries
const (
	DomainQueued  = "queued"
	DomainHandled = "handled"
)

// DomainEntry represents a claimed domain in the crawl frontier
type DomainEntry struct {
	DomainID       int
	DomainName     string
	Status         string
	DiscoveredFrom string
	CreatedAt      time.Time
}

// Edge represents a directed discovery link between two domains
type Edge struct {
	EdgeID     int
	FromDomain string
	ToDomain   string
	Weight     int
}

// QueueEntry represents an item in the crawl queue. Domain entries are
// unique per domain; seed entries are unique per URL.
type QueueEntry struct {
	URL    string
	Domain string
	Seed   bool
}

// AnalyzerResult is either a value produced by an analyzer or a failure marker
type AnalyzerResult struct {
	Value  any    `json:"value,omitempty"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// Succeeded builds a successful analyzer result
func Succeeded(value any) AnalyzerResult {
	return AnalyzerResult{Value: value}
}

// Failed builds a failure marker carrying the error message
func Failed(err error) AnalyzerResult {
	return AnalyzerResult{Failed: true, Error: err.Error()}
}

// Technology is a detected technology on a page
type Technology struct {
	Name       string   `json:"name"`
	Confidence int      `json:"confidence"`
	Version    string   `json:"version,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Website    string   `json:"website,omitempty"`
	Icon       string   `json:"icon,omitempty"`
}

// PageRecord is the emitted result for one visited page
type PageRecord struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	IsOpen        bool   `json:"isOpen"`
	LoadedURL     string `json:"loadedUrl,omitempty"`
	StatusCode    int    `json:"statusCode,omitempty"`
	Domain        string `json:"domain,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Title         string `json:"title,omitempty"`
	IsSSLRedirect bool   `json:"isSSLRedirect"`

	// Set when Domain is a public suffix under the last-two-labels rule
	IsPublicSuffixDomain bool `json:"isPublicSuffixDomain,omitempty"`

	ServerIPv4Address string `json:"serverIPv4address,omitempty"`
	IsIPv6Support     bool   `json:"isIPv6Support"`

	NewDomains    []string                  `json:"newDomains,omitempty"`
	SameSiteLinks []string                  `json:"sameSiteLinks,omitempty"`
	Analysis      map[string]AnalyzerResult `json:"analysis,omitempty"`

	ErrorMsg string `json:"errorMsg,omitempty"`
	Attempts int    `json:"attempts"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	DomainsDiscovered int       `json:"domains_discovered"`
	PagesProcessed    int       `json:"pages_processed"`
	EdgesRecorded     int       `json:"edges_recorded"`
	PagesFetched      int       `json:"pages_fetched"`
	PagesFailed       int       `json:"pages_failed"`
	FetchRetries      int       `json:"fetch_retries"`
	AnalyzerFailures  int       `json:"analyzer_failures"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}
