package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
)

// Tracker counts frontier growth, page outcomes and analyzer failures for
// one crawl run. It is the crawler's Observer.
type Tracker struct {
	mu               sync.Mutex
	data             model.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker starts the run clock
func NewTracker() *Tracker {
	return &Tracker{
		data: model.Metrics{
			StartTime: time.Now(),
		},
	}
}

// DomainsDiscovered adds domains claimed for the frontier, seeds included
func (t *Tracker) DomainsDiscovered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.DomainsDiscovered += n
}

// PageProcessed counts a page whose record reports it open
func (t *Tracker) PageProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesProcessed++
}

// EdgesRecorded adds parent to child domain edges
func (t *Tracker) EdgesRecorded(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EdgesRecorded += n
}

// PageFetched counts a fetch attempt that returned a page, retries included,
// and adds its duration to the average
func (t *Tracker) PageFetched(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFetched++
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
}

// PageFailed counts a page that ran out of attempts and emitted a failure record
func (t *Tracker) PageFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFailed++
}

// FetchRetried counts an attempt that failed with attempts left
func (t *Tracker) FetchRetried() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.FetchRetries++
}

// AnalyzersFailed adds the analyzers marked failed on one record
func (t *Tracker) AnalyzersFailed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.AnalyzerFailures += n
}

// GetSnapshot returns the counters with the fetch average filled in
func (t *Tracker) GetSnapshot() model.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() model.Metrics {
	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}
	return snapshot
}

// WriteToFile stops the run clock, stamps the termination reason
// (queue_empty or signal) and writes the snapshot as indented JSON
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	final := t.snapshot()
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// LogProgress renders the counters as one progress log line
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Domains: %d discovered | Edges: %d | Pages: %d processed, %d fetched, %d failed, %d retries | Analyzer failures: %d",
		t.data.DomainsDiscovered,
		t.data.EdgesRecorded,
		t.data.PagesProcessed,
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.FetchRetries,
		t.data.AnalyzerFailures,
	)
}
