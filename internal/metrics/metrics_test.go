package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCounters(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.DomainsDiscovered(2)
			tr.PageFetched(100 * time.Millisecond)
			tr.PageProcessed()
		}()
	}
	wg.Wait()
	tr.PageFailed()
	tr.FetchRetried()
	tr.EdgesRecorded(3)
	tr.AnalyzersFailed(2)

	snap := tr.GetSnapshot()
	assert.Equal(t, 20, snap.DomainsDiscovered)
	assert.Equal(t, 10, snap.PagesFetched)
	assert.Equal(t, 10, snap.PagesProcessed)
	assert.Equal(t, 1, snap.PagesFailed)
	assert.Equal(t, 1, snap.FetchRetries)
	assert.Equal(t, 3, snap.EdgesRecorded)
	assert.Equal(t, 2, snap.AnalyzerFailures)
	assert.Equal(t, int64(1000), snap.TotalFetchTimeMs)
	assert.Equal(t, int64(100), snap.AvgFetchTimeMs)
	assert.Contains(t, tr.LogProgress(), "Domains: 20 discovered")
}

func TestWriteToFile(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.PageFetched(40 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tr.WriteToFile(path, "queue_empty"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m model.Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "queue_empty", m.TerminationReason)
	assert.Equal(t, 1, m.PagesFetched)
	assert.False(t, m.EndTime.Before(m.StartTime))
}
