package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/sirupsen/logrus"
)

// GraphStore is where a graph is flushed to
type GraphStore interface {
	UpsertDomain(domain, discoveredFrom string) (int, error)
	AddEdgeWeight(fromID, toID, weight int) error
}

type edgeKey struct {
	from, to string
}

// Graph accumulates domain discovery edges in memory between flushes
type Graph struct {
	mu      sync.Mutex
	pending map[edgeKey]int
	total   map[edgeKey]int
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		pending: make(map[edgeKey]int),
		total:   make(map[edgeKey]int),
	}
}

// RecordEdge counts one discovery of to from a page on from
func (g *Graph) RecordEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{from: from, to: to}
	g.pending[key]++
	g.total[key]++
}

// Stats returns the number of distinct domains and edges seen in this run
func (g *Graph) Stats() (domainCount, edgeCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	domains := make(map[string]struct{})
	for key := range g.total {
		domains[key.from] = struct{}{}
		domains[key.to] = struct{}{}
	}
	return len(domains), len(g.total)
}

// Edges returns a snapshot of all edges seen in this run, sorted
func (g *Graph) Edges() []model.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	edges := make([]model.Edge, 0, len(g.total))
	for key, weight := range g.total {
		edges = append(edges, model.Edge{FromDomain: key.from, ToDomain: key.to, Weight: weight})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromDomain != edges[j].FromDomain {
			return edges[i].FromDomain < edges[j].FromDomain
		}
		return edges[i].ToDomain < edges[j].ToDomain
	})
	return edges
}

// Flush writes the weight gathered since the last flush to the store.
// Edges that fail stay pending for the next flush.
func (g *Graph) Flush(store GraphStore) error {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[edgeKey]int)
	g.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	startTime := time.Now()
	ids := make(map[string]int)
	domainID := func(domain, from string) (int, error) {
		if id, ok := ids[domain]; ok {
			return id, nil
		}
		id, err := store.UpsertDomain(domain, from)
		if err != nil {
			return 0, err
		}
		ids[domain] = id
		return id, nil
	}

	var firstErr error
	written := 0
	failed := make(map[edgeKey]int)
	for key, weight := range pending {
		err := func() error {
			fromID, err := domainID(key.from, "")
			if err != nil {
				return err
			}
			toID, err := domainID(key.to, key.from)
			if err != nil {
				return err
			}
			return store.AddEdgeWeight(fromID, toID, weight)
		}()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to flush edge %s -> %s: %w", key.from, key.to, err)
			}
			logrus.Warnf("Failed to flush edge %s -> %s: %v", key.from, key.to, err)
			failed[key] = weight
			continue
		}
		written++
	}

	if len(failed) > 0 {
		g.mu.Lock()
		for key, weight := range failed {
			g.pending[key] += weight
		}
		g.mu.Unlock()
	}

	logrus.Debugf("Graph flush: %d edges written in %v", written, time.Since(startTime))
	return firstErr
}
