package frontier

import (
	"strings"
	"sync"
)

// ClaimStore remembers every domain that has been handed to the queue.
// The set only grows for the lifetime of a crawl run.
type ClaimStore struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewClaimStore creates an empty claim store
func NewClaimStore() *ClaimStore {
	return &ClaimStore{
		claimed: make(map[string]struct{}),
	}
}

// TryClaim returns true for the first caller to claim a domain and false
// for every later caller. Check and insert happen under one lock.
func (cs *ClaimStore) TryClaim(domain string) bool {
	key := strings.ToLower(domain)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.claimed[key]; exists {
		return false
	}
	cs.claimed[key] = struct{}{}
	return true
}

// Preload marks domains as already claimed (used when resuming a run)
func (cs *ClaimStore) Preload(domains ...string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, d := range domains {
		cs.claimed[strings.ToLower(d)] = struct{}{}
	}
}

// Len returns the number of claimed domains
func (cs *ClaimStore) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.claimed)
}
