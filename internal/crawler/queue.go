package crawler

import (
	"net/url"
	"strings"
	"sync"

	"github.com/alvmarrod/web-surveyor/internal/model"
)

// EnqueueResult reports what the queue already knew about a domain
type EnqueueResult struct {
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// Added is true when the entry was new to the queue
func (r EnqueueResult) Added() bool {
	return !r.WasAlreadyPresent && !r.WasAlreadyHandled
}

type entryState int

const (
	stateQueued entryState = iota
	stateInFlight
	stateHandled
)

// Queue is a thread-safe FIFO of domains to visit. Each domain is accepted
// once; the queue finishes by itself once it is empty and no popped entry is
// still being processed.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []model.QueueEntry
	states   map[string]entryState
	inFlight int
	sealed   bool
	stopped  bool
	done     chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{
		items:  make([]model.QueueEntry, 0),
		states: make(map[string]entryState),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// entryKey identifies an entry: its domain, or its normalized URL for seeds
func entryKey(entry model.QueueEntry) string {
	if entry.Seed {
		return "seed " + seedKey(entry.URL)
	}
	return strings.ToLower(entry.Domain)
}

// seedKey normalizes a URL for seed deduplication. Scheme and host are
// lowercased, the fragment and a trailing slash dropped, the query sorted.
func seedKey(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = parsed.Query().Encode()
	parsed.ForceQuery = false
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed.String()
}

// TryEnqueue adds an entry unless its key was seen before. A stopped queue
// drops new entries but still reports them as unknown, so callers persist
// them for the next run.
func (q *Queue) TryEnqueue(entry model.QueueEntry) EnqueueResult {
	key := entryKey(entry)

	q.mu.Lock()
	defer q.mu.Unlock()

	if state, ok := q.states[key]; ok {
		return EnqueueResult{
			WasAlreadyPresent: true,
			WasAlreadyHandled: state == stateHandled,
		}
	}
	if q.stopped {
		return EnqueueResult{}
	}

	q.states[key] = stateQueued
	q.items = append(q.items, entry)
	q.cond.Signal()
	return EnqueueResult{}
}

// MarkKnownHandled records domains finished in an earlier run so they are
// never queued again
func (q *Queue) MarkKnownHandled(domains ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range domains {
		q.states[strings.ToLower(d)] = stateHandled
	}
}

// MarkSeedsVisited records seed URLs visited in an earlier run
func (q *Queue) MarkSeedsVisited(urls ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range urls {
		q.states["seed "+seedKey(u)] = stateHandled
	}
}

// Pop removes the first entry and counts it as in flight. It blocks while
// the queue is empty and returns false once the queue is finished or stopped.
func (q *Queue) Pop() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped {
			return model.QueueEntry{}, false
		}
		if len(q.items) > 0 {
			entry := q.items[0]
			q.items = q.items[1:]
			q.states[entryKey(entry)] = stateInFlight
			q.inFlight++
			return entry, true
		}
		if q.inFlight == 0 && q.isDone() {
			return model.QueueEntry{}, false
		}
		q.cond.Wait()
	}
}

// Done marks a popped entry as handled
func (q *Queue) Done(entry model.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.states[entryKey(entry)] = stateHandled
	q.inFlight--
	q.checkIdle()
}

// Seal declares that seeding is over. From then on the queue finishes as soon
// as it runs dry.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sealed = true
	q.checkIdle()
}

// checkIdle must be called with the lock held
func (q *Queue) checkIdle() {
	if q.sealed && len(q.items) == 0 && q.inFlight == 0 && !q.isDone() {
		close(q.done)
		q.cond.Broadcast()
	}
}

func (q *Queue) isDone() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Finished is closed once the queue has been sealed and drained
func (q *Queue) Finished() <-chan struct{} {
	return q.done
}

// Size returns the number of entries waiting to be popped
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of popped entries not yet marked done
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Stop wakes all waiting workers. Pending entries are left unprocessed.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	q.cond.Broadcast()
}
