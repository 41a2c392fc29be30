package crawler

import (
	"sync"
	"testing"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(domain string) model.QueueEntry {
	return model.QueueEntry{URL: "http://" + domain, Domain: domain}
}

func TestTryEnqueueReportsKnownDomains(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	assert.True(t, q.TryEnqueue(entry("example.cz")).Added())
	assert.Equal(t, EnqueueResult{WasAlreadyPresent: true}, q.TryEnqueue(entry("Example.cz")))

	q.MarkKnownHandled("done.cz")
	assert.Equal(t, EnqueueResult{WasAlreadyPresent: true, WasAlreadyHandled: true}, q.TryEnqueue(entry("done.cz")))

	q.Seal()
	e, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "example.cz", e.Domain)
	assert.Equal(t, 1, q.InFlight())
	assert.Equal(t, EnqueueResult{WasAlreadyPresent: true}, q.TryEnqueue(entry("example.cz")))

	q.Done(e)
	assert.Equal(t, EnqueueResult{WasAlreadyPresent: true, WasAlreadyHandled: true}, q.TryEnqueue(entry("example.cz")))
}

func TestSeedEntriesAreKeyedByURL(t *testing.T) {
	t.Parallel()

	seed := func(u string) model.QueueEntry {
		return model.QueueEntry{URL: u, Domain: "example.cz", Seed: true}
	}

	q := NewQueue()
	assert.True(t, q.TryEnqueue(seed("http://www.example.cz/")).Added())
	assert.True(t, q.TryEnqueue(seed("http://shop.example.cz/")).Added())
	assert.True(t, q.TryEnqueue(entry("example.cz")).Added(), "seeds never block their domain")
	assert.False(t, q.TryEnqueue(seed("HTTP://www.Example.cz#x")).Added())
	assert.True(t, q.TryEnqueue(seed("http://shop.example.cz/?b=2&a=1")).Added(), "a different query is a different page")

	q.MarkSeedsVisited("http://old.example.cz/page/")
	assert.Equal(t, EnqueueResult{WasAlreadyPresent: true, WasAlreadyHandled: true}, q.TryEnqueue(seed("http://old.example.cz/page")))
	assert.Equal(t, 4, q.Size())
}

func TestSeedKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://www.example.cz", seedKey("HTTP://WWW.Example.CZ/#top"))
	assert.Equal(t, "http://www.example.cz/a?a=1&b=2", seedKey("http://www.example.cz/a/?b=2&a=1"))
	assert.Equal(t, "https://www.example.cz/A", seedKey("https://www.example.cz/A"))
}

func TestQueueFinishesWhenDrained(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.TryEnqueue(entry("a.cz"))
	q.Seal()

	a, ok := q.Pop()
	require.True(t, ok)

	popped := make(chan model.QueueEntry, 1)
	go func() {
		e, ok := q.Pop()
		if ok {
			popped <- e
		}
		close(popped)
	}()

	// a.cz is in flight, so the second Pop waits for new work
	q.TryEnqueue(entry("b.cz"))
	b, ok := <-popped
	require.True(t, ok)
	assert.Equal(t, "b.cz", b.Domain)

	q.Done(a)
	select {
	case <-q.Finished():
		t.Fatal("b.cz is still in flight")
	default:
	}

	q.Done(b)
	select {
	case <-q.Finished():
	case <-time.After(time.Second):
		t.Fatal("queue did not finish")
	}

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueNotFinishedBeforeSeal(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	select {
	case <-q.Finished():
		t.Fatal("an unsealed queue never finishes")
	default:
	}

	q.Seal()
	<-q.Finished()
}

func TestQueueStopWakesWorkers(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.TryEnqueue(entry("a.cz"))
	q.Seal()
	_, ok := q.Pop()
	require.True(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			assert.False(t, ok)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	wg.Wait()
	assert.False(t, q.TryEnqueue(entry("late.cz")).WasAlreadyPresent)
	assert.Equal(t, 0, q.Size())
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.TryEnqueue(entry("same.cz")).Added() {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, q.Size())
}
