package engine

import (
	"container/heap"
	"sync"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// Frontier is a thread-safe priority queue of crawl requests. Requests of
// equal priority come out in insertion order.
type Frontier struct {
	mu     sync.Mutex
	pq     priorityQueue
	seq    uint64
	closed bool
}

// NewFrontier creates a new Frontier.
func NewFrontier() *Frontier {
	f := &Frontier{
		pq: make(priorityQueue, 0, 1024),
	}
	heap.Init(&f.pq)
	return f
}

// Push adds a request to the frontier. Pushing to a closed frontier is a
// no-op and reports false.
func (f *Frontier) Push(req *types.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.push(req)
	return true
}

func (f *Frontier) push(req *types.Request) {
	f.seq++
	heap.Push(&f.pq, &pqItem{request: req, priority: req.Priority, seq: f.seq})
}

// TryPop attempts a non-blocking dequeue. Returns nil if empty.
func (f *Frontier) TryPop() *types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pq.Len() == 0 {
		return nil
	}
	return heap.Pop(&f.pq).(*pqItem).request
}

// Len returns the number of requests in the frontier.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

// Close closes the frontier; queued requests stay available to Snapshot.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// IsClosed returns true if the frontier has been closed.
func (f *Frontier) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Snapshot returns clones of all queued requests without removing them.
// Safe for use during checkpointing while the crawl is running.
func (f *Frontier) Snapshot() []*types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := append(priorityQueue(nil), f.pq...)
	requests := make([]*types.Request, 0, len(items))
	for len(items) > 0 {
		requests = append(requests, heap.Pop(&items).(*pqItem).request.Clone())
	}
	return requests
}

// RestoreAll adds multiple requests back (for checkpoint restore).
func (f *Frontier) RestoreAll(reqs []*types.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, req := range reqs {
		f.push(req)
	}
}

// --- Priority Queue Implementation ---

type pqItem struct {
	request  *types.Request
	priority int
	seq      uint64
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Lower priority value = higher priority
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(*pqItem))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // GC
	*pq = old[:n-1]
	return item
}
