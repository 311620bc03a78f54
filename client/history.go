package client

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// HistoryEntry is one completed call record kept for the CLI's
// `ringlinkctl history` command.
type HistoryEntry struct {
	Peer      string
	Outgoing  bool
	Started   time.Time
	Ended     time.Time
	EndReason string
}

// History is a bounded recent-call-history cache: a small fixed-size
// recency cache, not a durable log. Nothing here survives a restart.
// Record/Recent are called from whichever goroutine completes a
// signalling step, so History carries its own mutex rather than relying
// on a caller-held lock.
type History struct {
	mu    sync.Mutex
	cache *lru.Cache
	seq   int
}

// NewHistory returns a history cache holding at most capacity entries.
func NewHistory(capacity int) *History {
	return &History{cache: lru.New(capacity)}
}

// Record appends a completed call to the history.
func (h *History) Record(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.cache.Add(h.seq, e)
}

// Recent returns up to limit most-recently-recorded entries, newest
// first.
func (h *History) Recent(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Get marks an entry as most recently used, so entries are visited
	// oldest first: the cache's recency order then keeps matching record
	// order, and eviction keeps dropping the oldest record.
	start := h.seq - limit + 1
	if start < 1 {
		start = 1
	}
	var out []HistoryEntry
	for i := start; i <= h.seq; i++ {
		if v, ok := h.cache.Get(i); ok {
			out = append([]HistoryEntry{v.(HistoryEntry)}, out...)
		}
	}
	return out
}
