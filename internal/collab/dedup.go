package collab

import (
	"sync"
	"time"
)

// Defaults for the duplicate window.
const (
	DefaultDedupTTL   = 2 * time.Minute
	DefaultDedupLimit = 8192
)

type seenEntry struct {
	key string
	at  time.Time
}

// dedupWindow remembers recently seen message keys, bounded by count and
// age. Keys that fall out of the window are still safe to redeliver: the
// engine drops duplicate op ids itself.
type dedupWindow struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	order []seenEntry
	seen  map[string]struct{}
}

func newDedupWindow(ttl time.Duration, limit int) *dedupWindow {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if limit <= 0 {
		limit = DefaultDedupLimit
	}
	return &dedupWindow{ttl: ttl, limit: limit, seen: make(map[string]struct{})}
}

// observe records key and reports whether it was already in the window.
func (w *dedupWindow) observe(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return true
	}
	for len(w.order) >= w.limit {
		w.evictFront()
	}
	w.order = append(w.order, seenEntry{key: key, at: now})
	w.seen[key] = struct{}{}
	return false
}

// prune drops entries older than the ttl and returns how many went.
func (w *dedupWindow) prune(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for len(w.order) > 0 && now.Sub(w.order[0].at) > w.ttl {
		w.evictFront()
		n++
	}
	return n
}

func (w *dedupWindow) evictFront() {
	delete(w.seen, w.order[0].key)
	w.order[0] = seenEntry{}
	w.order = w.order[1:]
}

func (w *dedupWindow) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
