package engine

import (
	"time"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// Default bounds for the pending buffer.
const (
	DefaultPendingLimit = 1024
	DefaultPendingTTL   = 30 * time.Second
)

// pendingItem is a remote op or batch waiting for its target's create.
type pendingItem struct {
	key    string
	target string
	op     *board.Op
	batch  *board.Batch
	at     time.Time
}

// pendingBuffer holds items in arrival order, bounded by count and age.
type pendingBuffer struct {
	limit int
	ttl   time.Duration
	items []pendingItem
	keys  map[string]struct{}
}

func newPendingBuffer(limit int, ttl time.Duration) *pendingBuffer {
	return &pendingBuffer{limit: limit, ttl: ttl, keys: make(map[string]struct{})}
}

func batchKey(id string) string {
	return "batch:" + id
}

func (p *pendingBuffer) has(key string) bool {
	_, ok := p.keys[key]
	return ok
}

func (p *pendingBuffer) len() int {
	return len(p.items)
}

// add buffers item. When the buffer is full the oldest item is evicted and
// returned.
func (p *pendingBuffer) add(item pendingItem) (evicted []pendingItem) {
	if p.has(item.key) {
		return nil
	}
	for p.limit > 0 && len(p.items) >= p.limit {
		evicted = append(evicted, p.items[0])
		delete(p.keys, p.items[0].key)
		p.items[0] = pendingItem{}
		p.items = p.items[1:]
	}
	p.items = append(p.items, item)
	p.keys[item.key] = struct{}{}
	return evicted
}

// take removes and returns every item waiting on target, oldest first.
func (p *pendingBuffer) take(target string) []pendingItem {
	var taken []pendingItem
	kept := p.items[:0]
	for _, it := range p.items {
		if it.target == target {
			taken = append(taken, it)
			delete(p.keys, it.key)
			continue
		}
		kept = append(kept, it)
	}
	clear(p.items[len(kept):])
	p.items = kept
	return taken
}

// prune removes and returns items older than the ttl.
func (p *pendingBuffer) prune(now time.Time) []pendingItem {
	if p.ttl <= 0 {
		return nil
	}
	var expired []pendingItem
	kept := p.items[:0]
	for _, it := range p.items {
		if now.Sub(it.at) >= p.ttl {
			expired = append(expired, it)
			delete(p.keys, it.key)
			continue
		}
		kept = append(kept, it)
	}
	clear(p.items[len(kept):])
	p.items = kept
	return expired
}
