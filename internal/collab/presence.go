package collab

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

// DefaultPresenceTTL is how long a participant stays visible without a
// heartbeat.
const DefaultPresenceTTL = 15 * time.Second

// Presence is what the renderer needs to draw another participant.
type Presence struct {
	ConnectionID string
	Color        string
	Cursor       *geom.Point
	SelectedIDs  []string
	TS           int64
	LastSeen     time.Time
}

// PresenceTable tracks remote participants. It is safe for concurrent use:
// the session loop writes, renderers read.
type PresenceTable struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Presence
}

// NewPresenceTable creates a table that evicts entries not refreshed
// within ttl.
func NewPresenceTable(ttl time.Duration) *PresenceTable {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceTable{ttl: ttl, entries: make(map[string]Presence)}
}

// Update records msg as seen at now. Heartbeats older than the stored one
// are ignored; it reports whether the table changed.
func (t *PresenceTable) Update(msg PresenceMessage, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[msg.ConnectionID]; ok && msg.TS < cur.TS {
		return false
	}
	p := Presence{
		ConnectionID: msg.ConnectionID,
		Color:        ColorFor(msg.ConnectionID),
		SelectedIDs:  slices.Clone(msg.SelectedIDs),
		TS:           msg.TS,
		LastSeen:     now,
	}
	if msg.CursorWorldPos != nil {
		c := *msg.CursorWorldPos
		p.Cursor = &c
	}
	t.entries[msg.ConnectionID] = p
	return true
}

// Remove drops a participant, as on a leave message.
func (t *PresenceTable) Remove(connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[connectionID]; !ok {
		return false
	}
	delete(t.entries, connectionID)
	return true
}

// Prune evicts participants last seen before now-ttl and returns their ids
// in sorted order.
func (t *PresenceTable) Prune(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for id, p := range t.entries {
		if now.Sub(p.LastSeen) > t.ttl {
			evicted = append(evicted, id)
			delete(t.entries, id)
		}
	}
	slices.Sort(evicted)
	return evicted
}

// Get returns one participant.
func (t *PresenceTable) Get(connectionID string) (Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.entries[connectionID]
	return p, ok
}

// List returns all participants ordered by connection id.
func (t *PresenceTable) List() []Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Presence, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Presence) int {
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

// Len returns the number of visible participants.
func (t *PresenceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
