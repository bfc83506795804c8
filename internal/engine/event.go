package engine

import (
	"slices"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// EventType distinguishes what an Event reports.
type EventType string

const (
	// EventCreated reports an element that became live.
	EventCreated EventType = "created"
	// EventUpdated reports a change to a live element.
	EventUpdated EventType = "updated"
	// EventDeleted reports an element that was tombstoned.
	EventDeleted EventType = "deleted"
	// EventBatch reports an atomically applied batch.
	EventBatch EventType = "batch"
	// EventDrag reports a speculative drag position. Nothing was applied.
	EventDrag EventType = "drag"
	// EventDragCancelled restores the pre-drag positions of dragged elements.
	EventDragCancelled EventType = "drag_cancelled"
)

// Origin tells listeners whether a change started on this replica.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is a read-only notification published after a successful apply.
//
// Elements holds copies of the affected elements that are live afterwards.
// Removed lists affected ids that are no longer live.
type Event struct {
	Seq        int64
	Type       EventType
	ElementIDs []string
	Elements   []board.Element
	Removed    []string
	Origin     Origin
	OpIDs      []string
}

// IsZero reports whether the event is empty, as returned for duplicates.
func (ev Event) IsZero() bool {
	return ev.Seq == 0 && ev.Type == ""
}

// nextSeqLocked numbers the next published event. Seq is strictly
// increasing per engine and unrelated to op clocks.
func (e *Engine) nextSeqLocked() int64 {
	e.seq++
	return e.seq
}

// Listener receives events in apply order.
type Listener func(Event)

// Subscribe registers l and returns a function that unregisters it.
// Calling the returned function more than once is harmless.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = l

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// publish delivers events to the current listeners. Must be called without
// holding e.mu so listeners may read the engine.
func (e *Engine) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	e.mu.RLock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.subs[id])
	}
	e.mu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
