// Package engine implements the board operation engine.
//
// The engine is the single authority for board element state. Local edits
// and remote operations both funnel into the same apply path, which merges
// them deterministically so that replicas holding the same operation set
// reach identical element state regardless of arrival order.
//
// STATE MODEL:
//
// Each element id owns a slot of last-writer-wins registers, one per
// independently mergeable field: position (move), size (resize), each style
// key (restyle) and parent (reparent). A create writes every register with
// its own stamp. A write lands only when its stamp beats the register's
// current stamp (see board.Stamp), so the order ops arrive in never changes
// the outcome.
//
// Deletes are tombstones. An element exists while its winning create beats
// its winning delete. Ops stamped at or below the tombstone are stale and
// ignored; a create stamped above it brings the element back as new.
//
// Remote ops whose target does not exist yet are held in a bounded pending
// buffer and retried when the matching create lands.
//
// THREADING:
//
// Mutators are expected to be called from one goroutine (collab.Session.Run
// in a live session). Readers (Snapshot, Element, History) are safe from any
// goroutine. Listeners run on the mutating goroutine after the engine lock
// is released, in apply order.
package engine
