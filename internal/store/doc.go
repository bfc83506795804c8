// Package store keeps the relay's per-board op log.
//
// The log is the resync source: a participant that reconnects asks for a
// board's history and replays it through its engine. Every op is stored
// once per board (duplicates are ignored), in arrival order, as JSON. A
// batch is stored as its batchMarker followed by its ops, the same layout
// engine.History produces, so a log can be fed straight to engine.Replay.
//
// Two backends implement Log: SQLite (the default) and bbolt, an embedded
// pure-Go key/value store for builds without cgo.
package store
