// Package collab bridges a local engine to the other participants of a
// board.
//
// A Session owns one engine and one Transport. Its Run loop is the only
// goroutine that mutates the engine: local submissions, remote messages,
// heartbeat ticks and prune ticks are all serialized onto it, so a remote
// op is never applied concurrently with a local one.
//
// Wire traffic is a stream of JSON envelopes (see Envelope). Delivery is
// assumed at-least-once and unordered; duplicates are dropped by a bounded
// TTL window of op ids and by the engine's own idempotence. After a
// reconnect the session asks for the full op history instead of trusting
// anything buffered in the transport.
package collab
