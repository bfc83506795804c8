// Package harness runs convergence scenarios against the operation engine.
//
// A scenario starts one engine per replica, applies scripted local edits,
// and delivers each replica's ops to the others in seeded random orders.
// After every order it checks that all replicas converged and that the
// final state matches the scenario's assertions.
//
// # Scenario Format
//
//	name: concurrent_moves
//	description: "Concurrent moves resolve by clock, then origin"
//	replicas: [a, b]
//	seed: 7
//	orders: 10
//	steps:
//	  - replica: a
//	    action: create
//	    id: x
//	    size: { w: 10, h: 10 }
//	  - action: sync
//	  - replica: a
//	    action: move
//	    id: x
//	    position: { x: 5, y: 5 }
//	  - replica: b
//	    action: move
//	    id: x
//	    position: { x: 7, y: 7 }
//	assertions:
//	  - type: converged
//	  - type: element
//	    id: x
//	    expect: { x: 5, y: 5 }
//
// Edits apply locally at once and queue for the other replicas. A sync
// step delivers everything queued; the rest is delivered after the last
// step. A step with expect must fail locally with that error code.
//
// # Assertion Types
//
//   - converged: every replica has the same digest in every order
//   - element: the element is live and the listed fields match
//   - absent: the element is not live
//   - count: the number of live elements
//   - pending: the number of buffered remote ops
//
// # Deterministic Testing
//
// Ids come from testutil.SequenceGenerator ("a-0001", ...) and time from
// testutil.ManualClock, so a scenario always produces identical traces and
// snapshots for golden comparison.
package harness
