// Package board defines the replicated data model of a collaborative board:
// elements, operations, their payloads and the canonical encodings used to
// fingerprint replica state.
//
// This package holds types and pure functions only. The engine, collab and
// selection packages import board; board imports nothing internal except
// the geom kernel for shape conversion.
//
// Key constraints:
//   - Ops are immutable once built and are the unit of replication.
//   - Payloads are a sealed sum type, one variant per OpType.
//   - Style and metadata values are a sealed Value type so they stay JSON
//     compatible and canonically serializable.
//   - All JSON tags use lowerCamelCase to match the wire format.
package board
