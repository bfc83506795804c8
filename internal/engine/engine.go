package engine

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// DefaultUndoLimit bounds the undo and redo stacks.
const DefaultUndoLimit = 200

// Engine owns the element table of one replica.
//
// Thread-safety model:
//   - Apply, Ingest, ApplyBatch, IngestBatch, Replay, Undo, Redo, the drag
//     methods and Prune mutate; call them from one goroutine.
//   - Snapshot, Element, History, Digest and the op builders only read and
//     are safe from any goroutine.
type Engine struct {
	mu sync.RWMutex

	origin string
	ids    IDGenerator
	now    func() time.Time
	seq    int64 // last published Event.Seq

	slots   map[string]*slot
	applied map[string]struct{}
	history []board.Op
	pending *pendingBuffer

	undo      [][]board.Op
	redo      [][]board.Op
	undoLimit int

	drag *dragState

	subs    map[int]Listener
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the generator for op, element and batch ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow sets the time source used to age pending ops.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPendingLimits bounds the pending buffer by item count and age.
// Default: DefaultPendingLimit items, DefaultPendingTTL.
func WithPendingLimits(limit int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.pending = newPendingBuffer(limit, ttl)
	}
}

// WithUndoLimit bounds the undo and redo stacks. Default: DefaultUndoLimit.
func WithUndoLimit(n int) Option {
	return func(e *Engine) {
		e.undoLimit = n
	}
}

// New creates an empty engine for the replica identified by origin.
// Ops carrying that origin id are treated as local.
func New(origin string, opts ...Option) *Engine {
	e := &Engine{
		origin:    origin,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		slots:     make(map[string]*slot),
		applied:   make(map[string]struct{}),
		pending:   newPendingBuffer(DefaultPendingLimit, DefaultPendingTTL),
		undoLimit: DefaultUndoLimit,
		subs:      make(map[int]Listener),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Origin returns the replica's connection id.
func (e *Engine) Origin() string {
	return e.origin
}

// Apply validates op and merges it into the element table.
//
// Ops whose origin is this replica are local: they are recorded for undo
// and fail with TARGET_MISSING instead of being buffered. Ops from other
// origins go through the remote path (see Ingest).
//
// Reapplying an op id that was already accepted is a no-op that returns a
// zero Event and no error.
func (e *Engine) Apply(op board.Op) (Event, error) {
	local := op.OriginID == e.origin
	return e.run(func() (Event, []Event, error) {
		ev, flushed, inv, err := e.applyLocked(op, local, local)
		if err == nil && local && !ev.IsZero() {
			e.pushLocal(inv)
		}
		return ev, flushed, err
	})
}

// Ingest applies op through the remote path regardless of its origin.
// A missing target buffers the op until the matching create arrives; the
// TARGET_MISSING error is still returned so callers can log it.
func (e *Engine) Ingest(op board.Op) (Event, error) {
	return e.run(func() (Event, []Event, error) {
		ev, flushed, _, err := e.applyLocked(op, false, false)
		return ev, flushed, err
	})
}

// ApplyBatch applies b all-or-nothing. The batch is local when every op
// carries this replica's origin.
//
// Any invalid op rejects the whole batch. Stale ops inside the batch are
// skipped. A missing target rejects a local batch and defers a remote
// batch as a unit.
func (e *Engine) ApplyBatch(b board.Batch) (Event, error) {
	local := len(b.Ops) > 0
	for _, op := range b.Ops {
		if op.OriginID != e.origin {
			local = false
			break
		}
	}
	return e.run(func() (Event, []Event, error) {
		ev, flushed, inv, err := e.applyBatchLocked(b, local, local)
		if err == nil && local && !ev.IsZero() {
			e.pushLocal(inv)
		}
		return ev, flushed, err
	})
}

// IngestBatch applies b through the remote path.
func (e *Engine) IngestBatch(b board.Batch) (Event, error) {
	return e.run(func() (Event, []Event, error) {
		ev, flushed, _, err := e.applyBatchLocked(b, false, false)
		return ev, flushed, err
	})
}

// run executes fn under the write lock and publishes the resulting events
// after releasing it.
func (e *Engine) run(fn func() (Event, []Event, error)) (Event, error) {
	e.mu.Lock()
	ev, flushed, err := fn()
	e.mu.Unlock()

	var out []Event
	if !ev.IsZero() {
		out = append(out, ev)
	}
	out = append(out, flushed...)
	e.publish(out)

	return ev, err
}

// applyLocked applies a single op. When wantInverse is set it also returns
// the op that would undo it.
func (e *Engine) applyLocked(op board.Op, local, wantInverse bool) (Event, []Event, []board.Op, error) {
	target := op.Target()
	if err := op.Validate(); err != nil {
		return Event{}, nil, nil, NewValidationError(op.OpID, target, err)
	}
	if op.Type == board.OpBatchMarker {
		return Event{}, nil, nil, &OpError{
			Code:    ErrCodeValidation,
			Message: "batch markers are only valid ahead of a batch",
			OpID:    op.OpID,
		}
	}
	if _, dup := e.applied[op.OpID]; dup {
		slog.Debug("duplicate op ignored", "op_id", op.OpID, "target_id", target)
		return Event{}, nil, nil, nil
	}
	if e.pending.has(op.OpID) {
		return Event{}, nil, nil, NewTargetMissingError(op.OpID, target)
	}

	tx := newTxn(e.slots)
	var inv []board.Op
	if wantInverse {
		if i, ok := inverseOf(tx.lookup(target), op); ok {
			inv = append(inv, i)
		}
	}

	out, err := tx.apply(op)
	if err == nil && out.hidden && local {
		err = NewTargetMissingError(op.OpID, target)
	}
	if err != nil {
		if IsTargetMissing(err) && !local {
			e.hold(pendingItem{key: op.OpID, target: target, op: &op, at: e.now()})
		}
		return Event{}, nil, nil, err
	}
	tx.commit()
	e.record(op)
	if out.hidden {
		slog.Debug("op landed on a deleted element", "op_id", op.OpID, "target_id", target)
		return Event{}, nil, nil, nil
	}

	origin := OriginRemote
	if local {
		origin = OriginLocal
	}
	ev := e.event(singleEventType(out), []outcome{out}, origin, []string{op.OpID})

	slog.Debug("op applied",
		"op_id", op.OpID,
		"type", string(op.Type),
		"target_id", target,
		"clock", op.Clock,
		"origin", string(origin),
	)

	var flushed []Event
	if op.Type == board.OpCreate && out.isLive {
		flushed = e.flushLocked(target)
	}
	return ev, flushed, inv, nil
}

// applyBatchLocked applies b in a staged transaction.
func (e *Engine) applyBatchLocked(b board.Batch, local, wantInverse bool) (Event, []Event, []board.Op, error) {
	if b.ID == "" {
		return Event{}, nil, nil, &OpError{Code: ErrCodeValidation, Message: "batch id is required"}
	}
	if len(b.Ops) == 0 {
		return Event{}, nil, nil, &OpError{Code: ErrCodeValidation, Message: "batch is empty", OpID: b.ID}
	}
	for _, op := range b.Ops {
		if err := op.Validate(); err != nil {
			return Event{}, nil, nil, NewValidationError(op.OpID, op.Target(), err)
		}
		if op.Type == board.OpBatchMarker {
			return Event{}, nil, nil, &OpError{
				Code:    ErrCodeValidation,
				Message: "batch markers cannot be nested",
				OpID:    op.OpID,
			}
		}
	}
	if e.pending.has(batchKey(b.ID)) {
		return Event{}, nil, nil, &OpError{Code: ErrCodeTargetMissing, Message: "batch is waiting for a target", OpID: b.ID}
	}

	seen := make(map[string]struct{}, len(b.Ops))
	fresh := make([]board.Op, 0, len(b.Ops))
	for _, op := range b.Ops {
		if _, dup := e.applied[op.OpID]; dup {
			continue
		}
		if _, dup := seen[op.OpID]; dup {
			continue
		}
		seen[op.OpID] = struct{}{}
		fresh = append(fresh, op)
	}
	if len(fresh) == 0 {
		slog.Debug("duplicate batch ignored", "batch_id", b.ID)
		return Event{}, nil, nil, nil
	}

	tx := newTxn(e.slots)
	var (
		outs     []outcome
		accepted []board.Op
		inv      []board.Op
		created  []string
	)
	for _, op := range fresh {
		var undo board.Op
		var hasUndo bool
		if wantInverse {
			undo, hasUndo = inverseOf(tx.lookup(op.Target()), op)
		}

		out, err := tx.apply(op)
		if err == nil && out.hidden && local {
			err = NewTargetMissingError(op.OpID, op.Target())
		}
		switch {
		case err == nil:
		case IsStaleOp(err):
			slog.Debug("stale op skipped in batch", "batch_id", b.ID, "op_id", op.OpID)
			continue
		case IsTargetMissing(err):
			if !local {
				e.hold(pendingItem{key: batchKey(b.ID), target: op.Target(), batch: &b, at: e.now()})
			}
			return Event{}, nil, nil, &OpError{
				Code:     ErrCodeTargetMissing,
				Message:  "batch references a missing element",
				OpID:     b.ID,
				TargetID: op.Target(),
			}
		default:
			return Event{}, nil, nil, err
		}
		if out.hidden {
			accepted = append(accepted, op)
			continue
		}

		outs = append(outs, out)
		accepted = append(accepted, op)
		if hasUndo {
			inv = append(inv, undo)
		}
		if op.Type == board.OpCreate && out.isLive {
			created = append(created, out.id)
		}
	}
	if len(accepted) == 0 {
		return Event{}, nil, nil, NewStaleOpError(b.ID, "")
	}
	tx.commit()

	applied := board.Batch{ID: b.ID, Ops: accepted}
	e.record(applied.Marker(batchKey(b.ID), accepted[0].OriginID))
	opIDs := make([]string, len(accepted))
	for i, op := range accepted {
		e.record(op)
		opIDs[i] = op.OpID
	}
	slices.Reverse(inv)
	if len(outs) == 0 {
		slog.Debug("batch landed on deleted elements", "batch_id", b.ID, "ops", len(accepted))
		return Event{}, nil, nil, nil
	}

	origin := OriginRemote
	if local {
		origin = OriginLocal
	}
	ev := e.event(EventBatch, outs, origin, opIDs)

	slog.Debug("batch applied", "batch_id", b.ID, "ops", len(accepted), "origin", string(origin))

	var flushed []Event
	for _, id := range created {
		flushed = append(flushed, e.flushLocked(id)...)
	}
	return ev, flushed, inv, nil
}

// hold buffers a remote item awaiting its target.
func (e *Engine) hold(item pendingItem) {
	for _, ev := range e.pending.add(item) {
		slog.Warn("pending buffer full, dropping oldest", "key", ev.key, "target_id", ev.target)
	}
	slog.Debug("buffered op for missing target", "key", item.key, "target_id", item.target)
}

// flushLocked retries everything waiting on target.
func (e *Engine) flushLocked(target string) []Event {
	var events []Event
	for _, item := range e.pending.take(target) {
		var (
			ev      Event
			flushed []Event
			err     error
		)
		if item.batch != nil {
			ev, flushed, _, err = e.applyBatchLocked(*item.batch, false, false)
		} else {
			ev, flushed, _, err = e.applyLocked(*item.op, false, false)
		}
		switch {
		case err == nil:
		case IsTargetMissing(err):
			continue
		case IsStaleOp(err):
			slog.Debug("buffered op became stale", "key", item.key, "target_id", item.target)
			continue
		default:
			slog.Warn("buffered op rejected", "key", item.key, "error", err)
			continue
		}
		if !ev.IsZero() {
			events = append(events, ev)
		}
		events = append(events, flushed...)
	}
	return events
}

func (e *Engine) record(op board.Op) {
	e.applied[op.OpID] = struct{}{}
	e.history = append(e.history, op)
}

func singleEventType(out outcome) EventType {
	switch {
	case !out.wasLive && out.isLive:
		return EventCreated
	case out.wasLive && !out.isLive:
		return EventDeleted
	}
	return EventUpdated
}

// event builds an Event describing the committed state of the affected ids.
func (e *Engine) event(t EventType, outs []outcome, origin Origin, opIDs []string) Event {
	ev := Event{
		Seq:    e.nextSeqLocked(),
		Type:   t,
		Origin: origin,
		OpIDs:  opIDs,
	}
	seen := make(map[string]struct{}, len(outs))
	for _, out := range outs {
		if _, ok := seen[out.id]; ok {
			continue
		}
		seen[out.id] = struct{}{}
		ev.ElementIDs = append(ev.ElementIDs, out.id)
		if s := e.slots[out.id]; s != nil && s.live() {
			ev.Elements = append(ev.Elements, s.element())
		} else {
			ev.Removed = append(ev.Removed, out.id)
		}
	}
	return ev
}

// Prune drops pending ops older than the pending ttl and returns how many
// were dropped.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	expired := e.pending.prune(e.now())
	for _, it := range expired {
		slog.Warn("dropping op whose target never arrived", "key", it.key, "target_id", it.target)
	}
	return len(expired)
}

// PendingLen returns the number of buffered ops and batches.
func (e *Engine) PendingLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.len()
}

// Snapshot returns copies of the live elements in paint order, bottom
// first. While a drag is active dragged elements show their speculative
// positions.
func (e *Engine) Snapshot() []board.Element {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(true)
}

func (e *Engine) snapshotLocked(overlay bool) []board.Element {
	live := make([]*slot, 0, len(e.slots))
	for _, s := range e.slots {
		if s.live() {
			live = append(live, s)
		}
	}
	slices.SortFunc(live, func(a, b *slot) int {
		return cmp.Or(cmp.Compare(a.paintKey(), b.paintKey()), cmp.Compare(a.id, b.id))
	})

	out := make([]board.Element, len(live))
	for i, s := range live {
		out[i] = s.element()
		if overlay {
			e.drag.overlay(&out[i])
		}
	}
	return out
}

// Element returns a copy of the live element with the given id.
func (e *Engine) Element(id string) (board.Element, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.slots[id]
	if !ok || !s.live() {
		return board.Element{}, false
	}
	el := s.element()
	e.drag.overlay(&el)
	return el, true
}

// History returns every accepted op in acceptance order. Batches appear as
// a batchMarker followed by their ops. Feeding the result to Replay on a
// fresh engine reproduces this engine's committed state.
func (e *Engine) History() []board.Op {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.history)
}

// Digest fingerprints the committed element state. Replicas that received
// the same ops return the same digest.
func (e *Engine) Digest() (string, error) {
	e.mu.RLock()
	elems := e.snapshotLocked(false)
	e.mu.RUnlock()
	return board.Digest(elems)
}
