package engine

import (
	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// inverseOf returns an op template that reverts op when applied to the
// state s is in now. Templates carry no id, clock or origin; stampLocal
// fills those in when the undo is replayed.
func inverseOf(s *slot, op board.Op) (board.Op, bool) {
	target := op.Target()
	if op.Type == board.OpCreate {
		if s != nil && s.live() {
			// Recreating a live element; revert to what it was.
			el := s.element()
			el.Version = 0
			return board.Op{Type: board.OpCreate, Payload: board.CreatePayload{Element: el}}, true
		}
		return board.Op{Type: board.OpDelete, TargetID: target, Payload: board.DeletePayload{}}, true
	}
	if s == nil || !s.live() {
		return board.Op{}, false
	}

	switch p := op.Payload.(type) {
	case board.DeletePayload:
		el := s.element()
		el.Version = 0
		return board.Op{Type: board.OpCreate, Payload: board.CreatePayload{Element: el}}, true
	case board.MovePayload:
		return board.Op{Type: board.OpMove, TargetID: target, Payload: board.MovePayload{Position: s.position.value}}, true
	case board.ResizePayload:
		return board.Op{Type: board.OpResize, TargetID: target, Payload: board.ResizePayload{Size: s.size.value}}, true
	case board.RestylePayload:
		current := s.element().Style
		prior := make(board.Attrs, len(p.Style))
		for k := range p.Style {
			if v, ok := current[k]; ok {
				prior[k] = v
			} else {
				prior[k] = board.Null{}
			}
		}
		return board.Op{Type: board.OpRestyle, TargetID: target, Payload: board.RestylePayload{Style: prior}}, true
	case board.ReparentPayload:
		return board.Op{Type: board.OpReparent, TargetID: target, Payload: board.ReparentPayload{ParentID: s.parent.value}}, true
	}
	return board.Op{}, false
}

// pushLocal records the inverse of a fresh local edit and clears redo.
func (e *Engine) pushLocal(inv []board.Op) {
	if len(inv) == 0 {
		return
	}
	e.undo = pushBounded(e.undo, inv, e.undoLimit)
	e.redo = nil
}

func pushBounded(stack [][]board.Op, entry []board.Op, limit int) [][]board.Op {
	stack = append(stack, entry)
	if limit > 0 && len(stack) > limit {
		stack = stack[len(stack)-limit:]
	}
	return stack
}

// CanUndo reports whether Undo has an entry to revert.
func (e *Engine) CanUndo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.undo) > 0
}

// CanRedo reports whether Redo has an entry to reapply.
func (e *Engine) CanRedo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.redo) > 0
}

// Undo reverts the most recent local edit by applying fresh forward ops.
// The returned batch holds those ops so they can be broadcast like any
// other local edit; it has an id only when it holds more than one op.
//
// If the edit can no longer be reverted (for example a peer deleted the
// element) the entry is discarded and the apply error is returned.
func (e *Engine) Undo() (board.Batch, Event, error) {
	return e.unwind(false)
}

// Redo reapplies the most recently undone edit.
func (e *Engine) Redo() (board.Batch, Event, error) {
	return e.unwind(true)
}

func (e *Engine) unwind(redo bool) (board.Batch, Event, error) {
	var b board.Batch
	ev, err := e.run(func() (Event, []Event, error) {
		from, to := &e.undo, &e.redo
		if redo {
			from, to = &e.redo, &e.undo
		}
		if len(*from) == 0 {
			return Event{}, nil, ErrNothingToUndo
		}
		entry := (*from)[len(*from)-1]
		*from = (*from)[:len(*from)-1]

		b = board.Batch{Ops: e.stampLocal(entry)}

		var (
			ev      Event
			flushed []Event
			inv     []board.Op
			err     error
		)
		if len(b.Ops) == 1 {
			ev, flushed, inv, err = e.applyLocked(b.Ops[0], true, true)
		} else {
			b.ID = e.ids.Generate()
			ev, flushed, inv, err = e.applyBatchLocked(b, true, true)
		}
		if err != nil {
			b = board.Batch{}
			return Event{}, nil, err
		}
		if len(inv) > 0 {
			*to = pushBounded(*to, inv, e.undoLimit)
		}
		return ev, flushed, nil
	})
	return b, ev, err
}

// stampLocal turns op templates into local ops with fresh ids and clocks.
// Repeated targets get increasing clocks so later ops win.
func (e *Engine) stampLocal(templates []board.Op) []board.Op {
	next := make(map[string]int64, len(templates))
	out := make([]board.Op, len(templates))
	for i, op := range templates {
		target := op.Target()
		clock, ok := next[target]
		if !ok {
			clock = e.clockForLocked(target)
		}
		next[target] = clock + 1

		op.OpID = e.ids.Generate()
		op.OriginID = e.origin
		op.Clock = clock
		out[i] = op
	}
	return out
}

// clockForLocked returns the clock a new local op on id must carry: one
// past everything the slot has accepted, which also clears its tombstone.
func (e *Engine) clockForLocked(id string) int64 {
	s, ok := e.slots[id]
	if !ok {
		return 1
	}
	c := s.version
	if s.deleted.Clock > c {
		c = s.deleted.Clock
	}
	return c + 1
}
