package engine

import (
	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// txn stages slot changes so a batch can be applied all-or-nothing.
// Slots are copied on first touch; commit swaps the copies in.
type txn struct {
	base   map[string]*slot
	staged map[string]*slot
}

func newTxn(base map[string]*slot) *txn {
	return &txn{base: base, staged: make(map[string]*slot)}
}

// lookup returns the staged slot for id, or nil if the id was never seen.
func (t *txn) lookup(id string) *slot {
	if s, ok := t.staged[id]; ok {
		return s
	}
	s, ok := t.base[id]
	if !ok {
		return nil
	}
	c := s.clone()
	t.staged[id] = c
	return c
}

func (t *txn) ensure(id string) *slot {
	if s := t.lookup(id); s != nil {
		return s
	}
	s := newSlot(id)
	t.staged[id] = s
	return s
}

func (t *txn) commit() {
	for id, s := range t.staged {
		t.base[id] = s
	}
}

// outcome records how one op changed the liveness of its target.
type outcome struct {
	id      string
	wasLive bool
	isLive  bool

	// hidden marks a write to a tombstoned element. It lands in the
	// registers, where a later revival sees it, but changes nothing
	// visible.
	hidden bool
}

// apply merges op into the staged state. op must already be validated.
func (t *txn) apply(op board.Op) (outcome, error) {
	target := op.Target()
	st := op.Stamp()

	if op.Type == board.OpCreate {
		s := t.ensure(target)
		if !s.deleted.IsZero() && !st.Beats(s.deleted) {
			return outcome{}, NewStaleOpError(op.OpID, target)
		}
		out := outcome{id: target, wasLive: s.live()}
		p := op.Payload.(board.CreatePayload)
		s.applyCreate(st, p.Element)
		s.bump(op.Clock)
		out.isLive = s.live()
		return out, nil
	}

	s := t.lookup(target)
	if s == nil || !s.exists() {
		return outcome{}, NewTargetMissingError(op.OpID, target)
	}
	if !s.deleted.IsZero() && !st.Beats(s.deleted) {
		return outcome{}, NewStaleOpError(op.OpID, target)
	}

	out := outcome{id: target, wasLive: s.live()}
	switch p := op.Payload.(type) {
	case board.DeletePayload:
		s.applyDelete(st)
	case board.MovePayload:
		s.position.write(st, p.Position)
	case board.ResizePayload:
		s.size.write(st, p.Size)
	case board.RestylePayload:
		s.applyRestyle(st, p.Style)
	case board.ReparentPayload:
		s.applyReparent(st, p.ParentID)
	default:
		return outcome{}, &OpError{
			Code:     ErrCodeValidation,
			Message:  "unsupported payload " + string(op.Type),
			OpID:     op.OpID,
			TargetID: target,
		}
	}
	s.bump(op.Clock)
	out.isLive = s.live()
	out.hidden = op.Type != board.OpDelete && !out.wasLive
	return out, nil
}
