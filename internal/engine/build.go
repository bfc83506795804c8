package engine

import (
	"fmt"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// Create builds a local create op for el. An empty el.ID is minted.
// The op is not applied; pass it to Apply (or collab.Session.Submit).
func (e *Engine) Create(el board.Element) (board.Op, error) {
	el = el.Clone()
	el.Version = 0
	if el.ID == "" {
		el.ID = e.ids.Generate()
	}

	e.mu.RLock()
	s, exists := e.slots[el.ID]
	live := exists && s.live()
	clock := e.clockForLocked(el.ID)
	e.mu.RUnlock()

	if live {
		return board.Op{}, NewValidationError("", el.ID, fmt.Errorf("element %s already exists", el.ID))
	}

	op := board.Op{
		OpID:     e.ids.Generate(),
		Type:     board.OpCreate,
		Payload:  board.CreatePayload{Element: el},
		OriginID: e.origin,
		Clock:    clock,
	}
	if err := op.Validate(); err != nil {
		return board.Op{}, NewValidationError(op.OpID, el.ID, err)
	}
	return op, nil
}

// Move builds a local op setting id's position.
func (e *Engine) Move(id string, pos board.Position) (board.Op, error) {
	return e.build(id, board.OpMove, board.MovePayload{Position: pos})
}

// Resize builds a local op setting id's size.
func (e *Engine) Resize(id string, size board.Size) (board.Op, error) {
	return e.build(id, board.OpResize, board.ResizePayload{Size: size})
}

// Restyle builds a local op merging style into id's style. A board.Null
// value removes the key.
func (e *Engine) Restyle(id string, style board.Attrs) (board.Op, error) {
	return e.build(id, board.OpRestyle, board.RestylePayload{Style: style.Clone()})
}

// Delete builds a local op tombstoning id.
func (e *Engine) Delete(id string) (board.Op, error) {
	return e.build(id, board.OpDelete, board.DeletePayload{})
}

// Reparent builds a local op moving id into parentID, or to the root when
// parentID is empty. The element is raised to the top of the paint order.
func (e *Engine) Reparent(id, parentID string) (board.Op, error) {
	if parentID != "" {
		e.mu.RLock()
		err := e.checkParentLocked(id, parentID)
		e.mu.RUnlock()
		if err != nil {
			return board.Op{}, err
		}
	}
	return e.build(id, board.OpReparent, board.ReparentPayload{ParentID: parentID})
}

// checkParentLocked rejects a parent that is missing or that would put id
// inside its own subtree.
func (e *Engine) checkParentLocked(id, parentID string) error {
	seen := make(map[string]struct{})
	for cur := parentID; cur != ""; {
		if cur == id {
			return NewValidationError("", id, fmt.Errorf("reparenting under %s would create a cycle", parentID))
		}
		if _, loop := seen[cur]; loop {
			break
		}
		seen[cur] = struct{}{}

		s, ok := e.slots[cur]
		if !ok || !s.live() {
			if cur == parentID {
				return NewTargetMissingError("", parentID)
			}
			break
		}
		cur = s.parent.value
	}
	return nil
}

func (e *Engine) build(id string, t board.OpType, p board.Payload) (board.Op, error) {
	e.mu.RLock()
	s, ok := e.slots[id]
	live := ok && s.live()
	clock := e.clockForLocked(id)
	e.mu.RUnlock()

	if !live {
		return board.Op{}, NewTargetMissingError("", id)
	}

	op := board.Op{
		OpID:     e.ids.Generate(),
		Type:     t,
		TargetID: id,
		Payload:  p,
		OriginID: e.origin,
		Clock:    clock,
	}
	if err := op.Validate(); err != nil {
		return board.Op{}, NewValidationError(op.OpID, id, err)
	}
	return op, nil
}
