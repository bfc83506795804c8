package engine

import (
	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// dragState is the speculative overlay of an in-progress drag. It never
// touches the element table; only CommitDrag produces ops.
type dragState struct {
	ids   []string
	start map[string]board.Position
	delta board.Position
}

// overlay shifts el by the drag delta if it is being dragged. Safe on a
// nil receiver.
func (d *dragState) overlay(el *board.Element) {
	if d == nil {
		return
	}
	start, ok := d.start[el.ID]
	if !ok {
		return
	}
	el.Position = board.Position{X: start.X + d.delta.X, Y: start.Y + d.delta.Y}
}

// Dragging reports whether a drag is in progress.
func (e *Engine) Dragging() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drag != nil
}

// BeginDrag starts a drag of the given live elements. Unknown or deleted
// ids are ignored.
func (e *Engine) BeginDrag(ids ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.drag != nil {
		return ErrDragInProgress
	}
	d := &dragState{start: make(map[string]board.Position, len(ids))}
	for _, id := range ids {
		s, ok := e.slots[id]
		if !ok || !s.live() {
			continue
		}
		if _, dup := d.start[id]; dup {
			continue
		}
		d.ids = append(d.ids, id)
		d.start[id] = s.position.value
	}
	e.drag = d
	return nil
}

// UpdateDrag moves the dragged elements by delta (world units, relative to
// the drag start) in the overlay and publishes an EventDrag. Nothing is
// applied or broadcast.
func (e *Engine) UpdateDrag(delta board.Position) (Event, error) {
	if !delta.IsFinite() {
		return Event{}, NewValidationError("", "", errNonFiniteDelta)
	}
	return e.run(func() (Event, []Event, error) {
		if e.drag == nil {
			return Event{}, nil, ErrNoDrag
		}
		e.drag.delta = delta
		return e.dragEventLocked(EventDrag, true), nil, nil
	})
}

// CommitDrag ends the drag and applies one local batch moving every
// dragged element that is still live. The batch is returned for broadcast
// and pushed as a single undo entry. A drag that never moved commits
// nothing and returns an empty batch.
func (e *Engine) CommitDrag() (board.Batch, Event, error) {
	var b board.Batch
	ev, err := e.run(func() (Event, []Event, error) {
		d := e.drag
		if d == nil {
			return Event{}, nil, ErrNoDrag
		}
		e.drag = nil
		if d.delta == (board.Position{}) {
			return Event{}, nil, nil
		}

		var templates []board.Op
		for _, id := range d.ids {
			s, ok := e.slots[id]
			if !ok || !s.live() {
				continue
			}
			start := d.start[id]
			templates = append(templates, board.Op{
				Type:     board.OpMove,
				TargetID: id,
				Payload:  board.MovePayload{Position: board.Position{X: start.X + d.delta.X, Y: start.Y + d.delta.Y}},
			})
		}
		if len(templates) == 0 {
			return Event{}, nil, nil
		}

		b = board.Batch{ID: e.ids.Generate(), Ops: e.stampLocal(templates)}
		ev, flushed, inv, err := e.applyBatchLocked(b, true, true)
		if err != nil {
			b = board.Batch{}
			return Event{}, nil, err
		}
		e.pushLocal(inv)
		return ev, flushed, nil
	})
	return b, ev, err
}

// CancelDrag abandons the drag and publishes an EventDragCancelled carrying
// the committed positions of the dragged elements, which restores the
// pre-drag view.
func (e *Engine) CancelDrag() (Event, error) {
	return e.run(func() (Event, []Event, error) {
		if e.drag == nil {
			return Event{}, nil, ErrNoDrag
		}
		ev := e.dragEventLocked(EventDragCancelled, false)
		e.drag = nil
		return ev, nil, nil
	})
}

func (e *Engine) dragEventLocked(t EventType, overlay bool) Event {
	ev := Event{Seq: e.nextSeqLocked(), Type: t, Origin: OriginLocal}
	for _, id := range e.drag.ids {
		ev.ElementIDs = append(ev.ElementIDs, id)
		s, ok := e.slots[id]
		if !ok || !s.live() {
			ev.Removed = append(ev.Removed, id)
			continue
		}
		el := s.element()
		if overlay {
			e.drag.overlay(&el)
		}
		ev.Elements = append(ev.Elements, el)
	}
	return ev
}
