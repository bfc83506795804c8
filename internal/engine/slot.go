package engine

import (
	"maps"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// register is a last-writer-wins cell.
type register[T any] struct {
	stamp board.Stamp
	value T
}

// write stores v if s beats the current stamp and reports whether it did.
func (r *register[T]) write(s board.Stamp, v T) bool {
	if !s.Beats(r.stamp) {
		return false
	}
	r.stamp, r.value = s, v
	return true
}

// slot is the merge state behind one element id.
//
// Only the winning create's type and metadata are kept in base; every other
// field lives in its own register. version is the highest clock of any op
// the slot accepted.
type slot struct {
	id       string
	created  board.Stamp
	deleted  board.Stamp
	base     board.Element
	position register[board.Position]
	size     register[board.Size]
	parent   register[string]
	restack  board.Stamp
	style    map[string]register[board.Value]
	version  int64
}

func newSlot(id string) *slot {
	return &slot{id: id, style: make(map[string]register[board.Value])}
}

func (s *slot) clone() *slot {
	c := *s
	c.base = s.base.Clone()
	c.style = maps.Clone(s.style)
	return &c
}

// exists reports whether a create has ever landed.
func (s *slot) exists() bool {
	return !s.created.IsZero()
}

// live reports whether the winning create beats the winning delete.
func (s *slot) live() bool {
	return s.exists() && s.created.Beats(s.deleted)
}

// shadowed reports whether a write stamped st predates the winning create
// and so belongs to an earlier incarnation of the element.
func (s *slot) shadowed(st board.Stamp) bool {
	return s.created.Beats(st)
}

func (s *slot) bump(clock int64) {
	if clock > s.version {
		s.version = clock
	}
}

// applyCreate writes every field of el with stamp st.
func (s *slot) applyCreate(st board.Stamp, el board.Element) {
	if st.Beats(s.created) {
		s.created = st
		s.base = board.Element{ID: s.id, Type: el.Type, Metadata: el.Metadata.Clone()}
	}
	s.position.write(st, el.Position)
	s.size.write(st, el.Size)
	s.parent.write(st, el.ParentID)
	for k, v := range el.Style {
		reg := s.style[k]
		if reg.write(st, v) {
			s.style[k] = reg
		}
	}
}

func (s *slot) applyDelete(st board.Stamp) {
	s.deleted = board.Max(s.deleted, st)
}

func (s *slot) applyRestyle(st board.Stamp, style board.Attrs) {
	for k, v := range style {
		reg := s.style[k]
		if reg.write(st, v) {
			s.style[k] = reg
		}
	}
}

func (s *slot) applyReparent(st board.Stamp, parentID string) {
	s.parent.write(st, parentID)
	s.restack = board.Max(s.restack, st)
}

// element projects the registers into an Element.
func (s *slot) element() board.Element {
	e := board.Element{
		ID:       s.id,
		Type:     s.base.Type,
		Position: s.position.value,
		Size:     s.size.value,
		Metadata: s.base.Metadata.Clone(),
		ParentID: s.parent.value,
		Version:  s.version,
	}
	for k, reg := range s.style {
		if s.shadowed(reg.stamp) {
			continue
		}
		if _, removed := reg.value.(board.Null); removed || reg.value == nil {
			continue
		}
		if e.Style == nil {
			e.Style = make(board.Attrs)
		}
		e.Style[k] = reg.value
	}
	return e
}

// paintKey orders elements bottom to top: the later of the winning create
// and the latest restack of this incarnation.
func (s *slot) paintKey() string {
	key := s.created.OpID
	if !s.restack.IsZero() && !s.shadowed(s.restack) && s.restack.OpID > key {
		key = s.restack.OpID
	}
	return key
}
