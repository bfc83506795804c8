// Package selection tracks which elements a participant has selected.
//
// It is a pure consumer: it reads the engine's snapshot for hit-testing,
// resolves gestures through the coordinate kernel, and listens to engine
// events so deleted elements fall out of the selection.
package selection

import (
	"maps"
	"slices"
	"sync"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

// Board is the part of the engine the manager reads.
type Board interface {
	Snapshot() []board.Element
	Subscribe(l engine.Listener) func()
}

// Manager holds one participant's selection. Methods are safe for
// concurrent use; the kernel is only read.
type Manager struct {
	kernel *geom.Kernel
	board  Board

	mu          sync.Mutex
	selected    map[string]struct{}
	onChange    func([]string)
	unsubscribe func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithOnChange registers a callback invoked with the new selection after
// every change, such as to publish it as presence. Changes caused by
// deletions fire on the goroutine that applied the delete, so fn must not
// wait on that goroutine; collab.Session.SetSelection does not.
func WithOnChange(fn func(ids []string)) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// New creates a manager and subscribes it to b's events. Call Close to
// unsubscribe.
func New(kernel *geom.Kernel, b Board, opts ...Option) *Manager {
	m := &Manager{
		kernel:   kernel,
		board:    b,
		selected: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribe = b.Subscribe(m.handleEvent)
	return m
}

// Close stops listening to engine events.
func (m *Manager) Close() {
	m.unsubscribe()
}

// Click selects the topmost element under a screen point. With additive
// set the hit element is toggled instead; a click on empty canvas clears
// the selection unless additive.
func (m *Manager) Click(screen geom.Point, additive bool) []string {
	world := m.kernel.ScreenToWorld(screen)
	id, hit := m.kernel.HitTest(world, board.Shapes(m.board.Snapshot()))

	return m.update(func(sel map[string]struct{}) {
		switch {
		case !hit && !additive:
			clear(sel)
		case !hit:
		case additive:
			if _, ok := sel[id]; ok {
				delete(sel, id)
			} else {
				sel[id] = struct{}{}
			}
		default:
			clear(sel)
			sel[id] = struct{}{}
		}
	})
}

// BoxSelect selects every element whose bounds overlap the rectangle
// spanned by two screen corners, in any order. With additive set the hits
// are added to the current selection.
func (m *Manager) BoxSelect(a, b geom.Point, additive bool) []string {
	world := m.kernel.ScreenRectToWorld(geom.RectFromCorners(a, b))
	ids := m.kernel.BoxIntersect(world, board.Shapes(m.board.Snapshot()))

	return m.update(func(sel map[string]struct{}) {
		if !additive {
			clear(sel)
		}
		for _, id := range ids {
			sel[id] = struct{}{}
		}
	})
}

// Set replaces the selection with ids that are currently live.
func (m *Manager) Set(ids ...string) []string {
	live := make(map[string]struct{})
	for _, el := range m.board.Snapshot() {
		live[el.ID] = struct{}{}
	}
	return m.update(func(sel map[string]struct{}) {
		clear(sel)
		for _, id := range ids {
			if _, ok := live[id]; ok {
				sel[id] = struct{}{}
			}
		}
	})
}

// Clear empties the selection.
func (m *Manager) Clear() {
	m.update(func(sel map[string]struct{}) { clear(sel) })
}

// Selected returns the selected ids in sorted order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.selected)
}

// IsSelected reports whether id is selected.
func (m *Manager) IsSelected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selected[id]
	return ok
}

func (m *Manager) handleEvent(ev engine.Event) {
	if len(ev.Removed) == 0 {
		return
	}
	m.update(func(sel map[string]struct{}) {
		for _, id := range ev.Removed {
			delete(sel, id)
		}
	})
}

// update applies fn and fires onChange when the selection changed.
func (m *Manager) update(fn func(sel map[string]struct{})) []string {
	m.mu.Lock()
	before := maps.Clone(m.selected)
	fn(m.selected)
	after := sortedKeys(m.selected)
	changed := !maps.Equal(before, m.selected)
	onChange := m.onChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(slices.Clone(after))
	}
	return after
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
