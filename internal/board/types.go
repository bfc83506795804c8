package board

import (
	"math"

	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

// ElementType tags what kind of element this is. The set is open; the
// kernel falls back to rectangle containment for unknown types.
type ElementType string

const (
	TypeShape     ElementType = "shape"
	TypeFrame     ElementType = "frame"
	TypeConnector ElementType = "connector"
	TypeText      ElementType = "text"
	TypeSticky    ElementType = "sticky"
)

// Style keys with geometric meaning.
const (
	StyleRotation = "rotation" // radians, Number
	StyleShape    = "shape"    // "rect" | "ellipse", String
	MetaPoints    = "points"   // connector polyline relative to Position, List of [x,y] Lists
)

// Position is an element's top-left corner in world space.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// IsFinite reports whether both components are finite.
func (p Position) IsFinite() bool {
	return finite(p.X) && finite(p.Y)
}

// Size is an element's extent in world units.
type Size struct {
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// IsFinite reports whether both components are finite.
func (s Size) IsFinite() bool {
	return finite(s.W) && finite(s.H)
}

// IsPositive reports whether both components are strictly positive.
func (s Size) IsPositive() bool {
	return s.IsFinite() && s.W > 0 && s.H > 0
}

// Element is one typed item on the board.
//
// Elements are owned by the engine's element table and are only ever
// changed by an applied Op. Snapshots handed to consumers are copies.
type Element struct {
	ID       string      `json:"id"`
	Type     ElementType `json:"type"`
	Position Position    `json:"position"`
	Size     Size        `json:"size"`
	Style    Attrs       `json:"style,omitempty"`
	Metadata Attrs       `json:"metadata,omitempty"`
	ParentID string      `json:"parentId,omitempty"`
	Version  int64       `json:"version"`
}

// Clone returns a copy that shares no mutable maps with e.
func (e Element) Clone() Element {
	e.Style = e.Style.Clone()
	e.Metadata = e.Metadata.Clone()
	return e
}

// Bounds returns the element's axis-aligned world rectangle.
func (e Element) Bounds() geom.Rect {
	return geom.R(e.Position.X, e.Position.Y, e.Size.W, e.Size.H)
}

// Shape converts the element to the kernel's geometric view.
func (e Element) Shape() geom.Shape {
	s := geom.Shape{
		ID:     e.ID,
		Kind:   string(e.Type),
		Bounds: e.Bounds(),
	}
	if r, ok := e.Style.Number(StyleRotation); ok && finite(r) {
		s.Rotation = r
	}
	if kind, ok := e.Style.String(StyleShape); ok && kind == geom.KindEllipse && e.Type == TypeShape {
		s.Kind = geom.KindEllipse
	}
	if e.Type == TypeConnector {
		s.Path = connectorPath(e.Metadata[MetaPoints], e.Position)
	}
	return s
}

// connectorPath reads [[x,y],...] point lists and places them at origin;
// malformed entries are skipped.
func connectorPath(v Value, origin Position) []geom.Point {
	list, ok := v.(List)
	if !ok {
		return nil
	}
	var path []geom.Point
	for _, item := range list {
		pair, ok := item.(List)
		if !ok || len(pair) != 2 {
			continue
		}
		x, okX := pair[0].(Number)
		y, okY := pair[1].(Number)
		if okX && okY && finite(float64(x)) && finite(float64(y)) {
			path = append(path, geom.Pt(origin.X+float64(x), origin.Y+float64(y)))
		}
	}
	return path
}

// Shapes converts elements, preserving order.
func Shapes(elems []Element) []geom.Shape {
	out := make([]geom.Shape, len(elems))
	for i, e := range elems {
		out[i] = e.Shape()
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
