package geom

import "math"

// Shape is the geometric view of a board element used by queries.
//
// Rotation is in radians around the bounds center. Path optionally carries
// the world-space polyline of connector-like shapes; when empty, such
// shapes run along the bounds diagonal.
type Shape struct {
	ID       string
	Kind     string
	Bounds   Rect
	Rotation float64
	Path     []Point
}

// AABB returns the axis-aligned bounding box of the shape, accounting for
// rotation and path points.
func (s Shape) AABB() Rect {
	if len(s.Path) > 0 {
		r := Rect{X: s.Path[0].X, Y: s.Path[0].Y}
		for _, p := range s.Path[1:] {
			r = r.Union(Rect{X: p.X, Y: p.Y})
		}
		return r
	}
	b := s.Bounds.Normalize()
	if s.Rotation == 0 {
		return b
	}
	c := b.Center()
	corners := [4]Point{b.Min(), {X: b.X + b.W, Y: b.Y}, b.Max(), {X: b.X, Y: b.Y + b.H}}
	out := Rect{X: c.X, Y: c.Y}
	for _, p := range corners {
		q := rotateAround(p, c, s.Rotation)
		out = out.Union(Rect{X: q.X, Y: q.Y})
	}
	return out
}

// Containment decides whether a world point lies inside a shape. slop is a
// world-space tolerance for thin shapes.
type Containment func(s Shape, p Point, slop float64) bool

// Element kinds with built-in containment predicates.
const (
	KindShape     = "shape"
	KindFrame     = "frame"
	KindConnector = "connector"
	KindEllipse   = "ellipse"
)

// HitTester maps element kinds to containment predicates.
type HitTester struct {
	predicates map[string]Containment
	fallback   Containment
}

// NewHitTester returns a tester with the built-in predicates registered.
// Unknown kinds fall back to rotated-rectangle containment.
func NewHitTester() *HitTester {
	h := &HitTester{
		predicates: make(map[string]Containment),
		fallback:   RectContains,
	}
	h.Register(KindShape, RectContains)
	h.Register(KindFrame, RectContains)
	h.Register(KindEllipse, EllipseContains)
	h.Register(KindConnector, PathContains)
	return h
}

// Register installs a predicate for kind, replacing any previous one.
func (h *HitTester) Register(kind string, c Containment) {
	if c == nil {
		delete(h.predicates, kind)
		return
	}
	h.predicates[kind] = c
}

// Contains evaluates the predicate registered for the shape's kind.
func (h *HitTester) Contains(s Shape, p Point, slop float64) bool {
	if c, ok := h.predicates[s.Kind]; ok {
		return c(s, p, slop)
	}
	return h.fallback(s, p, slop)
}

// HitTest scans shapes in reverse paint order and returns the first hit.
func (h *HitTester) HitTest(p Point, shapes []Shape, slop float64) (string, bool) {
	for i := len(shapes) - 1; i >= 0; i-- {
		if h.Contains(shapes[i], p, slop) {
			return shapes[i].ID, true
		}
	}
	return "", false
}

// BoxIntersect returns ids of shapes whose bounding boxes overlap r, edges
// inclusive, in input order.
func BoxIntersect(r Rect, shapes []Shape) []string {
	var ids []string
	for _, s := range shapes {
		if s.AABB().Intersects(r) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Bounds returns the union of every shape's bounding box.
func Bounds(shapes []Shape) (Rect, bool) {
	if len(shapes) == 0 {
		return Rect{}, false
	}
	r := shapes[0].AABB()
	for _, s := range shapes[1:] {
		r = r.Union(s.AABB())
	}
	return r, true
}

// RectContains tests the point against the (possibly rotated) bounds.
func RectContains(s Shape, p Point, _ float64) bool {
	b := s.Bounds.Normalize()
	if s.Rotation != 0 {
		p = rotateAround(p, b.Center(), -s.Rotation)
	}
	return b.Contains(p)
}

// EllipseContains tests the point against the ellipse inscribed in the
// (possibly rotated) bounds.
func EllipseContains(s Shape, p Point, _ float64) bool {
	b := s.Bounds.Normalize()
	if b.W == 0 || b.H == 0 {
		return false
	}
	c := b.Center()
	if s.Rotation != 0 {
		p = rotateAround(p, c, -s.Rotation)
	}
	dx := (p.X - c.X) / (b.W / 2)
	dy := (p.Y - c.Y) / (b.H / 2)
	return dx*dx+dy*dy <= 1
}

// PathContains accepts points within slop of the shape's polyline.
func PathContains(s Shape, p Point, slop float64) bool {
	path := s.Path
	if len(path) == 0 {
		b := s.Bounds
		path = []Point{b.Min(), b.Max()}
	}
	if len(path) == 1 {
		return p.Distance(path[0]) <= slop
	}
	for i := 1; i < len(path); i++ {
		if distanceToSegment(p, path[i-1], path[i]) <= slop {
			return true
		}
	}
	return false
}

func distanceToSegment(p, a, b Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq == 0 {
		return p.Distance(a)
	}
	t := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/lenSq))
	return p.Distance(a.Add(ab.Mul(t)))
}

func rotateAround(p, c Point, angle float64) Point {
	sin, cos := math.Sincos(angle)
	d := p.Sub(c)
	return Point{X: c.X + d.X*cos - d.Y*sin, Y: c.Y + d.X*sin + d.Y*cos}
}
