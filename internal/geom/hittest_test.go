package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxIntersect_SelectsOverlapping(t *testing.T) {
	shapes := []Shape{
		{ID: "a", Kind: KindShape, Bounds: R(0, 0, 10, 10)},
		{ID: "b", Kind: KindShape, Bounds: R(20, 20, 10, 10)},
	}

	assert.Equal(t, []string{"a"}, BoxIntersect(R(0, 0, 15, 15), shapes))
}

func TestBoxIntersect_EdgesInclusive(t *testing.T) {
	shapes := []Shape{{ID: "a", Bounds: R(10, 10, 5, 5)}}

	assert.Equal(t, []string{"a"}, BoxIntersect(R(0, 0, 10, 10), shapes))
	assert.Empty(t, BoxIntersect(R(0, 0, 9.99, 9.99), shapes))
}

func TestBoxIntersect_ReversedDragBox(t *testing.T) {
	shapes := []Shape{{ID: "a", Bounds: R(0, 0, 10, 10)}}
	box := RectFromCorners(Pt(15, 15), Pt(5, 5))

	assert.Equal(t, []string{"a"}, BoxIntersect(box, shapes))
}

func TestHitTest_TopmostWins(t *testing.T) {
	k := NewKernel(Viewport{Width: 100, Height: 100})
	shapes := []Shape{
		{ID: "bottom", Kind: KindShape, Bounds: R(0, 0, 50, 50)},
		{ID: "top", Kind: KindShape, Bounds: R(25, 25, 50, 50)},
	}

	id, ok := k.HitTest(Pt(30, 30), shapes)
	assert.True(t, ok)
	assert.Equal(t, "top", id)

	id, ok = k.HitTest(Pt(10, 10), shapes)
	assert.True(t, ok)
	assert.Equal(t, "bottom", id)

	_, ok = k.HitTest(Pt(90, 90), shapes)
	assert.False(t, ok)
}

func TestHitTest_Ellipse(t *testing.T) {
	k := NewKernel(Viewport{Width: 100, Height: 100})
	shapes := []Shape{{ID: "e", Kind: KindEllipse, Bounds: R(0, 0, 20, 10)}}

	_, ok := k.HitTest(Pt(10, 5), shapes)
	assert.True(t, ok, "center is inside")

	_, ok = k.HitTest(Pt(1, 1), shapes)
	assert.False(t, ok, "bounds corner is outside the ellipse")
}

func TestHitTest_RotatedRect(t *testing.T) {
	k := NewKernel(Viewport{Width: 100, Height: 100})
	// A 40x4 bar rotated 90 degrees around (20,2) stands vertically.
	shapes := []Shape{{ID: "bar", Kind: KindShape, Bounds: R(0, 0, 40, 4), Rotation: math.Pi / 2}}

	_, ok := k.HitTest(Pt(20, 15), shapes)
	assert.True(t, ok)

	_, ok = k.HitTest(Pt(35, 2), shapes)
	assert.False(t, ok)

	aabb := shapes[0].AABB()
	assert.InDelta(t, 18, aabb.X, eps)
	assert.InDelta(t, 4, aabb.W, eps)
	assert.InDelta(t, 40, aabb.H, eps)
}

func TestHitTest_ConnectorSlopScalesWithZoom(t *testing.T) {
	shapes := []Shape{{
		ID:   "c",
		Kind: KindConnector,
		Path: []Point{Pt(0, 0), Pt(100, 0)},
	}}

	k := NewKernel(Viewport{Width: 100, Height: 100})
	_, ok := k.HitTest(Pt(50, 3), shapes)
	assert.True(t, ok, "3 world units is within 4px at zoom 1")

	k.SetCamera(Camera{Zoom: 4})
	_, ok = k.HitTest(Pt(50, 3), shapes)
	assert.False(t, ok, "3 world units is 12px at zoom 4")
}

func TestHitTester_CustomPredicate(t *testing.T) {
	h := NewHitTester()
	h.Register("diamond", func(s Shape, p Point, _ float64) bool {
		c := s.Bounds.Center()
		return math.Abs(p.X-c.X)/(s.Bounds.W/2)+math.Abs(p.Y-c.Y)/(s.Bounds.H/2) <= 1
	})
	k := NewKernel(Viewport{Width: 100, Height: 100}, WithHitTester(h))
	shapes := []Shape{{ID: "d", Kind: "diamond", Bounds: R(0, 0, 10, 10)}}

	_, ok := k.HitTest(Pt(5, 5), shapes)
	assert.True(t, ok)
	_, ok = k.HitTest(Pt(1, 1), shapes)
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	_, ok := Bounds(nil)
	assert.False(t, ok)

	r, ok := Bounds([]Shape{
		{Bounds: R(0, 0, 10, 10)},
		{Bounds: R(20, -5, 10, 10)},
	})
	assert.True(t, ok)
	assert.Equal(t, R(0, -5, 30, 15), r)
}
