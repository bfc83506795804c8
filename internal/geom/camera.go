package geom

import "math"

// Default zoom bounds and hit slop.
const (
	DefaultZoomMin = 0.1
	DefaultZoomMax = 8.0

	// DefaultHitSlop is the screen-space tolerance, in pixels, used by
	// containment predicates for thin shapes such as connectors.
	DefaultHitSlop = 4.0
)

// Camera is the world-space point the viewport center maps to, plus zoom.
type Camera struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Viewport is the on-screen size of the canvas container in pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the viewport center in screen space.
func (v Viewport) Center() Point {
	return Point{X: v.Width / 2, Y: v.Height / 2}
}

// Kernel holds the camera and viewport and answers coordinate queries.
//
// Query methods never mutate the kernel. Camera mutators clamp instead of
// rejecting: every method is total over finite input.
type Kernel struct {
	camera   Camera
	viewport Viewport
	zoomMin  float64
	zoomMax  float64
	hitSlop  float64
	hit      *HitTester
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithZoomBounds sets the zoom clamp range. Invalid ranges are ignored.
func WithZoomBounds(min, max float64) KernelOption {
	return func(k *Kernel) {
		if min > 0 && max >= min && isFinite(max) {
			k.zoomMin, k.zoomMax = min, max
		}
	}
}

// WithHitSlop sets the screen-space hit tolerance in pixels.
func WithHitSlop(px float64) KernelOption {
	return func(k *Kernel) {
		if px >= 0 && isFinite(px) {
			k.hitSlop = px
		}
	}
}

// WithHitTester replaces the containment predicate registry.
func WithHitTester(h *HitTester) KernelOption {
	return func(k *Kernel) {
		if h != nil {
			k.hit = h
		}
	}
}

// NewKernel creates a kernel with the camera at the world origin and zoom 1.
func NewKernel(viewport Viewport, opts ...KernelOption) *Kernel {
	k := &Kernel{
		camera:  Camera{Zoom: 1},
		zoomMin: DefaultZoomMin,
		zoomMax: DefaultZoomMax,
		hitSlop: DefaultHitSlop,
		hit:     NewHitTester(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.SetViewport(viewport.Width, viewport.Height)
	k.camera.Zoom = k.clampZoom(k.camera.Zoom)
	return k
}

// Camera returns the current camera.
func (k *Kernel) Camera() Camera { return k.camera }

// Viewport returns the current viewport.
func (k *Kernel) Viewport() Viewport { return k.viewport }

// ZoomBounds returns the configured clamp range.
func (k *Kernel) ZoomBounds() (min, max float64) { return k.zoomMin, k.zoomMax }

// SetCamera replaces the camera, clamping zoom.
func (k *Kernel) SetCamera(c Camera) {
	if !isFinite(c.X) || !isFinite(c.Y) {
		return
	}
	if !isFinite(c.Zoom) || c.Zoom <= 0 {
		c.Zoom = k.camera.Zoom
	}
	c.Zoom = k.clampZoom(c.Zoom)
	k.camera = c
}

// SetViewport records a container resize. The camera is left unchanged so
// world content does not shift; call FitToScreen to recompute it.
func (k *Kernel) SetViewport(width, height float64) {
	k.viewport = Viewport{Width: nonNegative(width), Height: nonNegative(height)}
}

// ScreenToWorld maps a screen point to world space.
func (k *Kernel) ScreenToWorld(screen Point) Point {
	return screen.Sub(k.viewport.Center()).Div(k.camera.Zoom).Add(k.cameraPoint())
}

// WorldToScreen maps a world point to screen space. It is the exact inverse
// of ScreenToWorld.
func (k *Kernel) WorldToScreen(world Point) Point {
	return world.Sub(k.cameraPoint()).Mul(k.camera.Zoom).Add(k.viewport.Center())
}

// ScreenRectToWorld maps a screen rectangle to world space.
func (k *Kernel) ScreenRectToWorld(r Rect) Rect {
	return RectFromCorners(k.ScreenToWorld(r.Min()), k.ScreenToWorld(r.Max()))
}

// VisibleWorldRect returns the world-space rectangle currently on screen.
func (k *Kernel) VisibleWorldRect() Rect {
	return k.ScreenRectToWorld(Rect{W: k.viewport.Width, H: k.viewport.Height})
}

// ZoomAt multiplies zoom by factor while keeping the world point under
// pivot fixed on screen. Non-finite or non-positive factors are ignored.
func (k *Kernel) ZoomAt(pivot Point, factor float64) {
	if !isFinite(factor) || factor <= 0 || !pivot.IsFinite() {
		return
	}
	anchor := k.ScreenToWorld(pivot)
	zoom := k.clampZoom(k.camera.Zoom * factor)

	// Solve (pivot - center)/zoom + camera' = anchor for camera'.
	offset := pivot.Sub(k.viewport.Center()).Div(zoom)
	k.camera = Camera{X: anchor.X - offset.X, Y: anchor.Y - offset.Y, Zoom: zoom}
}

// Pan moves the camera by a screen-space delta.
func (k *Kernel) Pan(delta Point) {
	if !delta.IsFinite() {
		return
	}
	d := delta.Div(k.camera.Zoom)
	k.camera.X -= d.X
	k.camera.Y -= d.Y
}

// FitToScreen centers the camera on bounds and picks the largest zoom that
// fits them inside the viewport with padding pixels on each side.
// Empty bounds or a degenerate viewport leave the camera unchanged.
func (k *Kernel) FitToScreen(bounds Rect, padding float64) {
	b := bounds.Normalize()
	availW := k.viewport.Width - 2*nonNegative(padding)
	availH := k.viewport.Height - 2*nonNegative(padding)
	if b.W <= 0 || b.H <= 0 || availW <= 0 || availH <= 0 {
		return
	}
	zoom := k.clampZoom(math.Min(availW/b.W, availH/b.H))
	c := b.Center()
	k.camera = Camera{X: c.X, Y: c.Y, Zoom: zoom}
}

// HitTest returns the topmost shape containing the world point. Shapes must
// be given in paint order (first painted first); the last match wins.
func (k *Kernel) HitTest(world Point, shapes []Shape) (string, bool) {
	return k.hit.HitTest(world, shapes, k.hitSlop/k.camera.Zoom)
}

// BoxIntersect returns the ids of every shape whose bounds overlap the world
// rectangle, in paint order.
func (k *Kernel) BoxIntersect(world Rect, shapes []Shape) []string {
	return BoxIntersect(world, shapes)
}

func (k *Kernel) cameraPoint() Point {
	return Point{X: k.camera.X, Y: k.camera.Y}
}

func (k *Kernel) clampZoom(z float64) float64 {
	return math.Max(k.zoomMin, math.Min(k.zoomMax, z))
}

func nonNegative(f float64) float64 {
	if !isFinite(f) || f < 0 {
		return 0
	}
	return f
}
