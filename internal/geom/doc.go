// Package geom is the canvas coordinate kernel.
//
// It converts between screen pixel space and board world space for a given
// Camera and Viewport, and answers the geometric queries every interactive
// tool needs: hit-testing, box intersection and bounds.
//
// The transform is:
//
//	world  = (screen - viewportCenter) / zoom + camera
//	screen = (world - camera) * zoom + viewportCenter
//
// All query functions are pure and reentrant. Only the Kernel's camera
// mutators (ZoomAt, Pan, SetViewport, FitToScreen) change state, and a Kernel
// is not safe for concurrent mutation.
package geom
