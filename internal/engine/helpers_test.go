package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

func createOp(opID, origin string, clock int64, el board.Element) board.Op {
	if el.Type == "" {
		el.Type = board.TypeShape
	}
	if el.Size == (board.Size{}) {
		el.Size = board.Size{W: 10, H: 10}
	}
	return board.Op{
		OpID:     opID,
		Type:     board.OpCreate,
		Payload:  board.CreatePayload{Element: el},
		OriginID: origin,
		Clock:    clock,
	}
}

func moveOp(opID, origin string, clock int64, target string, x, y float64) board.Op {
	return board.Op{
		OpID:     opID,
		Type:     board.OpMove,
		TargetID: target,
		Payload:  board.MovePayload{Position: board.Position{X: x, Y: y}},
		OriginID: origin,
		Clock:    clock,
	}
}

func resizeOp(opID, origin string, clock int64, target string, w, h float64) board.Op {
	return board.Op{
		OpID:     opID,
		Type:     board.OpResize,
		TargetID: target,
		Payload:  board.ResizePayload{Size: board.Size{W: w, H: h}},
		OriginID: origin,
		Clock:    clock,
	}
}

func restyleOp(opID, origin string, clock int64, target string, style board.Attrs) board.Op {
	return board.Op{
		OpID:     opID,
		Type:     board.OpRestyle,
		TargetID: target,
		Payload:  board.RestylePayload{Style: style},
		OriginID: origin,
		Clock:    clock,
	}
}

func deleteOp(opID, origin string, clock int64, target string) board.Op {
	return board.Op{
		OpID:     opID,
		Type:     board.OpDelete,
		TargetID: target,
		Payload:  board.DeletePayload{},
		OriginID: origin,
		Clock:    clock,
	}
}

func reparentOp(opID, origin string, clock int64, target, parent string) board.Op {
	return board.Op{
		OpID:     opID,
		Type:     board.OpReparent,
		TargetID: target,
		Payload:  board.ReparentPayload{ParentID: parent},
		OriginID: origin,
		Clock:    clock,
	}
}

// mustElement fetches a live element or fails the test.
func mustElement(t *testing.T, e *Engine, id string) board.Element {
	t.Helper()
	el, ok := e.Element(id)
	require.True(t, ok, "element %s should be live", id)
	return el
}

func mustDigest(t *testing.T, e *Engine) string {
	t.Helper()
	d, err := e.Digest()
	require.NoError(t, err)
	return d
}

// permute calls fn with every ordering of 0..n-1 (Heap's algorithm).
func permute(n int, fn func([]int)) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var gen func(k int)
	gen = func(k int) {
		if k <= 1 {
			fn(idx)
			return
		}
		for i := 0; i < k-1; i++ {
			gen(k - 1)
			if k%2 == 0 {
				idx[i], idx[k-1] = idx[k-1], idx[i]
			} else {
				idx[0], idx[k-1] = idx[k-1], idx[0]
			}
		}
		gen(k - 1)
	}
	gen(n)
}
