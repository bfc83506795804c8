package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// applyLocal builds an op with fn and applies it.
func applyLocal(t *testing.T, e *Engine, fn func() (board.Op, error)) board.Op {
	t.Helper()
	op, err := fn()
	require.NoError(t, err)
	_, err = e.Apply(op)
	require.NoError(t, err)
	return op
}

func newShape(id string) board.Element {
	return board.Element{ID: id, Type: board.TypeShape, Size: board.Size{W: 10, H: 10}}
}

func TestUndo_MoveEmitsForwardOp(t *testing.T) {
	e := New("me")
	applyLocal(t, e, func() (board.Op, error) { return e.Create(newShape("a")) })
	applyLocal(t, e, func() (board.Op, error) { return e.Move("a", board.Position{X: 5, Y: 5}) })

	b, ev, err := e.Undo()
	require.NoError(t, err)
	require.Len(t, b.Ops, 1)
	assert.Empty(t, b.ID)
	assert.Equal(t, board.OpMove, b.Ops[0].Type)
	assert.Equal(t, int64(3), b.Ops[0].Clock)
	assert.Equal(t, "me", b.Ops[0].OriginID)
	assert.Equal(t, OriginLocal, ev.Origin)
	assert.Equal(t, board.Position{}, mustElement(t, e, "a").Position)

	_, _, err = e.Redo()
	require.NoError(t, err)
	assert.Equal(t, board.Position{X: 5, Y: 5}, mustElement(t, e, "a").Position)
	assert.Equal(t, int64(4), mustElement(t, e, "a").Version)
}

func TestUndo_CreateThenRedo(t *testing.T) {
	e := New("me")
	applyLocal(t, e, func() (board.Op, error) { return e.Create(newShape("a")) })

	b, _, err := e.Undo()
	require.NoError(t, err)
	assert.Equal(t, board.OpDelete, b.Ops[0].Type)
	_, ok := e.Element("a")
	assert.False(t, ok)
	assert.False(t, e.CanUndo())
	assert.True(t, e.CanRedo())

	_, _, err = e.Redo()
	require.NoError(t, err)
	mustElement(t, e, "a")
}

func TestUndo_DeleteRestoresElement(t *testing.T) {
	e := New("me")
	el := newShape("a")
	el.Style = board.Attrs{"fill": board.String("red")}
	el.Position = board.Position{X: 3, Y: 4}
	applyLocal(t, e, func() (board.Op, error) { return e.Create(el) })
	applyLocal(t, e, func() (board.Op, error) { return e.Delete("a") })

	_, _, err := e.Undo()
	require.NoError(t, err)

	got := mustElement(t, e, "a")
	assert.Equal(t, board.Position{X: 3, Y: 4}, got.Position)
	assert.Equal(t, board.Attrs{"fill": board.String("red")}, got.Style)
}

func TestUndo_RestyleRemovesAddedKey(t *testing.T) {
	e := New("me")
	el := newShape("a")
	el.Style = board.Attrs{"fill": board.String("red")}
	applyLocal(t, e, func() (board.Op, error) { return e.Create(el) })
	applyLocal(t, e, func() (board.Op, error) {
		return e.Restyle("a", board.Attrs{"fill": board.String("blue"), "stroke": board.String("black")})
	})

	b, _, err := e.Undo()
	require.NoError(t, err)
	p := b.Ops[0].Payload.(board.RestylePayload)
	assert.Equal(t, board.Attrs{"fill": board.String("red"), "stroke": board.Null{}}, p.Style)
	assert.Equal(t, board.Attrs{"fill": board.String("red")}, mustElement(t, e, "a").Style)
}

func TestUndo_NewEditClearsRedo(t *testing.T) {
	e := New("me")
	applyLocal(t, e, func() (board.Op, error) { return e.Create(newShape("a")) })
	applyLocal(t, e, func() (board.Op, error) { return e.Move("a", board.Position{X: 1}) })

	_, _, err := e.Undo()
	require.NoError(t, err)
	require.True(t, e.CanRedo())

	applyLocal(t, e, func() (board.Op, error) { return e.Move("a", board.Position{X: 2}) })
	assert.False(t, e.CanRedo())

	_, _, err = e.Redo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndo_EmptyStack(t *testing.T) {
	e := New("me")
	_, _, err := e.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndo_RemoteOpsAreNotUndoable(t *testing.T) {
	e := New("me")
	_, err := e.Apply(createOp("c", "peer", 1, board.Element{ID: "a"}))
	require.NoError(t, err)
	assert.False(t, e.CanUndo())
}

func TestUndo_TargetDeletedByPeer(t *testing.T) {
	e := New("me")
	applyLocal(t, e, func() (board.Op, error) { return e.Create(newShape("a")) })
	applyLocal(t, e, func() (board.Op, error) { return e.Move("a", board.Position{X: 1}) })

	_, err := e.Ingest(deleteOp("d", "peer", 9, "a"))
	require.NoError(t, err)

	_, _, err = e.Undo()
	assert.True(t, IsTargetMissing(err))
}

func TestUndo_Bounded(t *testing.T) {
	e := New("me", WithUndoLimit(2))
	applyLocal(t, e, func() (board.Op, error) { return e.Create(newShape("a")) })
	for i := 1; i <= 3; i++ {
		x := float64(i)
		applyLocal(t, e, func() (board.Op, error) { return e.Move("a", board.Position{X: x}) })
	}

	for i := 0; i < 2; i++ {
		_, _, err := e.Undo()
		require.NoError(t, err)
	}
	_, _, err := e.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	assert.Equal(t, board.Position{X: 1}, mustElement(t, e, "a").Position)
}

func TestUndo_ReplicatesLikeAnyEdit(t *testing.T) {
	local := New("me")
	remote := New("peer")

	ship := func(op board.Op) {
		_, err := remote.Ingest(op)
		require.NoError(t, err)
	}

	ship(applyLocal(t, local, func() (board.Op, error) { return local.Create(newShape("a")) }))
	ship(applyLocal(t, local, func() (board.Op, error) { return local.Move("a", board.Position{X: 8, Y: 8}) }))

	b, _, err := local.Undo()
	require.NoError(t, err)
	for _, op := range b.Ops {
		ship(op)
	}

	assert.Equal(t, mustDigest(t, local), mustDigest(t, remote))
	assert.Equal(t, board.Position{}, mustElement(t, remote, "a").Position)
}
