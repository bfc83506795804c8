package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

func dragFixture(t *testing.T) *Engine {
	t.Helper()
	e := New("me")
	a := newShape("a")
	b := newShape("b")
	b.Position = board.Position{X: 20, Y: 20}
	applyLocal(t, e, func() (board.Op, error) { return e.Create(a) })
	applyLocal(t, e, func() (board.Op, error) { return e.Create(b) })
	return e
}

func TestDrag_UpdateIsSpeculative(t *testing.T) {
	e := dragFixture(t)
	before := mustDigest(t, e)
	historyLen := len(e.History())

	require.NoError(t, e.BeginDrag("a", "b", "missing", "a"))
	assert.True(t, e.Dragging())

	ev, err := e.UpdateDrag(board.Position{X: 10, Y: 5})
	require.NoError(t, err)
	assert.Equal(t, EventDrag, ev.Type)
	require.Len(t, ev.Elements, 2)
	assert.Equal(t, board.Position{X: 10, Y: 5}, ev.Elements[0].Position)
	assert.Equal(t, board.Position{X: 30, Y: 25}, ev.Elements[1].Position)

	assert.Equal(t, board.Position{X: 10, Y: 5}, mustElement(t, e, "a").Position, "readers see the overlay")
	assert.Equal(t, before, mustDigest(t, e), "committed state is untouched")
	assert.Len(t, e.History(), historyLen)
}

func TestDrag_CommitAppliesOneBatch(t *testing.T) {
	e := dragFixture(t)

	require.NoError(t, e.BeginDrag("a", "b"))
	_, err := e.UpdateDrag(board.Position{X: 1, Y: 1})
	require.NoError(t, err)
	_, err = e.UpdateDrag(board.Position{X: 10, Y: 5})
	require.NoError(t, err)

	b, ev, err := e.CommitDrag()
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	require.Len(t, b.Ops, 2)
	assert.Equal(t, EventBatch, ev.Type)
	assert.False(t, e.Dragging())

	assert.Equal(t, board.Position{X: 10, Y: 5}, mustElement(t, e, "a").Position)
	assert.Equal(t, board.Position{X: 30, Y: 25}, mustElement(t, e, "b").Position)

	history := e.History()
	require.Len(t, history, 5)
	assert.Equal(t, board.OpBatchMarker, history[2].Type)

	// The whole gesture undoes as one step.
	undo, _, err := e.Undo()
	require.NoError(t, err)
	assert.Len(t, undo.Ops, 2)
	assert.Equal(t, board.Position{}, mustElement(t, e, "a").Position)
	assert.Equal(t, board.Position{X: 20, Y: 20}, mustElement(t, e, "b").Position)
}

func TestDrag_CommitReplicates(t *testing.T) {
	e := dragFixture(t)
	peer := New("peer")
	_, err := peer.Replay(e.History())
	require.NoError(t, err)

	require.NoError(t, e.BeginDrag("a"))
	_, err = e.UpdateDrag(board.Position{X: 4, Y: 4})
	require.NoError(t, err)
	b, _, err := e.CommitDrag()
	require.NoError(t, err)

	_, err = peer.IngestBatch(b)
	require.NoError(t, err)
	assert.Equal(t, mustDigest(t, e), mustDigest(t, peer))
}

func TestDrag_CancelRestoresView(t *testing.T) {
	e := dragFixture(t)
	before := mustDigest(t, e)

	require.NoError(t, e.BeginDrag("a"))
	_, err := e.UpdateDrag(board.Position{X: 50, Y: 50})
	require.NoError(t, err)

	ev, err := e.CancelDrag()
	require.NoError(t, err)
	assert.Equal(t, EventDragCancelled, ev.Type)
	require.Len(t, ev.Elements, 1)
	assert.Equal(t, board.Position{}, ev.Elements[0].Position)

	assert.False(t, e.Dragging())
	assert.Equal(t, board.Position{}, mustElement(t, e, "a").Position)
	assert.Equal(t, before, mustDigest(t, e))
	assert.False(t, e.CanRedo())
}

func TestDrag_Errors(t *testing.T) {
	e := dragFixture(t)

	_, err := e.UpdateDrag(board.Position{X: 1})
	assert.ErrorIs(t, err, ErrNoDrag)
	_, _, err = e.CommitDrag()
	assert.ErrorIs(t, err, ErrNoDrag)
	_, err = e.CancelDrag()
	assert.ErrorIs(t, err, ErrNoDrag)

	require.NoError(t, e.BeginDrag("a"))
	assert.ErrorIs(t, e.BeginDrag("b"), ErrDragInProgress)
}

func TestDrag_ZeroDeltaCommitsNothing(t *testing.T) {
	e := dragFixture(t)
	require.NoError(t, e.BeginDrag("a"))

	b, ev, err := e.CommitDrag()
	require.NoError(t, err)
	assert.Empty(t, b.Ops)
	assert.True(t, ev.IsZero())
	assert.Len(t, e.History(), 2)
}

func TestEvents_SeqIsContiguousAcrossDragsAndEdits(t *testing.T) {
	e := dragFixture(t)
	var seqs []int64
	unsubscribe := e.Subscribe(func(ev Event) { seqs = append(seqs, ev.Seq) })
	defer unsubscribe()

	require.NoError(t, e.BeginDrag("a"))
	_, err := e.UpdateDrag(board.Position{X: 3, Y: 3})
	require.NoError(t, err)
	_, err = e.CancelDrag()
	require.NoError(t, err)

	move := moveOp("m1", "peer", 9, "b", 1, 1)
	_, err = e.Ingest(move)
	require.NoError(t, err)
	dup, err := e.Ingest(move)
	require.NoError(t, err)
	assert.True(t, dup.IsZero(), "duplicates consume no sequence number")

	assert.Equal(t, []int64{3, 4, 5}, seqs)
}
