package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

var drivers = []string{DriverSQLite, DriverBolt}

// openTestLog opens a fresh log of the given driver in a temp dir.
func openTestLog(t *testing.T, driver string) Log {
	t.Helper()
	l, err := Open(driver, filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func createOp(id, origin string, clock int64, elemID string) board.Op {
	return board.Op{
		OpID: id,
		Type: board.OpCreate,
		Payload: board.CreatePayload{Element: board.Element{
			ID:    elemID,
			Type:  board.TypeShape,
			Size:  board.Size{W: 10, H: 10},
			Style: board.Attrs{"fill": board.String("red")},
		}},
		OriginID: origin,
		Clock:    clock,
	}
}

func moveOp(id, origin string, clock int64, target string, x, y float64) board.Op {
	return board.Op{
		OpID:     id,
		Type:     board.OpMove,
		TargetID: target,
		Payload:  board.MovePayload{Position: board.Position{X: x, Y: y}},
		OriginID: origin,
		Clock:    clock,
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, l Log)) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			fn(t, openTestLog(t, d))
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x"))
	assert.ErrorContains(t, err, `unknown store driver "postgres"`)
}

func TestOpenSQLite_CreatesFileAndPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestAppendOp_RoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()
		c := createOp("c1", "alice", 1, "a")
		m := moveOp("m1", "bob", 2, "a", 5, 6)

		added, err := l.AppendOp(ctx, "board-1", c)
		require.NoError(t, err)
		assert.True(t, added)
		_, err = l.AppendOp(ctx, "board-1", m)
		require.NoError(t, err)

		recs, err := l.History(ctx, "board-1", 0)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, c, recs[0].Op)
		assert.Equal(t, m, recs[1].Op)
		assert.Less(t, recs[0].Seq, recs[1].Seq)

		wantHash, err := board.OpHash(c)
		require.NoError(t, err)
		assert.Equal(t, wantHash, recs[0].Hash)
	})
}

func TestAppendOp_IgnoresDuplicates(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()
		op := createOp("c1", "alice", 1, "a")

		_, err := l.AppendOp(ctx, "b", op)
		require.NoError(t, err)
		added, err := l.AppendOp(ctx, "b", op)
		require.NoError(t, err)
		assert.False(t, added)

		added, err = l.AppendOp(ctx, "other", op)
		require.NoError(t, err)
		assert.True(t, added, "op ids are unique per board")

		recs, err := l.History(ctx, "b", 0)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestHistory_AfterSeqAndEmpty(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()

		recs, err := l.History(ctx, "nothing", 0)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)

		for i, id := range []string{"c1", "c2", "c3"} {
			_, err := l.AppendOp(ctx, "b", createOp(id, "o", 1, string(rune('a'+i))))
			require.NoError(t, err)
		}
		all, err := l.History(ctx, "b", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)

		tail, err := l.History(ctx, "b", all[0].Seq)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "c2", tail[0].Op.OpID)
	})
}

func TestAppendBatch_StoresMarkerThenOps(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()
		b := board.Batch{ID: "drag-1", Ops: []board.Op{
			moveOp("m1", "alice", 2, "a", 1, 1),
			moveOp("m2", "alice", 2, "b", 2, 2),
		}}

		n, err := l.AppendBatch(ctx, "board", b)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = l.AppendBatch(ctx, "board", b)
		require.NoError(t, err)
		assert.Zero(t, n, "redelivered batch is skipped")

		recs, err := l.History(ctx, "board", 0)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, MarkerID("drag-1"), recs[0].Op.OpID)
		assert.Equal(t, board.BatchMarkerPayload{BatchID: "drag-1", Count: 2}, recs[0].Op.Payload)
		assert.Equal(t, "m1", recs[1].Op.OpID)
		assert.Equal(t, "m2", recs[2].Op.OpID)
	})
}

func TestAppendBatch_RejectsEmpty(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		_, err := l.AppendBatch(context.Background(), "board", board.Batch{ID: "x"})
		assert.Error(t, err)
	})
}

func TestBoards(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()
		boards, err := l.Boards(ctx)
		require.NoError(t, err)
		assert.Empty(t, boards)

		_, err = l.AppendOp(ctx, "zeta", createOp("c1", "o", 1, "a"))
		require.NoError(t, err)
		_, err = l.AppendOp(ctx, "alpha", createOp("c1", "o", 1, "a"))
		require.NoError(t, err)
		_, err = l.AppendOp(ctx, "alpha", moveOp("m1", "o", 2, "a", 1, 1))
		require.NoError(t, err)

		boards, err = l.Boards(ctx)
		require.NoError(t, err)
		require.Len(t, boards, 2)
		assert.Equal(t, "alpha", boards[0].ID)
		assert.Equal(t, 2, boards[0].Ops)
		assert.Equal(t, "zeta", boards[1].ID)
		assert.Equal(t, 1, boards[1].Ops)
	})
}

// A log written by the relay replays into an engine with the same state
// the writers reached.
func TestHistory_ReplaysIntoEngine(t *testing.T) {
	forEachDriver(t, func(t *testing.T, l Log) {
		ctx := context.Background()
		writer := engine.New("alice")

		c, err := writer.Create(board.Element{ID: "a", Type: board.TypeShape, Size: board.Size{W: 4, H: 4}})
		require.NoError(t, err)
		_, err = writer.Apply(c)
		require.NoError(t, err)
		_, err = l.AppendOp(ctx, "b", c)
		require.NoError(t, err)

		require.NoError(t, writer.BeginDrag("a"))
		_, err = writer.UpdateDrag(board.Position{X: 3, Y: 3})
		require.NoError(t, err)
		batch, _, err := writer.CommitDrag()
		require.NoError(t, err)
		_, err = l.AppendBatch(ctx, "b", batch)
		require.NoError(t, err)

		recs, err := l.History(ctx, "b", 0)
		require.NoError(t, err)

		reader := engine.New("reader")
		_, err = reader.Replay(Ops(recs))
		require.NoError(t, err)

		want, err := writer.Digest()
		require.NoError(t, err)
		got, err := reader.Digest()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, writer.History(), reader.History())
	})
}
