package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
)

func createOp(id, origin string, clock int64, elemID string) board.Op {
	return board.Op{
		OpID: id,
		Type: board.OpCreate,
		Payload: board.CreatePayload{Element: board.Element{
			ID: elemID, Type: board.TypeShape, Size: board.Size{W: 10, H: 10},
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

// seedLog writes a small two-board log and returns its path.
func seedLog(t *testing.T, driver string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.db")
	log, err := store.Open(driver, path)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	_, err = log.AppendOp(ctx, "b1", createOp("c1", "alice", 1, "x"))
	require.NoError(t, err)
	_, err = log.AppendOp(ctx, "b1", moveOp("m1", "bob", 2, "x", 5, 5))
	require.NoError(t, err)
	_, err = log.AppendBatch(ctx, "b1", board.Batch{ID: "g1", Ops: []board.Op{
		createOp("c2", "alice", 3, "y"),
		moveOp("m2", "alice", 2, "x", 9, 9),
	}})
	require.NoError(t, err)
	_, err = log.AppendOp(ctx, "b2", createOp("c3", "carol", 1, "z"))
	require.NoError(t, err)
	return path
}

func runReplayCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := runReplayCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayDatabaseNotFound(t *testing.T) {
	_, err := runReplayCmd(t, "text", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplayEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	log, err := store.Open(store.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	out, err := runReplayCmd(t, "text", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No boards found")
}

func TestReplayConverges(t *testing.T) {
	for _, driver := range []string{store.DriverSQLite, store.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			path := seedLog(t, driver)

			out, err := runReplayCmd(t, "json", "--db", path, "--driver", driver, "--shuffles", "8", "--seed", "3")
			require.NoError(t, err)

			var resp struct {
				Status string       `json:"status"`
				Data   ReplayResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "ok", resp.Status)
			assert.True(t, resp.Data.Deterministic)
			require.Len(t, resp.Data.Boards, 2)

			b1 := resp.Data.Boards[0]
			assert.Equal(t, "b1", b1.Board)
			assert.Equal(t, 5, b1.Ops)
			assert.Equal(t, 2, b1.Elements)
			require.Len(t, b1.Orders, 10)
			assert.Equal(t, "log", b1.Orders[0].Order)
			assert.Equal(t, "reversed", b1.Orders[1].Order)
			for _, o := range b1.Orders {
				assert.True(t, o.Match, o.Order)
				assert.Equal(t, b1.Digest, o.Digest, o.Order)
			}

			b2 := resp.Data.Boards[1]
			assert.Equal(t, "b2", b2.Board)
			assert.Equal(t, 1, b2.Elements)
		})
	}
}

func TestReplaySingleBoard(t *testing.T) {
	path := seedLog(t, store.DriverSQLite)

	out, err := runReplayCmd(t, "text", "--db", path, "--board", "b2")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ b2: 1 ops, 1 elements")
	assert.NotContains(t, out, "✓ b1")

	_, err = runReplayCmd(t, "text", "--db", path, "--board", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDeliveryUnits_KeepBatchesTogether(t *testing.T) {
	b := board.Batch{ID: "g1", Ops: []board.Op{
		createOp("c2", "alice", 3, "y"),
		moveOp("m2", "alice", 3, "x", 9, 9),
	}}
	ops := []board.Op{
		createOp("c1", "alice", 1, "x"),
		b.Marker(store.MarkerID("g1"), "alice"),
		b.Ops[0],
		b.Ops[1],
		moveOp("m1", "bob", 2, "x", 5, 5),
	}

	units := deliveryUnits(ops)
	require.Len(t, units, 3)
	assert.Len(t, units[0], 1)
	assert.Len(t, units[1], 3)
	assert.Equal(t, "batch:g1", units[1][0].OpID)
	assert.Len(t, units[2], 1)

	rev := reversed(units)
	assert.Equal(t, "m1", rev[0][0].OpID)
	assert.Equal(t, "c1", units[0][0].OpID)
}

func TestDeliveryUnits_TruncatedBatch(t *testing.T) {
	b := board.Batch{ID: "g1", Ops: []board.Op{createOp("c2", "alice", 3, "y")}}
	marker := b.Marker(store.MarkerID("g1"), "alice")
	marker.Payload = board.BatchMarkerPayload{BatchID: "g1", Count: 4}

	units := deliveryUnits([]board.Op{marker, b.Ops[0]})
	require.Len(t, units, 1)
	assert.Len(t, units[0], 2)
}
