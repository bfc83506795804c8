package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// Supported backends.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Record is one logged op.
type Record struct {
	Seq        int64
	Op         board.Op
	Hash       string
	ReceivedAt time.Time
}

// BoardInfo summarizes one board's log.
type BoardInfo struct {
	ID      string
	Ops     int
	LastSeq int64
}

// Log is an append-only, per-board op log.
type Log interface {
	// AppendOp stores op unless the board already has its id. It reports
	// whether the op was new.
	AppendOp(ctx context.Context, boardID string, op board.Op) (bool, error)

	// AppendBatch stores b's marker and ops in one transaction. A batch
	// whose marker is already logged is skipped; it returns the number of
	// rows written.
	AppendBatch(ctx context.Context, boardID string, b board.Batch) (int, error)

	// History returns the ops with seq > afterSeq in log order. It never
	// returns nil.
	History(ctx context.Context, boardID string, afterSeq int64) ([]Record, error)

	// Boards lists every board with at least one op, ordered by id.
	Boards(ctx context.Context) ([]BoardInfo, error)

	Close() error
}

// Open opens a log with the named driver.
func Open(driver, path string) (Log, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path)
	case DriverBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Ops strips records down to their ops, ready for engine.Replay.
func Ops(records []Record) []board.Op {
	ops := make([]board.Op, len(records))
	for i, r := range records {
		ops[i] = r.Op
	}
	return ops
}

// MarkerID is the op id of a batch's marker. It matches the id the engine
// records in its own history, so the two logs deduplicate against each
// other.
func MarkerID(batchID string) string {
	return "batch:" + batchID
}

// batchRows expands b into the rows a log stores: marker first.
func batchRows(b board.Batch) ([]board.Op, error) {
	if b.ID == "" || len(b.Ops) == 0 {
		return nil, fmt.Errorf("append batch: batch needs an id and at least one op")
	}
	rows := make([]board.Op, 0, len(b.Ops)+1)
	rows = append(rows, b.Marker(MarkerID(b.ID), b.Ops[0].OriginID))
	return append(rows, b.Ops...), nil
}

// encodeOp returns the stored body and content hash of op.
func encodeOp(op board.Op) (string, string, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return "", "", fmt.Errorf("encode op %s: %w", op.OpID, err)
	}
	hash, err := board.OpHash(op)
	if err != nil {
		return "", "", fmt.Errorf("hash op %s: %w", op.OpID, err)
	}
	return string(body), hash, nil
}

func decodeOp(body []byte) (board.Op, error) {
	var op board.Op
	if err := json.Unmarshal(body, &op); err != nil {
		return board.Op{}, fmt.Errorf("decode op: %w", err)
	}
	return op, nil
}
