package engine

import (
	"errors"
	"fmt"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// ReplayResult summarizes a Replay.
type ReplayResult struct {
	Applied  int // ops and batches that changed state
	Skipped  int // duplicates and stale ops
	Buffered int // ops and batches waiting for a target
}

// Replay ingests a recorded op log, as produced by History or the relay's
// op log, through the remote path. A batchMarker groups the ops that follow
// it into one batch.
//
// Stale ops, duplicates and missing targets are not failures. Validation
// failures are collected and returned joined; replay continues past them.
func (e *Engine) Replay(ops []board.Op) (ReplayResult, error) {
	var (
		res  ReplayResult
		errs []error
	)
	for i := 0; i < len(ops); {
		op := ops[i]

		var (
			ev  Event
			err error
		)
		if p, ok := op.Payload.(board.BatchMarkerPayload); ok && op.Type == board.OpBatchMarker {
			end := i + 1 + p.Count
			if p.Count == 0 || end > len(ops) {
				errs = append(errs, NewValidationError(op.OpID, "",
					fmt.Errorf("batch %s declares %d ops but %d follow", p.BatchID, p.Count, len(ops)-i-1)))
				break
			}
			ev, err = e.IngestBatch(board.Batch{ID: p.BatchID, Ops: ops[i+1 : end]})
			i = end
		} else {
			ev, err = e.Ingest(op)
			i++
		}

		switch {
		case err == nil && ev.IsZero():
			res.Skipped++
		case err == nil:
			res.Applied++
		case IsStaleOp(err):
			res.Skipped++
		case IsTargetMissing(err):
			res.Buffered++
		default:
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}
