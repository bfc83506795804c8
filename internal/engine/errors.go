package engine

import (
	"errors"
	"fmt"
)

// OpError reports why an op was not applied.
type OpError struct {
	// Code identifies the error category.
	Code OpErrorCode

	// Message is a human-readable description.
	Message string

	// OpID identifies the rejected op (or the batch id for batch errors).
	OpID string

	// TargetID identifies the element the op addressed, if any.
	TargetID string
}

// OpErrorCode categorizes apply failures.
type OpErrorCode string

const (
	// ErrCodeValidation indicates a malformed payload or tag mismatch.
	// The op is never applied and never rebroadcast.
	ErrCodeValidation OpErrorCode = "VALIDATION"

	// ErrCodeTargetMissing indicates the target element does not exist.
	// Remote ops with this code are buffered until the create arrives.
	ErrCodeTargetMissing OpErrorCode = "TARGET_MISSING"

	// ErrCodeStaleOp indicates the op is stamped at or below the target's
	// tombstone. It is ignored.
	ErrCodeStaleOp OpErrorCode = "STALE_OP"
)

// ErrNothingToUndo is returned by Undo and Redo when the stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrDragInProgress is returned by BeginDrag while another drag is active.
var ErrDragInProgress = errors.New("drag already in progress")

// errNonFiniteDelta rejects drag deltas that are NaN or infinite.
var errNonFiniteDelta = errors.New("drag delta is not finite")

// ErrNoDrag is returned by drag updates when no drag is active.
var ErrNoDrag = errors.New("no drag in progress")

// Error implements the error interface.
func (e *OpError) Error() string {
	switch {
	case e.OpID != "" && e.TargetID != "":
		return fmt.Sprintf("%s: %s (op=%s, target=%s)", e.Code, e.Message, e.OpID, e.TargetID)
	case e.OpID != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.OpID)
	case e.TargetID != "":
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.TargetID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsTargetMissing reports whether err is a missing-target failure.
func IsTargetMissing(err error) bool {
	return hasCode(err, ErrCodeTargetMissing)
}

// IsStaleOp reports whether err marks an op ignored under a tombstone.
func IsStaleOp(err error) bool {
	return hasCode(err, ErrCodeStaleOp)
}

func hasCode(err error, code OpErrorCode) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// NewValidationError creates an OpError for a malformed op.
func NewValidationError(opID, targetID string, cause error) *OpError {
	return &OpError{
		Code:     ErrCodeValidation,
		Message:  cause.Error(),
		OpID:     opID,
		TargetID: targetID,
	}
}

// NewTargetMissingError creates an OpError for an op whose target is absent.
func NewTargetMissingError(opID, targetID string) *OpError {
	return &OpError{
		Code:     ErrCodeTargetMissing,
		Message:  "target element does not exist",
		OpID:     opID,
		TargetID: targetID,
	}
}

// NewStaleOpError creates an OpError for an op below the tombstone.
func NewStaleOpError(opID, targetID string) *OpError {
	return &OpError{
		Code:     ErrCodeStaleOp,
		Message:  "op is older than the element's tombstone",
		OpID:     opID,
		TargetID: targetID,
	}
}
