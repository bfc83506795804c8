package collab

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes collaboration failures.
type ErrorCode string

const (
	// ErrCodeTransportLoss indicates a send or receive gap. It triggers a
	// resync on reconnect and is never fatal.
	ErrCodeTransportLoss ErrorCode = "TRANSPORT_LOSS"

	// ErrCodeMalformed indicates a wire message that failed to decode or
	// validate. The message is logged and dropped.
	ErrCodeMalformed ErrorCode = "MALFORMED_MESSAGE"
)

// ErrSessionClosed is returned by submissions after Run has returned.
var ErrSessionClosed = errors.New("session closed")

// Error is a collaboration failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportLoss reports whether err is a transport gap.
func IsTransportLoss(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeTransportLoss
}

// IsMalformed reports whether err is a rejected wire message.
func IsMalformed(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeMalformed
}
