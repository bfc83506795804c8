package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

// Kind tags an envelope.
type Kind string

const (
	KindOp          Kind = "op"
	KindBatch       Kind = "batch"
	KindPresence    Kind = "presence"
	KindSyncRequest Kind = "sync_request"
	KindHistory     Kind = "history"
	KindLeave       Kind = "leave"
)

// Envelope is one wire message. Exactly the field matching Kind is set.
type Envelope struct {
	Kind     Kind             `json:"kind" validate:"required,oneof=op batch presence sync_request history leave"`
	Board    string           `json:"board,omitempty" validate:"max=256"`
	From     string           `json:"from,omitempty" validate:"max=128"`
	To       string           `json:"to,omitempty" validate:"max=128"`
	Op       *board.Op        `json:"op,omitempty" validate:"required_if=Kind op"`
	Batch    *board.Batch     `json:"batch,omitempty" validate:"required_if=Kind batch"`
	Presence *PresenceMessage `json:"presence,omitempty" validate:"required_if=Kind presence"`
	History  []board.Op       `json:"history,omitempty"`
	Leave    *LeaveMessage    `json:"leave,omitempty" validate:"required_if=Kind leave"`
}

// PresenceMessage is a participant heartbeat.
type PresenceMessage struct {
	ConnectionID   string      `json:"connectionId" validate:"required,max=128"`
	CursorWorldPos *geom.Point `json:"cursorWorldPos,omitempty"`
	SelectedIDs    []string    `json:"selectedIds" validate:"max=10000,dive,required"`
	TS             int64       `json:"ts" validate:"gte=0"`
}

// LeaveMessage announces that a participant disconnected.
type LeaveMessage struct {
	ConnectionID string `json:"connectionId" validate:"required,max=128"`
}

// OpEnvelope wraps a single op.
func OpEnvelope(from string, op board.Op) Envelope {
	return Envelope{Kind: KindOp, From: from, Op: &op}
}

// BatchEnvelope wraps a batch.
func BatchEnvelope(from string, b board.Batch) Envelope {
	return Envelope{Kind: KindBatch, From: from, Batch: &b}
}

// HistoryEnvelope carries a full op log addressed to one participant.
func HistoryEnvelope(from, to string, ops []board.Op) Envelope {
	return Envelope{Kind: KindHistory, From: from, To: to, History: ops}
}

// Codec encodes and validates envelopes. The zero value is not usable;
// call NewCodec.
type Codec struct {
	validate *validator.Validate
}

// NewCodec creates a codec whose validation errors name fields by their
// JSON tags.
func NewCodec() *Codec {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Codec{validate: v}
}

// Encode validates env and marshals it.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if err := c.Validate(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode unmarshals and validates one envelope.
//
// Shape problems (unknown kind, missing body, undecodable payload) are
// reported as MALFORMED_MESSAGE errors. Op semantics are left to the
// engine.
func (c *Codec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &Error{Code: ErrCodeMalformed, Message: "undecodable envelope", Err: err}
	}
	if err := c.Validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks env's shape with struct tags.
func (c *Codec) Validate(env Envelope) error {
	if err := c.validate.Struct(env); err != nil {
		return &Error{Code: ErrCodeMalformed, Message: formatValidation(err), Err: err}
	}
	return nil
}

func formatValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
