package board

import (
	"encoding/json"
	"fmt"
)

// OpType is the tag of an operation and of its payload variant.
type OpType string

const (
	OpCreate      OpType = "create"
	OpMove        OpType = "move"
	OpResize      OpType = "resize"
	OpRestyle     OpType = "restyle"
	OpDelete      OpType = "delete"
	OpReparent    OpType = "reparent"
	OpBatchMarker OpType = "batchMarker"
)

// ValidOpTypes lists every known tag.
var ValidOpTypes = map[OpType]bool{
	OpCreate:      true,
	OpMove:        true,
	OpResize:      true,
	OpRestyle:     true,
	OpDelete:      true,
	OpReparent:    true,
	OpBatchMarker: true,
}

// Payload is the sealed sum type carried by an Op. Each variant reports the
// OpType it belongs to so a tag mismatch is detectable.
type Payload interface {
	PayloadType() OpType
}

// CreatePayload carries the full snapshot of the new element.
type CreatePayload struct {
	Element Element `json:"element"`
}

// MovePayload sets the element's position.
type MovePayload struct {
	Position Position `json:"position"`
}

// ResizePayload sets the element's size.
type ResizePayload struct {
	Size Size `json:"size"`
}

// RestylePayload merges a partial style mapping. A Null value removes the key.
type RestylePayload struct {
	Style Attrs `json:"style"`
}

// DeletePayload tombstones the element.
type DeletePayload struct{}

// ReparentPayload moves the element into a frame (or to the root when
// ParentID is empty) and raises it to the top of the paint order.
type ReparentPayload struct {
	ParentID string `json:"parentId"`
}

// BatchMarkerPayload opens a batch of Count following ops.
type BatchMarkerPayload struct {
	BatchID string `json:"batchId"`
	Count   int    `json:"count"`
}

func (CreatePayload) PayloadType() OpType      { return OpCreate }
func (MovePayload) PayloadType() OpType        { return OpMove }
func (ResizePayload) PayloadType() OpType      { return OpResize }
func (RestylePayload) PayloadType() OpType     { return OpRestyle }
func (DeletePayload) PayloadType() OpType      { return OpDelete }
func (ReparentPayload) PayloadType() OpType    { return OpReparent }
func (BatchMarkerPayload) PayloadType() OpType { return OpBatchMarker }

// Op is an immutable, replicated description of one change to one element.
//
// Clock is scoped per target: it is the element version the origin saw plus
// one. TargetID is empty for create; the target is the id minted into the
// create payload.
type Op struct {
	OpID     string  `json:"opId"`
	Type     OpType  `json:"type"`
	TargetID string  `json:"targetId,omitempty"`
	Payload  Payload `json:"payload"`
	OriginID string  `json:"originId"`
	Clock    int64   `json:"clock"`
}

// Target returns the id of the element the op addresses.
func (op Op) Target() string {
	if p, ok := op.Payload.(CreatePayload); ok {
		return p.Element.ID
	}
	return op.TargetID
}

// Stamp returns the op's ordering key.
func (op Op) Stamp() Stamp {
	return Stamp{Clock: op.Clock, Origin: op.OriginID, OpID: op.OpID}
}

// Validate checks that the payload matches the tag and is well formed.
// It does not consult element state.
func (op Op) Validate() error {
	if op.OpID == "" {
		return fmt.Errorf("op id is required")
	}
	if !ValidOpTypes[op.Type] {
		return fmt.Errorf("unknown op type %q", op.Type)
	}
	if op.Payload == nil {
		return fmt.Errorf("%s op has no payload", op.Type)
	}
	if op.Payload.PayloadType() != op.Type {
		return fmt.Errorf("payload %s does not match op type %s", op.Payload.PayloadType(), op.Type)
	}
	if op.OriginID == "" {
		return fmt.Errorf("origin id is required")
	}
	if op.Clock < 1 {
		return fmt.Errorf("clock must be positive, got %d", op.Clock)
	}
	if op.Type != OpCreate && op.Type != OpBatchMarker && op.TargetID == "" {
		return fmt.Errorf("%s op requires a target id", op.Type)
	}

	switch p := op.Payload.(type) {
	case CreatePayload:
		if p.Element.ID == "" {
			return fmt.Errorf("create payload has no element id")
		}
		if op.TargetID != "" && op.TargetID != p.Element.ID {
			return fmt.Errorf("create target %q differs from element id %q", op.TargetID, p.Element.ID)
		}
		if p.Element.Type == "" {
			return fmt.Errorf("create payload has no element type")
		}
		if !p.Element.Position.IsFinite() {
			return fmt.Errorf("create position is not finite")
		}
		if !p.Element.Size.IsPositive() {
			return fmt.Errorf("create size must be positive, got %vx%v", p.Element.Size.W, p.Element.Size.H)
		}
	case MovePayload:
		if !p.Position.IsFinite() {
			return fmt.Errorf("move position is not finite")
		}
	case ResizePayload:
		if !p.Size.IsFinite() {
			return fmt.Errorf("resize size is not finite")
		}
		if !p.Size.IsPositive() {
			return fmt.Errorf("resize would make size non-positive: %vx%v", p.Size.W, p.Size.H)
		}
	case RestylePayload:
		if len(p.Style) == 0 {
			return fmt.Errorf("restyle payload is empty")
		}
	case ReparentPayload:
		if p.ParentID == op.TargetID {
			return fmt.Errorf("element cannot be its own parent")
		}
	case BatchMarkerPayload:
		if p.BatchID == "" {
			return fmt.Errorf("batch marker has no batch id")
		}
		if p.Count < 0 {
			return fmt.Errorf("batch marker count must not be negative")
		}
	case DeletePayload:
	}

	return nil
}

// wireOp is the JSON shape of an Op with the payload left raw until the tag
// is known.
type wireOp struct {
	OpID     string          `json:"opId"`
	Type     OpType          `json:"type"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	OriginID string          `json:"originId"`
	Clock    int64           `json:"clock"`
}

// MarshalJSON implements json.Marshaler.
func (op Op) MarshalJSON() ([]byte, error) {
	payload := op.Payload
	if payload == nil {
		payload = DeletePayload{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op.Type, err)
	}
	return json.Marshal(wireOp{
		OpID:     op.OpID,
		Type:     op.Type,
		TargetID: op.TargetID,
		Payload:  raw,
		OriginID: op.OriginID,
		Clock:    op.Clock,
	})
}

// UnmarshalJSON decodes the payload variant selected by the type tag.
// Unknown tags are an error, never a silent no-op.
func (op *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*op = Op{
		OpID:     w.OpID,
		Type:     w.Type,
		TargetID: w.TargetID,
		Payload:  payload,
		OriginID: w.OriginID,
		Clock:    w.Clock,
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload variant for t.
func DecodePayload(t OpType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		p   Payload
		err error
	)
	switch t {
	case OpCreate:
		var v CreatePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpMove:
		var v MovePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpResize:
		var v ResizePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpRestyle:
		var v RestylePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpDelete:
		var v DeletePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpReparent:
		var v ReparentPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case OpBatchMarker:
		var v BatchMarkerPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown op type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Batch is an ordered group of ops sharing one causal moment, such as the
// commit of a drag gesture. It is applied all-or-nothing.
type Batch struct {
	ID  string `json:"batchId"`
	Ops []Op   `json:"ops"`
}

// Marker returns the batchMarker op that announces b on the wire.
func (b Batch) Marker(opID, originID string) Op {
	return Op{
		OpID:     opID,
		Type:     OpBatchMarker,
		Payload:  BatchMarkerPayload{BatchID: b.ID, Count: len(b.Ops)},
		OriginID: originID,
		Clock:    1,
	}
}
