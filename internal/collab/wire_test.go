package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

func TestCodec_RoundTripOp(t *testing.T) {
	c := NewCodec()
	op := board.Op{
		OpID:     "op-1",
		Type:     board.OpMove,
		TargetID: "a",
		Payload:  board.MovePayload{Position: board.Position{X: 3, Y: 4}},
		OriginID: "peer",
		Clock:    2,
	}

	data, err := c.Encode(OpEnvelope("peer", op))
	require.NoError(t, err)

	env, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindOp, env.Kind)
	assert.Equal(t, "peer", env.From)
	require.NotNil(t, env.Op)
	assert.Equal(t, op, *env.Op)
}

func TestCodec_RoundTripPresence(t *testing.T) {
	c := NewCodec()
	cursor := geom.Pt(1.5, -2)
	data, err := c.Encode(Envelope{Kind: KindPresence, Presence: &PresenceMessage{
		ConnectionID:   "p1",
		CursorWorldPos: &cursor,
		SelectedIDs:    []string{"a", "b"},
		TS:             99,
	}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cursorWorldPos":{"x":1.5,"y":-2}`)

	env, err := c.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, env.Presence)
	assert.Equal(t, cursor, *env.Presence.CursorWorldPos)
	assert.Equal(t, []string{"a", "b"}, env.Presence.SelectedIDs)
}

func TestCodec_DecodeRejectsMalformed(t *testing.T) {
	c := NewCodec()
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"not json", `{"kind":`, "undecodable"},
		{"unknown kind", `{"kind":"shout"}`, "kind failed oneof"},
		{"missing kind", `{}`, "kind failed required"},
		{"op without body", `{"kind":"op"}`, "op failed required_if"},
		{"batch without body", `{"kind":"batch"}`, "batch failed required_if"},
		{"presence without id", `{"kind":"presence","presence":{"selectedIds":[],"ts":1}}`, "connectionId failed required"},
		{"negative ts", `{"kind":"presence","presence":{"connectionId":"x","selectedIds":[],"ts":-1}}`, "ts failed gte"},
		{"empty selected id", `{"kind":"presence","presence":{"connectionId":"x","selectedIds":[""],"ts":1}}`, "selectedIds[0] failed required"},
		{"leave without id", `{"kind":"leave","leave":{}}`, "connectionId failed required"},
		{"bad op payload", `{"kind":"op","op":{"opId":"1","type":"teleport","payload":{},"originId":"o","clock":1}}`, "undecodable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCodec_SyncRequestNeedsNoBody(t *testing.T) {
	env, err := NewCodec().Decode([]byte(`{"kind":"sync_request","from":"p"}`))
	require.NoError(t, err)
	assert.Equal(t, KindSyncRequest, env.Kind)
}

func TestCodec_EncodeValidates(t *testing.T) {
	_, err := NewCodec().Encode(Envelope{Kind: KindBatch})
	assert.True(t, IsMalformed(err))
}
