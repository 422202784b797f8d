package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ParsesType(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"find-partner"}`), &env))
	assert.Equal(t, TypeFindPartner, env.Type)
}

func TestRelayFrame_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"offer","roomId":"room-1","offer":{"sdp":"v=0"}}`)

	var frame RelayFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, TypeOffer, frame.Type)
	assert.Equal(t, "room-1", frame.RoomID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(frame.Offer))
}

func TestMatchedFrame_Marshal(t *testing.T) {
	frame := MatchedFrame{Type: TypeMatched, RoomID: "room-1", IsInitiator: true}
	data, err := Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"matched","roomId":"room-1","isInitiator":true}`, string(data))
}

func TestQueueUpdateFrame_Marshal(t *testing.T) {
	frame := QueueUpdateFrame{Type: TypeQueueUpdate, Position: 1}
	data, err := Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"queue-update","position":1}`, string(data))
}

func TestNewErrorFrame(t *testing.T) {
	frame := NewErrorFrame("already in a chat")
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, "already in a chat", frame.Message)
}
