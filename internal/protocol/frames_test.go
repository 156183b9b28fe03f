package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest_Register(t *testing.T) {
	req, ferr := DecodeRequest([]byte(`{"type":"register","peerId":"alice","maxConnections":30,"publicKey":"pk-a"}`))
	require.Nil(t, ferr)

	reg, ok := req.(*Register)
	require.True(t, ok)
	assert.Equal(t, "alice", reg.PeerID)
	assert.Equal(t, 30, reg.MaxConnections)
	assert.Equal(t, "pk-a", reg.PublicKey)
}

func TestDecodeRequest_Malformed(t *testing.T) {
	_, ferr := DecodeRequest([]byte(`{not json`))
	require.NotNil(t, ferr)
	assert.Equal(t, ErrCodeMalformedFrame, ferr.Code)
	assert.Equal(t, "Invalid message format", ferr.Message)
}

func TestDecodeRequest_MissingType(t *testing.T) {
	_, ferr := DecodeRequest([]byte(`{"peerId":"alice"}`))
	require.NotNil(t, ferr)
	assert.Equal(t, ErrCodeMissingField, ferr.Code)
	assert.Contains(t, ferr.Message, "type")
}

func TestDecodeRequest_UnknownType(t *testing.T) {
	_, ferr := DecodeRequest([]byte(`{"type":"subscribe"}`))
	require.NotNil(t, ferr)
	assert.Equal(t, ErrCodeUnknownType, ferr.Code)
	assert.Contains(t, ferr.Message, "subscribe")
}

func TestDecodeRequest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
		wantIn   string
	}{
		{"register missing peer", `{"type":"register"}`, ErrCodeMissingField, "peerId"},
		{"register bad peer id", `{"type":"register","peerId":"bad peer!"}`, ErrCodeInvalidField, "peerId"},
		{"register negative capacity", `{"type":"register","peerId":"a","maxConnections":-1}`, ErrCodeInvalidField, "maxConnections"},
		{"update_load missing peer", `{"type":"update_load","connectedCount":3}`, ErrCodeMissingField, "peerId"},
		{"update_load bad peer id", `{"type":"update_load","peerId":"bad peer!","connectedCount":3}`, ErrCodeInvalidField, "peerId"},
		{"update_load negative count", `{"type":"update_load","peerId":"a","connectedCount":-2}`, ErrCodeInvalidField, "connectedCount"},
		{"get_relays missing peer", `{"type":"get_relays"}`, ErrCodeMissingField, "peerId"},
		{"get_relays bad peer id", `{"type":"get_relays","peerId":"bad peer!"}`, ErrCodeInvalidField, "peerId"},
		{"heartbeat missing peer", `{"type":"heartbeat"}`, ErrCodeMissingField, "peerId"},
		{"heartbeat bad peer id", `{"type":"heartbeat","peerId":"bad peer!"}`, ErrCodeInvalidField, "peerId"},
		{"rendezvous bad peer id", `{"type":"register_rendezvous","peerId":"bad peer!","hourlyTokens":["ok"]}`, ErrCodeInvalidField, "peerId"},
		{"rendezvous bad token", `{"type":"register_rendezvous","peerId":"a","hourlyTokens":["ok","bad token"]}`, ErrCodeInvalidField, "hourlyTokens"},
		{"chunk_request bad peer id", `{"type":"chunk_request","peerId":"bad peer!","chunkId":"c1"}`, ErrCodeInvalidField, "peerId"},
		{"chunk_request missing chunk", `{"type":"chunk_request","peerId":"a"}`, ErrCodeMissingField, "chunkId"},
		{"chunk_push bad peer id", `{"type":"chunk_push","peerId":"bad peer!","chunkId":"c1","data":"x"}`, ErrCodeInvalidField, "peerId"},
		{"chunk_push missing data", `{"type":"chunk_push","peerId":"a","chunkId":"c1"}`, ErrCodeMissingField, "data"},
		{"chunk_announce bad peer id", `{"type":"chunk_announce","peerId":"bad peer!","chunks":[]}`, ErrCodeInvalidField, "peerId"},
		{"chunk_announce bad chunk id", `{"type":"chunk_announce","peerId":"a","chunks":[{"chunkId":"has space"}]}`, ErrCodeInvalidField, "chunks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ferr := DecodeRequest([]byte(tt.raw))
			require.NotNil(t, ferr)
			assert.Equal(t, tt.wantCode, ferr.Code)
			assert.Contains(t, ferr.Message, tt.wantIn)
		})
	}
}

func TestDecodeRequest_ChunkPushTooLarge(t *testing.T) {
	big := strings.Repeat("x", MaxChunkDataBytes)
	raw, err := json.Marshal(map[string]any{
		"type": "chunk_push", "peerId": "a", "chunkId": "c1", "data": big,
	})
	require.NoError(t, err)

	_, ferr := DecodeRequest(raw)
	require.NotNil(t, ferr)
	assert.Equal(t, ErrCodePayloadTooLarge, ferr.Code)
	assert.Contains(t, ferr.Message, "4096")
}

func TestDecodeRequest_ChunkPushAtLimit(t *testing.T) {
	// The serialized payload includes the quotes, so stay two under.
	data := strings.Repeat("x", MaxChunkDataBytes-2)
	raw, err := json.Marshal(map[string]any{
		"type": "chunk_push", "peerId": "a", "chunkId": "c1", "data": data,
	})
	require.NoError(t, err)

	req, ferr := DecodeRequest(raw)
	require.Nil(t, ferr)
	push := req.(*ChunkPush)
	assert.Equal(t, MaxChunkDataBytes, len(push.Data))
}

func TestDecodeRequest_Ping(t *testing.T) {
	req, ferr := DecodeRequest([]byte(`{"type":"ping"}`))
	require.Nil(t, ferr)
	assert.Equal(t, TypePing, req.RequestType())
}

func TestDecodeRequest_IgnoresUnknownOptionalFields(t *testing.T) {
	req, ferr := DecodeRequest([]byte(`{"type":"heartbeat","peerId":"a","futureField":true}`))
	require.Nil(t, ferr)
	assert.Equal(t, TypeHeartbeat, req.RequestType())
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("alice"))
	assert.True(t, ValidID("peer:node.01+x/y=z-w"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("white space"))
	assert.False(t, ValidID(strings.Repeat("a", MaxIDLength+1)))
	assert.True(t, ValidID(strings.Repeat("a", MaxIDLength)))
}

func TestResponseConstructors_TagTypes(t *testing.T) {
	assert.Equal(t, TypeRegistered, NewRegistered("a", nil).Type)
	assert.Equal(t, TypeRendezvousResult, NewRendezvousResult(nil, nil).Type)
	assert.Equal(t, TypeChunkData, NewChunkData("c", nil, SourceCache).Type)
	assert.Equal(t, TypeError, NewErrorFrame("boom").Type)
}

func TestNewRegistered_EmptyRelaysMarshalsAsArray(t *testing.T) {
	out, err := json.Marshal(NewRegistered("alice", nil))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"relays":[]`)
}

func TestErrorFrameFor(t *testing.T) {
	frame := ErrorFrameFor(ErrMissingField("peerId"))
	assert.Equal(t, "Missing required field: peerId", frame.Message)

	frame = ErrorFrameFor(assert.AnError)
	assert.Equal(t, "Internal error", frame.Message)
}
