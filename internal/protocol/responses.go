package protocol

import "encoding/json"

// RelayInfo describes one selectable relay peer.
type RelayInfo struct {
	PeerID         string `json:"peerId"`
	PublicKey      string `json:"publicKey,omitempty"`
	MaxConnections int    `json:"maxConnections"`
	ConnectedCount int    `json:"connectedCount"`
}

// Match identifies a live rendezvous counterpart.
type Match struct {
	PeerID  string `json:"peerId"`
	RelayID string `json:"relayId,omitempty"`
}

// DeadDrop is an encrypted payload left by another peer at a shared
// daily point. The coordinator never interprets its content.
type DeadDrop struct {
	PeerID   string          `json:"peerId"`
	DeadDrop json.RawMessage `json:"deadDrop"`
	RelayID  string          `json:"relayId,omitempty"`
}

// Chunk data provenance, reported to requesters.
const (
	SourceCache = "cache"
	SourceRelay = "relay"
)

// Response frames. Constructors fix the type tag.

type Registered struct {
	Type   string      `json:"type"`
	PeerID string      `json:"peerId"`
	Relays []RelayInfo `json:"relays"`
}

func NewRegistered(peerID string, relays []RelayInfo) Registered {
	if relays == nil {
		relays = []RelayInfo{}
	}
	return Registered{Type: TypeRegistered, PeerID: peerID, Relays: relays}
}

type LoadUpdated struct {
	Type string `json:"type"`
}

func NewLoadUpdated() LoadUpdated {
	return LoadUpdated{Type: TypeLoadUpdated}
}

type RendezvousResult struct {
	Type        string     `json:"type"`
	LiveMatches []Match    `json:"liveMatches"`
	DeadDrops   []DeadDrop `json:"deadDrops"`
}

func NewRendezvousResult(liveMatches []Match, deadDrops []DeadDrop) RendezvousResult {
	if liveMatches == nil {
		liveMatches = []Match{}
	}
	if deadDrops == nil {
		deadDrops = []DeadDrop{}
	}
	return RendezvousResult{Type: TypeRendezvousResult, LiveMatches: liveMatches, DeadDrops: deadDrops}
}

type RendezvousMatch struct {
	Type  string `json:"type"`
	Match Match  `json:"match"`
}

func NewRendezvousMatch(match Match) RendezvousMatch {
	return RendezvousMatch{Type: TypeRendezvousMatch, Match: match}
}

type Relays struct {
	Type   string      `json:"type"`
	Relays []RelayInfo `json:"relays"`
}

func NewRelays(relays []RelayInfo) Relays {
	if relays == nil {
		relays = []RelayInfo{}
	}
	return Relays{Type: TypeRelays, Relays: relays}
}

type HeartbeatAck struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewHeartbeatAck(timestampMillis int64) HeartbeatAck {
	return HeartbeatAck{Type: TypeHeartbeatAck, Timestamp: timestampMillis}
}

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

type ChunkAnnounceAck struct {
	Type       string `json:"type"`
	Registered int    `json:"registered"`
}

func NewChunkAnnounceAck(registered int) ChunkAnnounceAck {
	return ChunkAnnounceAck{Type: TypeChunkAnnounceAck, Registered: registered}
}

type ChunkData struct {
	Type    string          `json:"type"`
	ChunkID string          `json:"chunkId"`
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source"`
}

func NewChunkData(chunkID string, payload json.RawMessage, source string) ChunkData {
	return ChunkData{Type: TypeChunkData, ChunkID: chunkID, Payload: payload, Source: source}
}

type ChunkNotFound struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunkId"`
}

func NewChunkNotFound(chunkID string) ChunkNotFound {
	return ChunkNotFound{Type: TypeChunkNotFound, ChunkID: chunkID}
}

type ChunkPull struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunkId"`
}

func NewChunkPull(chunkID string) ChunkPull {
	return ChunkPull{Type: TypeChunkPull, ChunkID: chunkID}
}

type ChunkPushAck struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunkId"`
}

func NewChunkPushAck(chunkID string) ChunkPushAck {
	return ChunkPushAck{Type: TypeChunkPushAck, ChunkID: chunkID}
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

// ErrorFrameFor renders a dispatch error for the wire. Frame errors keep
// their message; anything else is flattened to the generic form so
// internals never leak.
func ErrorFrameFor(err error) ErrorFrame {
	if ferr, ok := err.(*FrameError); ok {
		return NewErrorFrame(ferr.Message)
	}
	return NewErrorFrame("Internal error")
}

// FrameType extracts the type tag of an encoded outbound frame for
// metrics labelling. Unknown shapes report as "unknown".
func FrameType(frame any) string {
	switch f := frame.(type) {
	case Registered:
		return f.Type
	case LoadUpdated:
		return f.Type
	case RendezvousResult:
		return f.Type
	case RendezvousMatch:
		return f.Type
	case Relays:
		return f.Type
	case HeartbeatAck:
		return f.Type
	case Pong:
		return f.Type
	case ChunkAnnounceAck:
		return f.Type
	case ChunkData:
		return f.Type
	case ChunkNotFound:
		return f.Type
	case ChunkPull:
		return f.Type
	case ChunkPushAck:
		return f.Type
	case ErrorFrame:
		return f.Type
	default:
		return "unknown"
	}
}
