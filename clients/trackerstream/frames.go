package trackerstream

import (
	"encoding/json"
	"time"
)

// Channel labels for the two physical sockets.
const (
	ChannelMain        = "main"
	ChannelTransaction = "transaction"
)

// Reserved room names the router emits on in addition to literal rooms.
const (
	// AllTransactions receives every trade from any wallet: room, so a
	// consumer can observe all tracked wallets without enumerating them.
	AllTransactions = "all-transactions"

	// RoomSubscribed receives the room name (as a JSON string) whenever the
	// server acknowledges a subscription.
	RoomSubscribed = "room-subscribed"
)

// SocketState mirrors the WebSocket ready-state lifecycle.
type SocketState string

const (
	StateConnecting SocketState = "connecting"
	StateOpen       SocketState = "open"
	StateClosing    SocketState = "closing"
	StateClosed     SocketState = "closed"
)

// Direction tags frames passed to a FrameObserver.
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// FrameObserver receives every frame sent or received on either socket.
// Intended for debug tooling; must not block.
type FrameObserver func(dir Direction, channel string, payload []byte)

// controlFrame is an outbound join/leave command.
type controlFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// heartbeatFrame is an outbound ping/pong.
type heartbeatFrame struct {
	Type      string `json:"type"`
	Client    string `json:"client"`
	Timestamp string `json:"timestamp"`
}

func newHeartbeat(kind, clientID string) heartbeatFrame {
	return heartbeatFrame{
		Type:      kind,
		Client:    clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// inboundFrame is the lenient shape every received frame is parsed into.
// The upstream protocol is not formally specified, so unknown shapes are
// logged and dropped rather than treated as errors.
type inboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

// dataRoom digs the room name out of the data object for system frames that
// carry it nested instead of at the top level.
func (f *inboundFrame) dataRoom() string {
	if f.Room != "" {
		return f.Room
	}
	var nested struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(f.Data, &nested); err != nil {
		return ""
	}
	return nested.Room
}

// tradeMeta is the subset of a data payload the router inspects: the
// transaction id for dedup and the token for price fan-out. The payload
// itself stays opaque to the router.
type tradeMeta struct {
	Tx    string `json:"tx"`
	Token string `json:"token"`
}
