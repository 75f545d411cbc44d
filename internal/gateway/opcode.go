// Package gateway maintains the event WebSocket of every configured bot
// identity: handshake, heartbeat, sequence tracking and auto-reconnect.
package gateway

import "encoding/json"

// Opcode is the op field of a gateway frame.
type Opcode int

const (
	OpDispatch           Opcode = 0
	OpHeartbeat          Opcode = 1
	OpIdentify           Opcode = 2
	OpResume             Opcode = 6
	OpReconnect          Opcode = 7
	OpInvalidSession     Opcode = 9
	OpHello              Opcode = 10
	OpHeartbeatACK       Opcode = 11
	OpHTTPCallbackACK    Opcode = 12
	OpCallbackValidation Opcode = 13
)

// Dispatch types with lifecycle meaning to the session.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Frame is one gateway message.
type Frame struct {
	ID string          `json:"id,omitempty"`
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Event is a decoded Dispatch frame handed to the EventSink.
type Event struct {
	BotID string
	Type  string
	Seq   int64
	ID    string
	Data  json.RawMessage
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    Intent            `json:"intents"`
	Shard      [2]int            `json:"shard"`
	Properties map[string]string `json:"properties"`
}

type readyData struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type outFrame struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}
