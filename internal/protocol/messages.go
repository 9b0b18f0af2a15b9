package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentName       string     `json:"agent_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PlayerID        uint64      `json:"player_id"`
	AgentName       string      `json:"agent_name"`
	ResumeToken     string      `json:"resume_token,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz     int   `json:"tick_rate_hz"`
	Seed           int64 `json:"seed"`
	QuantaCapacity int   `json:"quanta_capacity"`
}

// SUBSCRIBE (client -> server)
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tables          []string `json:"tables"`
}

// SUBSCRIBED (server -> client)
type SubscribedMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tables          []string `json:"tables"`
}

// TX (server -> client): one committed transaction's row events, in order.
type TxMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Events          []RowEvent `json:"events"`
}

// CALL (client -> server): reducer invocation.
type CallMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Reducer         string          `json:"reducer"`
	Args            json.RawMessage `json:"args,omitempty"`
}

// CALL_RESULT (server -> client)
type CallResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`

	// Count carries the packet size for extraction acks.
	Count int `json:"count,omitempty"`
}

// Call statuses.
const (
	StatusCommitted = "COMMITTED"
	StatusFailed    = "FAILED"
)

// Reducers the agent invokes.
const (
	ReducerBeginExtraction = "begin_extraction"
	ReducerExtractPacket   = "extract_packet"
	ReducerStopExtraction  = "stop_extraction"
	ReducerUpdatePosition  = "update_player_position"
	ReducerSendChat        = "send_chat_message"
)
