package protocol

import "encoding/json"

const Version = "1.2"

// Message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypeSubscribe  = "SUBSCRIBE"
	TypeSubscribed = "SUBSCRIBED"
	TypeTx         = "TX"
	TypeCall       = "CALL"
	TypeCallResult = "CALL_RESULT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	return v == Version || v == ""
}
