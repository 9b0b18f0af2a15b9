package chat

import (
	"context"
	"strings"
	"time"
)

// ChatMessage is the platform-normalized inbound message shape. Adapters
// produce it; nothing downstream sees platform-native payloads.
type ChatMessage struct {
	Platform     string
	UserID       string
	DisplayName  string
	Text         string
	ChannelID    string
	ChannelName  string
	IsModerator  bool
	IsSubscriber bool
	Timestamp    time.Time
}

// Adapter is one chat platform connection. Implementations own their socket
// and deliver messages from their own read goroutine.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	SendMessage(channelID, text string) error
	Broadcast(text string) error
	IsConnected() bool
	MaxMessageLength() int
	OnMessage(func(ChatMessage))
	OnConnectionChanged(func(bool))
}

// Truncate caps s to max runes, replacing the tail with an ellipsis when it
// does not fit.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// HasCommandPrefix reports whether text starts with the command prefix,
// case-insensitively. Adapters drop anything that does not.
func HasCommandPrefix(text, prefix string) bool {
	t := strings.TrimSpace(text)
	if len(t) < len(prefix) {
		return false
	}
	return strings.EqualFold(t[:len(prefix)], prefix)
}
