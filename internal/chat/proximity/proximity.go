package proximity

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"quantaforge.ai/internal/agent"
	"quantaforge.ai/internal/chat"
	"quantaforge.ai/internal/protocol"
)

const (
	// DefaultRange is the hearing radius, world units, Euclidean.
	DefaultRange = 15.0

	// In-world chat lines stay short.
	maxMessageLength = 256

	channelName = "proximity"
)

type Config struct {
	// Range overrides the hearing radius when > 0.
	Range float64

	Logger *log.Logger
}

// Adapter surfaces in-world chat as a platform. Inbound rows arrive through
// the agent's tick loop via HandleRow; the socket itself belongs to the world
// sync client, so Connect and Close are no-ops and IsConnected mirrors what
// the sync layer reports through SetConnected.
type Adapter struct {
	rng   float64
	log   *log.Logger
	calls agent.ReducerCaller

	// selfID resolves the agent's own player id at delivery time, not at
	// construction, since the id is only known after the first welcome.
	selfID func() uint64

	mu        sync.RWMutex
	connected bool

	onMsg  func(chat.ChatMessage)
	onConn func(bool)
}

func New(cfg Config, calls agent.ReducerCaller, selfID func() uint64) *Adapter {
	if cfg.Range <= 0 {
		cfg.Range = DefaultRange
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Adapter{rng: cfg.Range, log: cfg.Logger, calls: calls, selfID: selfID}
}

func (a *Adapter) Name() string { return "proximity" }

func (a *Adapter) MaxMessageLength() int { return maxMessageLength }

func (a *Adapter) OnMessage(fn func(chat.ChatMessage)) { a.onMsg = fn }

func (a *Adapter) OnConnectionChanged(fn func(bool)) { a.onConn = fn }

func (a *Adapter) Connect(ctx context.Context) error { return nil }

func (a *Adapter) Close() error { return nil }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// SetConnected relays the world sync connection state. Wire it to the sync
// client's connection callback.
func (a *Adapter) SetConnected(up bool) {
	a.mu.Lock()
	was := a.connected
	a.connected = up
	a.mu.Unlock()
	if was != up && a.onConn != nil {
		a.onConn(up)
	}
}

// HandleRow is the agent.ChatRowHandler. It runs inside the tick loop, so it
// only filters and forwards; real work happens downstream on its own
// goroutine.
func (a *Adapter) HandleRow(row protocol.ChatRow, senderPos protocol.Vec3, senderKnown bool, selfPos protocol.Vec3) {
	if a.selfID != nil && row.SenderID == a.selfID() {
		return
	}
	// A sender with no known player row has no position to gate on.
	if !senderKnown {
		return
	}
	if senderPos.DistanceTo(selfPos) > a.rng {
		return
	}
	if a.onMsg == nil {
		return
	}
	a.onMsg(chat.ChatMessage{
		Platform:    "game",
		UserID:      strconv.FormatUint(row.SenderID, 10),
		DisplayName: row.SenderName,
		Text:        row.Text,
		ChannelID:   channelName,
		ChannelName: channelName,
		Timestamp:   time.UnixMilli(row.SentAtMs),
	})
}

// SendMessage speaks into world chat. The channel id is ignored; there is
// only one world.
func (a *Adapter) SendMessage(channelID, text string) error {
	return a.calls.Call(protocol.ReducerSendChat, chatArgs{Text: text})
}

func (a *Adapter) Broadcast(text string) error {
	return a.SendMessage(channelName, text)
}

type chatArgs struct {
	Text string `json:"text"`
}
