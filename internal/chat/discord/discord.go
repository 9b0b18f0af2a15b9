package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantaforge.ai/internal/chat"
)

const (
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase    = "https://discord.com/api/v10"

	// GUILD_MESSAGES | MESSAGE_CONTENT
	gatewayIntents = (1 << 9) | (1 << 15)

	// Discord messages cap at 2000 characters.
	maxMessageLength = 2000
)

// Gateway opcodes we use.
const (
	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opHello     = 10
	opHeartAck  = 11
)

type Config struct {
	GatewayURL string
	APIBase    string
	Token      string // bot token, without the "Bot " prefix
	ChannelID  string // default channel for Broadcast

	// ModeratorRoles grant the moderator flag to message authors.
	ModeratorRoles []string

	Logger *log.Logger
}

// Adapter runs a minimal Discord gateway session: identify, heartbeat on the
// server's cadence, surface MESSAGE_CREATE. Outbound messages go over REST.
type Adapter struct {
	cfg  Config
	log  *log.Logger
	http *http.Client

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	seq       *int64
	selfID    string

	writeMu sync.Mutex

	modRoles map[string]bool

	onMsg  func(chat.ChatMessage)
	onConn func(bool)
}

func New(cfg Config) *Adapter {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	roles := make(map[string]bool, len(cfg.ModeratorRoles))
	for _, r := range cfg.ModeratorRoles {
		roles[r] = true
	}
	return &Adapter{
		cfg:      cfg,
		log:      cfg.Logger,
		http:     &http.Client{Timeout: 10 * time.Second},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		modRoles: roles,
	}
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) MaxMessageLength() int { return maxMessageLength }

func (a *Adapter) OnMessage(fn func(chat.ChatMessage)) { a.onMsg = fn }

func (a *Adapter) OnConnectionChanged(fn func(bool)) { a.onConn = fn }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.startOnce.Do(func() {
		go a.run()
	})
	return nil
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
		a.dropConn()
		<-a.done
	})
	return nil
}

// SendMessage posts text to a channel through the REST API. The gateway is
// receive-only in this session.
func (a *Adapter) SendMessage(channelID, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/channels/%s/messages", a.cfg.APIBase, channelID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+a.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: send to %s: %s: %s", channelID, resp.Status, b)
	}
	return nil
}

func (a *Adapter) Broadcast(text string) error {
	if a.cfg.ChannelID == "" {
		return fmt.Errorf("discord: no broadcast channel configured")
	}
	return a.SendMessage(a.cfg.ChannelID, text)
}

// gatewayPayload is the envelope every gateway frame shares.
type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  *int64          `json:"s"`
	Type string          `json:"t"`
}

type helloData struct {
	HeartbeatIntervalMs int64 `json:"heartbeat_interval"`
}

type messageCreate struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Member struct {
		Nick  string   `json:"nick"`
		Roles []string `json:"roles"`
	} `json:"member"`
	Timestamp time.Time `json:"timestamp"`
}

type readyData struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

func (a *Adapter) run() {
	defer close(a.done)

	backoff := time.Second
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		if err := a.connectAndReadLoop(); err != nil {
			a.setConnected(false)
			a.log.Printf("discord: %v", err)
			select {
			case <-a.stop:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return
	}
}

func (a *Adapter) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := d.Dial(a.cfg.GatewayURL, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	a.mu.Lock()
	a.conn = conn
	a.seq = nil
	a.mu.Unlock()

	heartbeatStop := make(chan struct{})
	defer close(heartbeatStop)

	for {
		select {
		case <-a.stop:
			a.dropConn()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.dropConn()
			return err
		}

		var p gatewayPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			a.log.Printf("discord: bad gateway frame: %v", err)
			continue
		}
		if p.Seq != nil {
			a.mu.Lock()
			a.seq = p.Seq
			a.mu.Unlock()
		}

		switch p.Op {
		case opHello:
			var h helloData
			if err := json.Unmarshal(p.Data, &h); err != nil {
				a.dropConn()
				return err
			}
			go a.heartbeatLoop(time.Duration(h.HeartbeatIntervalMs)*time.Millisecond, heartbeatStop)
			if err := a.identify(); err != nil {
				a.dropConn()
				return err
			}
		case opHeartbeat:
			_ = a.sendHeartbeat()
		case opDispatch:
			a.handleDispatch(p)
		case opHeartAck:
			// fine
		}
	}
}

func (a *Adapter) handleDispatch(p gatewayPayload) {
	switch p.Type {
	case "READY":
		var r readyData
		if err := json.Unmarshal(p.Data, &r); err == nil {
			a.mu.Lock()
			a.selfID = r.User.ID
			a.mu.Unlock()
		}
		a.setConnected(true)
	case "MESSAGE_CREATE":
		var m messageCreate
		if err := json.Unmarshal(p.Data, &m); err != nil {
			a.log.Printf("discord: bad MESSAGE_CREATE: %v", err)
			return
		}
		a.mu.RLock()
		self := a.selfID
		a.mu.RUnlock()
		if m.Author.Bot || m.Author.ID == self {
			return
		}
		if a.onMsg != nil {
			a.onMsg(a.toChatMessage(m))
		}
	}
}

func (a *Adapter) toChatMessage(m messageCreate) chat.ChatMessage {
	display := m.Member.Nick
	if display == "" {
		display = m.Author.Username
	}
	mod := false
	for _, role := range m.Member.Roles {
		if a.modRoles[role] {
			mod = true
			break
		}
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return chat.ChatMessage{
		Platform:    "discord",
		UserID:      m.Author.ID,
		DisplayName: display,
		Text:        m.Content,
		ChannelID:   m.ChannelID,
		IsModerator: mod,
		Timestamp:   ts,
	}
}

func (a *Adapter) identify() error {
	return a.writeJSON(gatewayPayload{
		Op: opIdentify,
		Data: mustJSON(map[string]any{
			"token":   a.cfg.Token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "quantaforge",
				"device":  "quantaforge",
			},
		}),
	})
}

func (a *Adapter) heartbeatLoop(interval time.Duration, stop chan struct{}) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-a.stop:
			return
		case <-t.C:
			if err := a.sendHeartbeat(); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) sendHeartbeat() error {
	a.mu.RLock()
	seq := a.seq
	a.mu.RUnlock()
	return a.writeJSON(gatewayPayload{Op: opHeartbeat, Data: mustJSON(seq)})
}

func (a *Adapter) writeJSON(p gatewayPayload) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("discord: not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(p)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (a *Adapter) dropConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	a.setConnected(false)
}

func (a *Adapter) setConnected(up bool) {
	a.mu.Lock()
	was := a.connected
	a.connected = up
	a.mu.Unlock()
	if was != up && a.onConn != nil {
		a.onConn(up)
	}
}
