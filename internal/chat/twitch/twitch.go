package twitch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantaforge.ai/internal/chat"
)

const (
	DefaultServer = "wss://irc-ws.chat.twitch.tv:443"

	// Twitch chat messages cap at 500 characters.
	maxMessageLength = 500
)

type Config struct {
	Server  string
	Nick    string
	Token   string // "oauth:..." chat token
	Channel string // without the leading '#'

	Logger *log.Logger
}

// Adapter speaks Twitch chat: IRC framed over a websocket, with the tags
// capability so moderator/subscriber badges ride along on PRIVMSG.
type Adapter struct {
	cfg Config
	log *log.Logger

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex

	onMsg  func(chat.ChatMessage)
	onConn func(bool)
}

func New(cfg Config) *Adapter {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Adapter{
		cfg:  cfg,
		log:  cfg.Logger,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return "twitch" }

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

// SendMessage posts text to a channel ("#name" or bare name).
func (a *Adapter) SendMessage(channelID, text string) error {
	if !strings.HasPrefix(channelID, "#") {
		channelID = "#" + channelID
	}
	return a.writeLine(fmt.Sprintf("PRIVMSG %s :%s", channelID, text))
}

func (a *Adapter) Broadcast(text string) error {
	return a.SendMessage(a.cfg.Channel, text)
}

func (a *Adapter) writeLine(line string) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("twitch: not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
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
			a.log.Printf("twitch: %v", err)
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
	conn, resp, err := d.Dial(a.cfg.Server, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS " + a.cfg.Token,
		"NICK " + a.cfg.Nick,
		"JOIN #" + a.cfg.Channel,
	} {
		if err := a.writeLine(line); err != nil {
			a.dropConn()
			return err
		}
	}
	a.setConnected(true)

	for {
		select {
		case <-a.stop:
			a.dropConn()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(6 * time.Minute))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.dropConn()
			return err
		}
		for _, raw := range strings.Split(string(payload), "\r\n") {
			if raw == "" {
				continue
			}
			a.handleLine(raw)
		}
	}
}

func (a *Adapter) handleLine(raw string) {
	m := parseLine(raw)
	switch m.Command {
	case "PING":
		_ = a.writeLine("PONG :" + m.Trailing)
	case "PRIVMSG":
		if a.onMsg == nil {
			return
		}
		a.onMsg(a.toChatMessage(m))
	}
}

func (a *Adapter) toChatMessage(m ircMessage) chat.ChatMessage {
	channel := ""
	if len(m.Params) > 0 {
		channel = m.Params[0]
	}
	display := m.Tags["display-name"]
	if display == "" {
		display = m.Nick()
	}
	return chat.ChatMessage{
		Platform:     "twitch",
		UserID:       m.Tags["user-id"],
		DisplayName:  display,
		Text:         m.Trailing,
		ChannelID:    channel,
		ChannelName:  strings.TrimPrefix(channel, "#"),
		IsModerator:  m.Tags["mod"] == "1" || strings.Contains(m.Tags["badges"], "broadcaster/1"),
		IsSubscriber: m.Tags["subscriber"] == "1",
		Timestamp:    time.Now(),
	}
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
