package worldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"quantaforge.ai/internal/protocol"
)

// State is the connection lifecycle of the sync client. The client walks
// Disconnected -> Connecting -> Connected -> Subscribing -> Subscribed and
// drops to Errored on any failure before retrying with backoff.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateSubscribed
	StateErrored
)

var stateNames = map[State]string{
	StateDisconnected: "DISCONNECTED",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateSubscribing:  "SUBSCRIBING",
	StateSubscribed:   "SUBSCRIBED",
	StateErrored:      "ERRORED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

type Config struct {
	URL         string
	AgentName   string
	ResumeToken string

	// Tables to subscribe to. Defaults to the four agent tables.
	Tables []string

	Logger *log.Logger
}

// Client maintains one websocket to the replicated DB: it mirrors the change
// feed out through OnRowEvent and issues reducer calls in.
type Client struct {
	cfg Config
	log *log.Logger

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu          sync.RWMutex
	state       State
	lastErr     string
	conn        *websocket.Conn
	playerID    uint64
	resumeToken string
	pending     map[string]chan protocol.CallResultMsg

	writeMu sync.Mutex

	onRow  func(protocol.RowEvent)
	onConn func(connected bool)
}

func NewClient(cfg Config) *Client {
	if len(cfg.Tables) == 0 {
		cfg.Tables = []string{
			protocol.TablePlayer,
			protocol.TableSource,
			protocol.TableStorage,
			protocol.TableChat,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Client{
		cfg:         cfg,
		log:         cfg.Logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		state:       StateDisconnected,
		resumeToken: cfg.ResumeToken,
		pending:     map[string]chan protocol.CallResultMsg{},
	}
}

// OnRowEvent registers the change-feed sink. Must be set before Start; events
// are delivered from the read goroutine in commit order.
func (c *Client) OnRowEvent(fn func(protocol.RowEvent)) { c.onRow = fn }

// OnConnectionChanged fires with true when the client reaches Subscribed and
// with false when it leaves it.
func (c *Client) OnConnectionChanged(fn func(bool)) { c.onConn = fn }

func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.disconnect(StateDisconnected, "")
		<-c.done
	})
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether the feed is live (handshake and subscription done).
func (c *Client) Connected() bool { return c.State() == StateSubscribed }

func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// PlayerID is the agent's own identity from WELCOME; zero before the first
// successful handshake.
func (c *Client) PlayerID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// Call issues a fire-and-forget reducer call. The result, if any, is dropped.
func (c *Client) Call(reducer string, args any) error {
	_, err := c.send(reducer, args)
	return err
}

// CallAwait issues a reducer call and waits for its CALL_RESULT. Pending calls
// fail when the connection drops or ctx expires.
func (c *Client) CallAwait(ctx context.Context, reducer string, args any) (protocol.CallResultMsg, error) {
	ch := make(chan protocol.CallResultMsg, 1)
	id, err := c.sendPending(reducer, args, ch)
	if err != nil {
		return protocol.CallResultMsg{}, err
	}
	select {
	case <-ctx.Done():
		c.dropPending(id)
		return protocol.CallResultMsg{}, ctx.Err()
	case <-c.stop:
		c.dropPending(id)
		return protocol.CallResultMsg{}, fmt.Errorf("client closed")
	case res, ok := <-ch:
		if !ok {
			return protocol.CallResultMsg{}, fmt.Errorf("disconnected before result")
		}
		return res, nil
	}
}

func (c *Client) send(reducer string, args any) (string, error) {
	return c.sendPending(reducer, args, nil)
}

func (c *Client) sendPending(reducer string, args any, ch chan protocol.CallResultMsg) (string, error) {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("marshal args: %w", err)
		}
		raw = b
	}
	id := ulid.Make().String()
	msg := protocol.CallMsg{
		Type:            protocol.TypeCall,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Reducer:         reducer,
		Args:            raw,
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("not connected")
	}
	if ch != nil {
		c.pending[id] = ch
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		c.dropPending(id)
		return "", err
	}
	return id, nil
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) run() {
	defer close(c.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.connectAndReadLoop(); err != nil {
			// Close tears the socket down under the reader; that read error
			// is a clean shutdown, not a failure to record.
			select {
			case <-c.stop:
				return
			default:
			}
			c.disconnect(StateErrored, err.Error())
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		// Clean exit.
		return
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func (c *Client) connectAndReadLoop() error {
	c.setState(StateConnecting, "")

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       c.cfg.AgentName,
	}
	c.mu.RLock()
	rt := strings.TrimSpace(c.resumeToken)
	c.mu.RUnlock()
	if rt != "" {
		hello.Auth = &protocol.HelloAuth{Token: rt}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.lastErr = ""
	c.mu.Unlock()

	for {
		select {
		case <-c.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		if err := c.handleMessage(msg); err != nil {
			_ = conn.Close()
			return err
		}
	}
}

// handleMessage processes one raw server message. Split out of the read loop
// so the dispatch paths are testable without a socket.
func (c *Client) handleMessage(msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil // tolerate unknown garbage, matching a lenient feed
	}
	if !protocol.IsSupportedVersion(base.ProtocolVersion) {
		return nil
	}

	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil
		}
		c.mu.Lock()
		c.playerID = w.PlayerID
		if w.ResumeToken != "" {
			c.resumeToken = w.ResumeToken
		}
		c.mu.Unlock()
		c.setState(StateConnected, "")
		c.log.Printf("WELCOME player_id=%d tick_rate=%d", w.PlayerID, w.WorldParams.TickRateHz)
		return c.subscribe()

	case protocol.TypeSubscribed:
		c.setState(StateSubscribed, "")
		return nil

	case protocol.TypeTx:
		var tx protocol.TxMsg
		if err := json.Unmarshal(msg, &tx); err != nil {
			return nil
		}
		if c.onRow != nil {
			for _, ev := range tx.Events {
				c.onRow(ev)
			}
		}
		return nil

	case protocol.TypeCallResult:
		var res protocol.CallResultMsg
		if err := json.Unmarshal(msg, &res); err != nil {
			return nil
		}
		c.mu.Lock()
		ch := c.pending[res.ID]
		delete(c.pending, res.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- res
		}
		return nil
	}
	return nil
}

func (c *Client) subscribe() error {
	c.setState(StateSubscribing, "")
	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Tables:          c.cfg.Tables,
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(sub)
}

// disconnect tears the socket down, fails pending calls and records the state.
func (c *Client) disconnect(to State, errMsg string) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(to, errMsg)
}

func (c *Client) setState(to State, errMsg string) {
	c.mu.Lock()
	from := c.state
	c.state = to
	if errMsg != "" {
		c.lastErr = errMsg
	}
	c.mu.Unlock()
	if from == to {
		return
	}
	if c.onConn != nil {
		if to == StateSubscribed {
			c.onConn(true)
		} else if from == StateSubscribed {
			c.onConn(false)
		}
	}
}
