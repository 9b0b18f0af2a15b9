package chat

import (
	"context"
	"log"
	"sync"
)

// Recorder persists handled messages and their responses. Best-effort.
type Recorder interface {
	Record(msg ChatMessage, isPrivileged bool, response string)
}

// Bridge fans every attached platform into the one router. Each inbound
// message is handled on its own goroutine: a slow AI reply suspends that
// message only, never the platform reader or the tick loop.
type Bridge struct {
	router   *Router
	recorder Recorder
	log      *log.Logger

	mu       sync.Mutex
	adapters []Adapter
}

func NewBridge(router *Router, recorder Recorder, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{router: router, recorder: recorder, log: logger}
}

// Attach registers an adapter's message stream with the router. Messages
// without the command prefix are dropped here, before routing.
func (b *Bridge) Attach(a Adapter) {
	b.mu.Lock()
	b.adapters = append(b.adapters, a)
	b.mu.Unlock()

	a.OnMessage(func(msg ChatMessage) {
		if !HasCommandPrefix(msg.Text, b.router.Prefix()) {
			return
		}
		go b.handle(a, msg)
	})
	a.OnConnectionChanged(func(up bool) {
		b.log.Printf("%s connected=%v", a.Name(), up)
	})
}

func (b *Bridge) handle(a Adapter, msg ChatMessage) {
	priv := b.router.IsPrivileged(msg)
	resp := b.router.Handle(context.Background(), msg, priv, a.MaxMessageLength())
	if b.recorder != nil {
		b.recorder.Record(msg, priv, resp)
	}
	if resp == "" {
		return
	}
	if err := a.SendMessage(msg.ChannelID, resp); err != nil {
		b.log.Printf("%s send: %v", a.Name(), err)
	}
}

// ConnectAll brings every attached adapter up; a platform that fails to
// connect is logged and skipped, the rest keep working.
func (b *Bridge) ConnectAll(ctx context.Context) {
	b.mu.Lock()
	adapters := append([]Adapter(nil), b.adapters...)
	b.mu.Unlock()
	for _, a := range adapters {
		if err := a.Connect(ctx); err != nil {
			b.log.Printf("%s connect: %v", a.Name(), err)
		}
	}
}

func (b *Bridge) CloseAll() {
	b.mu.Lock()
	adapters := append([]Adapter(nil), b.adapters...)
	b.mu.Unlock()
	for _, a := range adapters {
		if err := a.Close(); err != nil {
			b.log.Printf("%s close: %v", a.Name(), err)
		}
	}
}
