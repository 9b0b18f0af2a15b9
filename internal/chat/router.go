package chat

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"quantaforge.ai/internal/agent"
	"quantaforge.ai/internal/protocol"
)

// Controller is the slice of the agent the router drives.
type Controller interface {
	Status() agent.Status
	Position() protocol.Vec3
	InventorySummary() string
	PlayerByName(name string) (protocol.PlayerRow, bool)
	CmdMine() string
	CmdStop() string
	CmdScan() string
	CmdSources() string
	CmdWalk(distance float64) string
	CmdRotate(degrees float64) string
	CmdWalkStop() string
	CmdReset() string
}

// Responder produces the free-text reply for anything that is not a command.
// It never fails; degraded responses are its problem.
type Responder interface {
	Generate(ctx context.Context, username, message string, isInGame bool, playerInfo *protocol.PlayerRow) string
}

type RouterConfig struct {
	// Prefix is the command prefix, e.g. "!qai". Matching is
	// case-insensitive.
	Prefix string

	// PrivilegedUsers supplement the per-platform moderator flag.
	PrivilegedUsers []string

	// GameBroadcastLimit caps the copy sent into the game's own chat.
	GameBroadcastLimit int
}

// Router classifies inbound messages, parses the command grammar, dispatches
// to the agent, or falls through to the responder. One router serves every
// platform; adapters only differ by their capability surface.
type Router struct {
	cfg       RouterConfig
	ctrl      Controller
	responder Responder
	log       *log.Logger

	// broadcast pushes a response copy into the game chat, best-effort.
	broadcast func(text string) error

	privileged map[string]bool
}

func NewRouter(cfg RouterConfig, ctrl Controller, responder Responder, broadcast func(string) error, logger *log.Logger) *Router {
	if cfg.Prefix == "" {
		cfg.Prefix = "!qai"
	}
	if cfg.GameBroadcastLimit <= 0 {
		cfg.GameBroadcastLimit = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	priv := make(map[string]bool, len(cfg.PrivilegedUsers))
	for _, u := range cfg.PrivilegedUsers {
		priv[strings.ToLower(u)] = true
	}
	return &Router{
		cfg:        cfg,
		ctrl:       ctrl,
		responder:  responder,
		log:        logger,
		broadcast:  broadcast,
		privileged: priv,
	}
}

func (r *Router) Prefix() string { return r.cfg.Prefix }

// IsPrivileged derives the privilege level per message: moderator flag OR
// allowlisted name. Never stored.
func (r *Router) IsPrivileged(msg ChatMessage) bool {
	if msg.IsModerator {
		return true
	}
	return r.privileged[strings.ToLower(msg.DisplayName)]
}

// Handle routes one prefixed message and returns the response text, already
// truncated to maxLen. The response is also mirrored into the game chat.
func (r *Router) Handle(ctx context.Context, msg ChatMessage, isPrivileged bool, maxLen int) string {
	body := strings.TrimSpace(msg.Text)
	if HasCommandPrefix(body, r.cfg.Prefix) {
		body = strings.TrimSpace(body[len(r.cfg.Prefix):])
	}

	resp := r.dispatch(ctx, msg, body, isPrivileged)
	if resp == "" {
		return ""
	}
	// In-world messages get their reply through their own adapter; mirroring
	// those would double-post.
	if msg.Platform != "game" {
		r.mirrorToGame(resp)
	}
	return Truncate(resp, maxLen)
}

func (r *Router) dispatch(ctx context.Context, msg ChatMessage, body string, isPrivileged bool) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return r.helpText(isPrivileged)
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	// Public commands.
	switch verb {
	case "help":
		return r.helpText(isPrivileged)
	case "inventory":
		return r.ctrl.InventorySummary()
	case "position":
		pos := r.ctrl.Position()
		return fmt.Sprintf("Position: (%.1f, %.1f, %.1f)", pos.X, pos.Y, pos.Z)
	}

	// Privileged commands.
	if handler, ok := r.privilegedCommand(verb); ok {
		if !isPrivileged {
			return "That command requires moderator privileges."
		}
		return handler(args)
	}

	// Everything else is conversation. Original casing goes to the AI.
	player, inGame := r.ctrl.PlayerByName(msg.DisplayName)
	var info *protocol.PlayerRow
	if inGame {
		info = &player
	}
	return r.responder.Generate(ctx, msg.DisplayName, body, inGame, info)
}

func (r *Router) privilegedCommand(verb string) (func(args []string) string, bool) {
	switch verb {
	case "status":
		return func([]string) string { return r.statusText() }, true
	case "sources":
		return func([]string) string { return r.ctrl.CmdSources() }, true
	case "mine":
		return func([]string) string { return r.ctrl.CmdMine() }, true
	case "stop":
		return func([]string) string { return r.ctrl.CmdStop() }, true
	case "scan":
		return func([]string) string { return r.ctrl.CmdScan() }, true
	case "walk":
		return func(args []string) string {
			d, ok := parseNumber(args)
			if !ok {
				return "Usage: " + r.cfg.Prefix + " walk <distance>"
			}
			return r.ctrl.CmdWalk(d)
		}, true
	case "rotate":
		return func(args []string) string {
			d, ok := parseNumber(args)
			if !ok {
				return "Usage: " + r.cfg.Prefix + " rotate <degrees>"
			}
			return r.ctrl.CmdRotate(d)
		}, true
	case "walkstop":
		return func([]string) string { return r.ctrl.CmdWalkStop() }, true
	case "reset":
		return func([]string) string { return r.ctrl.CmdReset() }, true
	}
	return nil, false
}

func parseNumber(args []string) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (r *Router) helpText(isPrivileged bool) string {
	s := "Commands: " + r.cfg.Prefix + " help | inventory | position"
	if isPrivileged {
		s += " | status | sources | mine | stop | scan | walk <distance> | rotate <degrees> | walkstop | reset"
	}
	s += ". Anything else, just talk to me."
	return s
}

func (r *Router) statusText() string {
	st := r.ctrl.Status()
	s := fmt.Sprintf("State: %s (was %s) | %s | %d source(s) in range | up %.0fs",
		st.State, st.PreviousState, st.Inventory, st.SourcesInRange, st.UptimeSeconds)
	if st.Mining != nil {
		s += fmt.Sprintf(" | mining #%d +%d", st.Mining.SourceID, st.Mining.Extracted)
	}
	if !st.Connected {
		s += " | world sync DOWN"
	}
	return s
}

// mirrorToGame pushes the response into the game's own chat so the persona is
// one voice across mediums. Best-effort; failures are logged, never returned.
func (r *Router) mirrorToGame(resp string) {
	if r.broadcast == nil {
		return
	}
	text := Truncate(resp, r.cfg.GameBroadcastLimit)
	go func() {
		if err := r.broadcast(text); err != nil {
			r.log.Printf("game chat broadcast: %v", err)
		}
	}()
}
