package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := write(t, `
server:
  url: ws://localhost:7777/ws
agent:
  name: forge-1
  capacity: 500
  behavior:
    wander_interval: 45s
    idle_wander_chance: 0.5
chat:
  prefix: "!forge"
  privileged_users: [Operator]
  twitch:
    enabled: true
    nick: forgebot
    token: oauth:xyz
    channel: forge
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "ws://localhost:7777/ws" {
		t.Fatalf("url=%q", cfg.Server.URL)
	}
	if cfg.Agent.Name != "forge-1" || cfg.Agent.Capacity != 500 {
		t.Fatalf("agent=%+v", cfg.Agent)
	}
	if cfg.Agent.Behavior.WanderInterval.Std() != 45*time.Second {
		t.Fatalf("wander_interval=%v", cfg.Agent.Behavior.WanderInterval)
	}
	if cfg.Agent.Behavior.IdleWanderChance != 0.5 {
		t.Fatalf("idle_wander_chance=%v", cfg.Agent.Behavior.IdleWanderChance)
	}
	// Untouched keys keep their defaults.
	if cfg.Agent.TickRateHz != 60 || cfg.Agent.SensingRadius != 50 {
		t.Fatalf("defaults lost: %+v", cfg.Agent)
	}
	if cfg.Agent.Behavior.FullDwell.Std() != 10*time.Second {
		t.Fatalf("full_dwell default lost: %v", cfg.Agent.Behavior.FullDwell)
	}
	if cfg.Chat.Prefix != "!forge" || len(cfg.Chat.PrivilegedUsers) != 1 {
		t.Fatalf("chat=%+v", cfg.Chat)
	}
	if !cfg.Chat.Proximity.Enabled || cfg.Chat.Proximity.Range != 15 {
		t.Fatalf("proximity default lost: %+v", cfg.Chat.Proximity)
	}
	if cfg.Chat.Twitch.Channel != "forge" {
		t.Fatalf("twitch=%+v", cfg.Chat.Twitch)
	}
}

func TestLoad_MissingServerURL(t *testing.T) {
	path := write(t, "agent:\n  name: forge-1\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "server.url") {
		t.Fatalf("err=%v", err)
	}
}

func TestLoad_TwitchEnabledNeedsCredentials(t *testing.T) {
	path := write(t, `
server:
  url: ws://localhost:7777/ws
chat:
  twitch:
    enabled: true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "chat.twitch") {
		t.Fatalf("err=%v", err)
	}
}

func TestLoad_AIEnabledNeedsEndpoint(t *testing.T) {
	path := write(t, `
server:
  url: ws://localhost:7777/ws
ai:
  enabled: true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ai.endpoint") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidate_WanderChanceRange(t *testing.T) {
	cfg := Default()
	cfg.Server.URL = "ws://x"
	cfg.Agent.Behavior.IdleWanderChance = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected range error")
	}
}
