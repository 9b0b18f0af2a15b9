package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
	Chat   ChatConfig   `yaml:"chat"`
	AI     AIConfig     `yaml:"ai"`
	Data   DataConfig   `yaml:"data"`
	Status StatusConfig `yaml:"status"`
}

type ServerConfig struct {
	URL         string `yaml:"url"`
	ResumeToken string `yaml:"resume_token"`
}

type AgentConfig struct {
	Name          string  `yaml:"name"`
	TickRateHz    int     `yaml:"tick_rate_hz"`
	Capacity      int     `yaml:"capacity"`
	SensingRadius float64 `yaml:"sensing_radius"`

	ScanEveryTicks           int     `yaml:"scan_every_ticks"`
	ExtractEveryTicks        int     `yaml:"extract_every_ticks"`
	MoveSpeed                float64 `yaml:"move_speed"`
	PositionUpdateEveryTicks int     `yaml:"position_update_every_ticks"`
	FullEdgeOnly             bool    `yaml:"full_edge_only"`

	Behavior BehaviorConfig `yaml:"behavior"`
}

type BehaviorConfig struct {
	AutoMine         bool     `yaml:"auto_mine"`
	WanderWhenIdle   bool     `yaml:"wander_when_idle"`
	WanderInterval   Duration `yaml:"wander_interval"`
	WanderDistance   float64  `yaml:"wander_distance"`
	IdleWanderChance float64  `yaml:"idle_wander_chance"`
	FullDwell        Duration `yaml:"full_dwell"`
}

// Duration decodes YAML scalars like "30s" or "2m" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ChatConfig struct {
	Prefix          string   `yaml:"prefix"`
	PrivilegedUsers []string `yaml:"privileged_users"`

	Twitch    TwitchConfig    `yaml:"twitch"`
	Discord   DiscordConfig   `yaml:"discord"`
	Proximity ProximityConfig `yaml:"proximity"`
}

type TwitchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
	Nick    string `yaml:"nick"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

type DiscordConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Token          string   `yaml:"token"`
	ChannelID      string   `yaml:"channel_id"`
	ModeratorRoles []string `yaml:"moderator_roles"`
}

type ProximityConfig struct {
	Enabled bool    `yaml:"enabled"`
	Range   float64 `yaml:"range"`
}

type AIConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoint  string   `yaml:"endpoint"`
	Model     string   `yaml:"model"`
	APIKey    string   `yaml:"api_key"`
	Timeout   Duration `yaml:"timeout"`
	MaxTokens int      `yaml:"max_tokens"`
	Persona   string   `yaml:"persona"`
}

type DataConfig struct {
	// Dir is the base directory for telemetry segments.
	Dir string `yaml:"dir"`
	// TranscriptPath is the sqlite file for the chat transcript.
	TranscriptPath string `yaml:"transcript_path"`
}

type StatusConfig struct {
	// Addr serves GET /status when non-empty, e.g. "127.0.0.1:8990".
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:          "quantaforge",
			TickRateHz:    60,
			Capacity:      300,
			SensingRadius: 50,
			Behavior: BehaviorConfig{
				AutoMine:         true,
				WanderWhenIdle:   true,
				WanderInterval:   Duration(30 * time.Second),
				WanderDistance:   20,
				IdleWanderChance: 0.3,
				FullDwell:        Duration(10 * time.Second),
			},
		},
		Chat: ChatConfig{
			Prefix:    "!qai",
			Proximity: ProximityConfig{Enabled: true, Range: 15},
		},
		AI: AIConfig{
			Timeout: Duration(10 * time.Second),
		},
		Data: DataConfig{
			Dir:            "data",
			TranscriptPath: "data/transcript.db",
		},
	}
}

// Load reads path over the defaults. Missing keys keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.TickRateHz <= 0 {
		return fmt.Errorf("agent.tick_rate_hz must be positive")
	}
	if c.Agent.Capacity <= 0 {
		return fmt.Errorf("agent.capacity must be positive")
	}
	if c.Agent.SensingRadius <= 0 {
		return fmt.Errorf("agent.sensing_radius must be positive")
	}
	if ch := c.Agent.Behavior.IdleWanderChance; ch < 0 || ch > 1 {
		return fmt.Errorf("agent.behavior.idle_wander_chance must be in [0,1]")
	}
	if c.Chat.Twitch.Enabled && (c.Chat.Twitch.Nick == "" || c.Chat.Twitch.Token == "" || c.Chat.Twitch.Channel == "") {
		return fmt.Errorf("chat.twitch needs nick, token and channel when enabled")
	}
	if c.Chat.Discord.Enabled && c.Chat.Discord.Token == "" {
		return fmt.Errorf("chat.discord needs token when enabled")
	}
	if c.Chat.Proximity.Enabled && c.Chat.Proximity.Range <= 0 {
		return fmt.Errorf("chat.proximity.range must be positive")
	}
	if c.AI.Enabled && c.AI.Endpoint == "" {
		return fmt.Errorf("ai.endpoint is required when ai is enabled")
	}
	return nil
}
