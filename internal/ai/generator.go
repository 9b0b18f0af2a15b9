package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"quantaforge.ai/internal/agent"
	"quantaforge.ai/internal/protocol"
)

const defaultPersona = "You are QuantaForge, a friendly mining agent living inside a shared voxel world. " +
	"You extract quanta from orbs, sort them by frequency band, and chat with people on Twitch, Discord and in-world. " +
	"Answer in one or two short sentences, stay in character, and never mention being an AI model."

type Config struct {
	Enabled  bool
	Endpoint string // OpenAI-compatible chat completions URL
	Model    string
	APIKey   string
	Timeout  time.Duration
	// MaxTokens caps the completion length; 0 means the backend default.
	MaxTokens int
	Persona   string

	Logger *log.Logger
}

// Backend produces one completion for a system/user prompt pair.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator turns free-text chat into replies. When the backend is disabled,
// unreachable or slow it degrades to fixed templates, so a reply always comes
// back and the router never blocks on upstream weather.
type Generator struct {
	cfg     Config
	log     *log.Logger
	backend Backend

	// status snapshots the agent for prompt context.
	status func() agent.Status
}

func New(cfg Config, status func() agent.Status) *Generator {
	g := newWithBackend(cfg, status, nil)
	if cfg.Enabled && cfg.Endpoint != "" {
		g.backend = &openAIBackend{
			endpoint: cfg.Endpoint,
			model:    cfg.Model,
			apiKey:   cfg.APIKey,
			maxTok:   cfg.MaxTokens,
			client:   &http.Client{Timeout: cfg.Timeout},
		}
	}
	return g
}

func newWithBackend(cfg Config, status func() agent.Status, backend Backend) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Generator{cfg: cfg, log: cfg.Logger, backend: backend, status: status}
}

// Generate implements the router's responder contract. It never fails: on any
// backend trouble the caller gets the deterministic fallback instead.
func (g *Generator) Generate(ctx context.Context, username, message string, isInGame bool, playerInfo *protocol.PlayerRow) string {
	if g.backend == nil {
		return g.fallback(username, isInGame, playerInfo)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	reply, err := g.backend.Complete(ctx, g.systemPrompt(), g.userPrompt(username, message, isInGame, playerInfo))
	if err != nil || reply == "" {
		if err != nil {
			g.log.Printf("ai: completion failed, using fallback: %v", err)
		}
		return g.fallback(username, isInGame, playerInfo)
	}
	return reply
}

func (g *Generator) systemPrompt() string {
	prompt := g.cfg.Persona
	if g.status != nil {
		if snap, err := json.Marshal(g.status()); err == nil {
			prompt += "\n\nYour current state as JSON:\n" + string(snap)
		}
	}
	return prompt
}

func (g *Generator) userPrompt(username, message string, isInGame bool, playerInfo *protocol.PlayerRow) string {
	where := "from outside the world"
	if isInGame && playerInfo != nil {
		where = fmt.Sprintf("in the world at (%.1f, %.1f, %.1f)", playerInfo.Position.X, playerInfo.Position.Y, playerInfo.Position.Z)
	}
	return fmt.Sprintf("%s (%s) says: %s", username, where, message)
}

// fallback is the scripted reply used whenever no completion is available.
// Stable wording on purpose; tests and stream overlays key off it.
func (g *Generator) fallback(username string, isInGame bool, playerInfo *protocol.PlayerRow) string {
	if isInGame && playerInfo != nil {
		return fmt.Sprintf("Hey %s! I can see you at (%.0f, %.0f, %.0f). I'm a bit deep in the quanta right now, try a !qai command.",
			username, playerInfo.Position.X, playerInfo.Position.Y, playerInfo.Position.Z)
	}
	return fmt.Sprintf("Hey %s! I can't see you in the world right now, but I'm out here mining quanta. Try a !qai command.", username)
}

// openAIBackend speaks the OpenAI-compatible chat completions shape, which
// local inference servers also expose.
type openAIBackend struct {
	endpoint string
	model    string
	apiKey   string
	maxTok   int
	client   *http.Client
}

type completionRequest struct {
	Model     string              `json:"model"`
	Messages  []completionMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

func (b *openAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model: b.model,
		Messages: []completionMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: b.maxTok,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ai: %s: %s", resp.Status, snippet)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai: empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
