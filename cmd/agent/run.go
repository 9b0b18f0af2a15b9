package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quantaforge.ai/internal/agent"
	"quantaforge.ai/internal/ai"
	"quantaforge.ai/internal/chat"
	"quantaforge.ai/internal/chat/discord"
	"quantaforge.ai/internal/chat/proximity"
	"quantaforge.ai/internal/chat/twitch"
	"quantaforge.ai/internal/config"
	"quantaforge.ai/internal/telemetry"
	"quantaforge.ai/internal/transcript"
	"quantaforge.ai/internal/worldsync"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the world and run the agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/agent.yaml", "Path to the agent config file")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	events := telemetry.NewEventLogger(cfg.Data.Dir)
	defer events.Close()

	world := worldsync.NewClient(worldsync.Config{
		URL:         cfg.Server.URL,
		AgentName:   cfg.Agent.Name,
		ResumeToken: cfg.Server.ResumeToken,
		Logger:      logger,
	})

	ag := agent.New(agent.Config{
		TickRateHz:               cfg.Agent.TickRateHz,
		Capacity:                 cfg.Agent.Capacity,
		SensingRadius:            cfg.Agent.SensingRadius,
		ScanEveryTicks:           cfg.Agent.ScanEveryTicks,
		ExtractEveryTicks:        cfg.Agent.ExtractEveryTicks,
		MoveSpeed:                cfg.Agent.MoveSpeed,
		PositionUpdateEveryTicks: cfg.Agent.PositionUpdateEveryTicks,
		FullEdgeOnly:             cfg.Agent.FullEdgeOnly,
		Behavior: agent.BehaviorConfig{
			AutoMine:         cfg.Agent.Behavior.AutoMine,
			WanderWhenIdle:   cfg.Agent.Behavior.WanderWhenIdle,
			WanderInterval:   cfg.Agent.Behavior.WanderInterval.Std(),
			WanderDistance:   cfg.Agent.Behavior.WanderDistance,
			IdleWanderChance: cfg.Agent.Behavior.IdleWanderChance,
			FullDwell:        cfg.Agent.Behavior.FullDwell.Std(),
		},
	}, world, logger, events)

	responder := ai.New(ai.Config{
		Enabled:   cfg.AI.Enabled,
		Endpoint:  cfg.AI.Endpoint,
		Model:     cfg.AI.Model,
		APIKey:    cfg.AI.APIKey,
		Timeout:   cfg.AI.Timeout.Std(),
		MaxTokens: cfg.AI.MaxTokens,
		Persona:   cfg.AI.Persona,
		Logger:    logger,
	}, ag.Status)

	var prox *proximity.Adapter
	var broadcast func(string) error
	if cfg.Chat.Proximity.Enabled {
		prox = proximity.New(proximity.Config{
			Range:  cfg.Chat.Proximity.Range,
			Logger: logger,
		}, world, world.PlayerID)
		ag.OnChatRow(prox.HandleRow)
		ag.OnConnectionChanged(prox.SetConnected)
		broadcast = prox.Broadcast
	}

	router := chat.NewRouter(chat.RouterConfig{
		Prefix:          cfg.Chat.Prefix,
		PrivilegedUsers: cfg.Chat.PrivilegedUsers,
	}, ag, responder, broadcast, logger)

	var recorder chat.Recorder
	if cfg.Data.TranscriptPath != "" {
		store, err := transcript.Open(cfg.Data.TranscriptPath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	bridge := chat.NewBridge(router, recorder, logger)
	if prox != nil {
		bridge.Attach(prox)
	}
	if cfg.Chat.Twitch.Enabled {
		bridge.Attach(twitch.New(twitch.Config{
			Server:  cfg.Chat.Twitch.Server,
			Nick:    cfg.Chat.Twitch.Nick,
			Token:   cfg.Chat.Twitch.Token,
			Channel: cfg.Chat.Twitch.Channel,
			Logger:  logger,
		}))
	}
	if cfg.Chat.Discord.Enabled {
		bridge.Attach(discord.New(discord.Config{
			Token:          cfg.Chat.Discord.Token,
			ChannelID:      cfg.Chat.Discord.ChannelID,
			ModeratorRoles: cfg.Chat.Discord.ModeratorRoles,
			Logger:         logger,
		}))
	}

	world.Start()
	ag.Start()
	bridge.ConnectAll(context.Background())

	var statusSrv *http.Server
	if cfg.Status.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(ag.Status())
		})
		statusSrv = &http.Server{Addr: cfg.Status.Addr, Handler: mux}
		go func() {
			logger.Printf("status listening on %s", cfg.Status.Addr)
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("status server: %v", err)
			}
		}()
	}

	logger.Printf("running, name=%s url=%s", cfg.Agent.Name, cfg.Server.URL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	if statusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = statusSrv.Shutdown(ctx)
		cancel()
	}
	bridge.CloseAll()
	ag.Stop()
	world.Close()
	return nil
}
