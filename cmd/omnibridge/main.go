package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnibridge/omnibridge/pkg/ai"
	"github.com/omnibridge/omnibridge/pkg/api"
	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/channels"
	"github.com/omnibridge/omnibridge/pkg/config"
	"github.com/omnibridge/omnibridge/pkg/logger"
	"github.com/omnibridge/omnibridge/pkg/mcp"
	"github.com/omnibridge/omnibridge/pkg/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "omnibridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.SetLevel(cfg.LogLevel)
	logger.InfoC("main", "Starting OmniBridge")

	provider, err := ai.NewProvider(cfg)
	if err != nil {
		return err
	}

	events := bus.NewEventStream()

	var client *mcp.Client
	if cfg.MCP.Enabled {
		client = mcp.NewClient(cfg.MCP.Timeout)
		client.Connect(cfg.MCP.ServerURL)
	}

	var actionClient router.ActionClient
	if client != nil {
		actionClient = client
	}
	rt := router.New(provider, actionClient, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var forwarder api.ActionForwarder
	if client != nil {
		forwarder = client
	}
	server := api.NewServer(cfg, rt, forwarder, events)

	if err := startChannels(ctx, cfg, rt, events, server); err != nil {
		return err
	}

	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.InfoCF("main", "OmniBridge running", map[string]interface{}{
		"port":      cfg.Port,
		"platforms": rt.RegisteredPlatforms(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.InfoCF("main", "Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	rt.Shutdown(shutdownCtx)
	server.Stop()

	logger.InfoC("main", "Shutdown complete")
	return nil
}

// startChannels constructs each enabled adapter, registers it with the
// router, then initializes it. Registration comes first so no inbound
// message arrives before the router knows the platform. An adapter that
// fails to initialize is a startup fault: the error propagates and the
// process exits non-zero rather than run partially configured.
func startChannels(ctx context.Context, cfg *config.Config, rt *router.Router, events *bus.EventStream, server *api.Server) error {
	if cfg.WhatsApp.Enabled {
		if err := startAdapter(ctx, rt, channels.NewWhatsAppChannel(cfg.WhatsAppStorePath(), events)); err != nil {
			return err
		}
	}
	if cfg.Telegram.Enabled {
		if err := startAdapter(ctx, rt, channels.NewTelegramChannel(cfg.Telegram.BotToken)); err != nil {
			return err
		}
	}
	if cfg.Slack.Enabled {
		if err := startAdapter(ctx, rt, channels.NewSlackChannel(cfg.Slack.BotToken, cfg.Slack.AppToken)); err != nil {
			return err
		}
	}
	if cfg.Teams.Enabled {
		teams := channels.NewTeamsChannel(cfg.Teams.AppID, cfg.Teams.AppPassword)
		server.SetTeamsWebhook(teams.WebhookHandler())
		if err := startAdapter(ctx, rt, teams); err != nil {
			return err
		}
	}

	return nil
}

func startAdapter(ctx context.Context, rt *router.Router, adapter channels.Adapter) error {
	if err := rt.RegisterAdapter(adapter); err != nil {
		return err
	}
	if err := adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s channel: %w", adapter.Platform(), err)
	}
	return nil
}
