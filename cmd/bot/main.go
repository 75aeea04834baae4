package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/madadi/accounting-bot/internal/config"
	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/notifier"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
	"github.com/madadi/accounting-bot/internal/syncer"
	"github.com/madadi/accounting-bot/internal/telegram"
	"github.com/madadi/accounting-bot/internal/webhook"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Core pieces
	audit := engine.NewAuditRecorder(store, log)
	filter := engine.NewFilter(store, cfg.ExpireExtendDays, log)
	ledger := engine.NewLedger(store, audit, log)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, store, ledger, audit, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Dispatcher and routing
	notify := notifier.New(cfg, bot, log)
	router := engine.NewRouter(store, notify, cfg.ForumChatID, cfg.FallbackChatID, cfg.FallbackTopicID, log)

	// Panel API client and sync orchestrator
	if cfg.PanelBaseURL != "" {
		panelClient := panel.NewClient(cfg.PanelBaseURL, cfg.PanelUsername, cfg.PanelPassword)
		bot.AttachSyncer(syncer.New(store, panelClient, router, log))
		log.Info("panel client initialized", "base_url", cfg.PanelBaseURL)
	} else {
		log.Warn("panel API not configured, /sync commands disabled")
	}

	processor := engine.NewProcessor(filter, router, notify, audit, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start webhook server
	webhookServer := webhook.NewServer(store, processor, cfg.WebhookSecret, log)
	go func() {
		if err := webhookServer.Start(ctx, cfg.WebhookPort); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)
}
