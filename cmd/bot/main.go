package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"DiscordContextBot/internal/bot"
	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: configs/config.yaml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Initialize(cfg.Logging.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	if cfg.BotToken == "" {
		logging.Fatal("Bot token is required")
	}

	if err := run(cfg, *configPath); err != nil {
		logging.Fatal("Bot failed: %v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	b, err := bot.NewBot(cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	logging.Info("Bot is now running. Press CTRL-C to exit.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("Shutting down...")
	return b.Stop()
}
