package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/logger"
	"github.com/purecut/purecut/internal/server"
)

func main() {
	// API keys usually live in a local .env during development.
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	configPath := os.Getenv("PURECUT_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./purecut.yaml"); err == nil {
			configPath = "./purecut.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.Get()

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	} else {
		logger.Info("Using default configuration")
	}

	if err := os.MkdirAll(cfg.Storage.JobsDir, 0o755); err != nil {
		log.Fatalf("Failed to create jobs directory: %v", err)
	}

	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Received %s, shutting down", sig)
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
