package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maternal-triage-engine/internal/app"
	"github.com/maternal-triage-engine/internal/config"
	"github.com/maternal-triage-engine/internal/logging"
	"github.com/maternal-triage-engine/internal/mcp"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	// stdout carries the protocol; logs must not share it.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build triage pipeline")
	}
	defer pipeline.Close()

	go pipeline.Run(ctx)

	server := mcp.NewServer(cfg.MCP, pipeline.Engine, logger)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		pipeline.Close()
		os.Exit(1)
	}

	logger.Info("Maternal triage MCP server stopped")
}
