package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/maternal-triage-engine/internal/api"
	"github.com/maternal-triage-engine/internal/app"
	"github.com/maternal-triage-engine/internal/config"
	"github.com/maternal-triage-engine/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

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
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	if configManager.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build triage pipeline")
	}
	defer pipeline.Close()

	go pipeline.Run(ctx)

	logger.WithField("version", version).Infof("Starting maternal triage server on %s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(cfg.Server, pipeline.Engine, logger, version)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		pipeline.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
