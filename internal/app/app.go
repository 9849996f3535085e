// Package app assembles the triage pipeline from configuration. Every entry
// point (HTTP server, MCP server, CLI) builds its engine here.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/breaker"
	"github.com/maternal-triage-engine/internal/classifier"
	"github.com/maternal-triage-engine/internal/database"
	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/idempotency"
	"github.com/maternal-triage-engine/internal/service"
	"github.com/maternal-triage-engine/internal/validation"
	"github.com/maternal-triage-engine/pkg/external"
)

// App owns the long-lived pipeline components.
type App struct {
	Engine     *service.Orchestrator
	Breaker    *breaker.Breaker
	Classifier *classifier.Adapter
	Store      domain.IdempotencyStore

	cfg    *domain.Config
	logger *logrus.Logger
}

// Build wires the pipeline. The classifier gate stays held until a model is
// loaded; Run keeps retrying in the background.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	cb := breaker.New(cfg.Breaker, logger)

	adapter := classifier.NewAdapter(cfg.Classifier, logger)
	if err := adapter.Load(); err != nil {
		logger.WithError(err).Warn("Risk model not loaded, answering from rules until it is")
		cb.Hold(err.Error())
	}

	enricher, err := newEnricher(cfg.Enrichment, logger)
	if err != nil {
		return nil, err
	}

	store, err := idempotency.New(ctx, cfg.Idempotency, idempotency.Options{
		Cache:    cfg.Cache,
		Database: database.ConfigFromDomain(cfg.Database),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	engine := service.NewOrchestrator(service.Dependencies{
		Validator:  validation.NewValidator(),
		Rules:      service.NewRuleEngine(cfg.Rules, logger),
		Gate:       cb,
		Classifier: adapter,
		Enricher:   enricher,
		Store:      store,
	}, service.OrchestratorConfig{
		TTL:               cfg.Idempotency.TTL,
		StoreTimeout:      cfg.Idempotency.Timeout,
		EnrichmentTimeout: cfg.Enrichment.Timeout,
		IncludeCritical:   cfg.Enrichment.IncludeCritical,
		BatchLimit:        cfg.Server.BatchLimit,
		StoreBackend:      cfg.Idempotency.Backend,
	}, logger)

	return &App{
		Engine:     engine,
		Breaker:    cb,
		Classifier: adapter,
		Store:      store,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// newEnricher returns nil when enrichment is switched off so the pipeline
// skips the step entirely.
func newEnricher(cfg domain.EnrichmentConfig, logger *logrus.Logger) (domain.Enricher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := external.NewEnrichmentClient(external.EnrichmentConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		CacheSize: cfg.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment client: %w", err)
	}
	if !client.Enabled() {
		logger.Info("Narrative enrichment has no API key configured, verdicts will carry no narrative")
	}
	return client, nil
}

// Run watches the model artifact until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.Classifier.KeepLoaded(ctx, a.Breaker, a.cfg.Classifier.ReloadInterval)
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
