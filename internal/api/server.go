// Package api is the HTTP surface of the triage engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/middleware"
	"github.com/maternal-triage-engine/internal/service"
)

// MaxBatchSize bounds the number of records in one batch request.
const MaxBatchSize = 100

// HeaderIdempotencyKey may carry the key instead of the request body.
const HeaderIdempotencyKey = "Idempotency-Key"

// Engine is the assessment pipeline as the HTTP layer uses it.
type Engine interface {
	Assess(ctx context.Context, in domain.VitalsInput) (*domain.RiskVerdict, error)
	AssessBatch(ctx context.Context, inputs []domain.VitalsInput) []service.BatchItem
	Status() domain.EngineStatus
	Rules() []service.ClinicalRule
}

// Server represents the HTTP server
type Server struct {
	cfg     domain.ServerConfig
	engine  Engine
	logger  *logrus.Logger
	router  *gin.Engine
	server  *http.Server
	version string
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, engine Engine, logger *logrus.Logger, version string) *Server {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		logger:  logger,
		router:  router,
		version: version,
	}
	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/assess", s.handleAssess)
		v1.POST("/assess/batch", s.handleAssessBatch)
		v1.GET("/rules", s.handleRules)
	}
}

// handleHealth reports pipeline state. Only the startup gate yields 503; a
// degraded engine still answers from rules.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.engine.Status()

	code := http.StatusOK
	state := "healthy"
	switch {
	case status.Breaker.Held:
		code = http.StatusServiceUnavailable
		state = "starting"
	case status.Breaker.State != domain.BreakerClosed || !status.ModelLoaded:
		state = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    state,
		"engine":    status,
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	})
}

func (s *Server) handleAssess(c *gin.Context) {
	var in domain.VitalsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.writeError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Malformed request body", err.Error())
		return
	}
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		in.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	}

	verdict, err := s.engine.Assess(c.Request.Context(), in)
	if err != nil {
		s.writeAssessError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

type batchRequest struct {
	Records []domain.VitalsInput `json:"records"`
}

type batchItemResponse struct {
	Index   int                 `json:"index"`
	Verdict *domain.RiskVerdict `json:"verdict,omitempty"`
	Error   *errorResponse      `json:"error,omitempty"`
}

func (s *Server) handleAssessBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Malformed request body", err.Error())
		return
	}
	if len(req.Records) == 0 || len(req.Records) > MaxBatchSize {
		s.writeError(c, http.StatusBadRequest, domain.ErrInvalidInput,
			fmt.Sprintf("Batch must contain between 1 and %d records", MaxBatchSize), "")
		return
	}

	items := s.engine.AssessBatch(c.Request.Context(), req.Records)
	out := make([]batchItemResponse, 0, len(items))
	for _, item := range items {
		resp := batchItemResponse{Index: item.Index, Verdict: item.Verdict}
		if item.Err != nil {
			_, body := s.classifyError(c, item.Err)
			resp.Error = body
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) handleRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.engine.Rules()})
}
