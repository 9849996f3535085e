// Package mcp exposes the triage engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/domain"
)

// Tool names.
const (
	ToolAssess = "assess_maternal_risk"
	ToolStatus = "triage_status"
)

// Engine is the subset of the pipeline the MCP tools call.
type Engine interface {
	Assess(ctx context.Context, in domain.VitalsInput) (*domain.RiskVerdict, error)
	Status() domain.EngineStatus
}

// Server represents the maternal triage MCP server
type Server struct {
	mcpServer *mcp.Server
	engine    Engine
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with the triage tools registered.
func NewServer(cfg domain.MCPConfig, engine Engine, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "maternal-triage-engine"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		engine:    engine,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Start serves the tools over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting maternal triage MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAssess,
		Description: "Assess one set of maternal vital signs and return a risk tier " +
			"(NORMAL, ELEVATED, CRITICAL) with the triggered clinical rules and provenance.",
	}, s.handleAssess)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Report triage pipeline health: circuit breaker state, model version and store backend.",
	}, s.handleStatus)
}

type assessInput struct {
	IdempotencyKey   string   `json:"idempotency_key" jsonschema:"caller-chosen key; resubmitting it returns the stored verdict"`
	SystolicBP       *float64 `json:"systolic_bp,omitempty" jsonschema:"systolic blood pressure in mmHg"`
	DiastolicBP      *float64 `json:"diastolic_bp,omitempty" jsonschema:"diastolic blood pressure in mmHg"`
	BloodOxygen      *float64 `json:"blood_oxygen,omitempty" jsonschema:"oxygen saturation SpO2 in percent"`
	HeartRate        *float64 `json:"heart_rate,omitempty" jsonschema:"heart rate in beats per minute"`
	BloodSugar       *float64 `json:"blood_sugar,omitempty" jsonschema:"blood glucose in mmol/L"`
	BodyTemp         *float64 `json:"body_temp,omitempty" jsonschema:"body temperature in degrees Celsius"`
	Age              *float64 `json:"age,omitempty" jsonschema:"maternal age in years"`
	GestationalWeeks *float64 `json:"gestational_weeks,omitempty" jsonschema:"gestational age in weeks"`
}

func (in assessInput) vitals() domain.VitalsInput {
	return domain.VitalsInput{
		IdempotencyKey:  in.IdempotencyKey,
		SystolicBP:      in.SystolicBP,
		DiastolicBP:     in.DiastolicBP,
		BloodOxygen:     in.BloodOxygen,
		HeartRate:       in.HeartRate,
		BloodSugar:      in.BloodSugar,
		BodyTemp:        in.BodyTemp,
		Age:             in.Age,
		GestationalWeek: in.GestationalWeeks,
	}
}

type findingOutput struct {
	RuleID    string `json:"rule_id"`
	Tier      string `json:"tier"`
	Rationale string `json:"rationale"`
}

type assessOutput struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	Tier            string          `json:"tier"`
	Confidence      float64         `json:"confidence"`
	Provenance      string          `json:"provenance"`
	ClassifierUsed  bool            `json:"classifier_used"`
	ModelVersion    string          `json:"model_version,omitempty"`
	Findings        []findingOutput `json:"findings,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	AssessedAt      string          `json:"assessed_at"`
}

type statusInput struct{}

type statusOutput struct {
	Breaker      string `json:"breaker"`
	Held         bool   `json:"held"`
	ModelVersion string `json:"model_version,omitempty"`
	ModelLoaded  bool   `json:"model_loaded"`
	StoreBackend string `json:"store_backend,omitempty"`
	Enrichment   bool   `json:"enrichment_enabled"`
}

func (s *Server) handleAssess(ctx context.Context, _ *mcp.CallToolRequest, input assessInput) (*mcp.CallToolResult, assessOutput, error) {
	verdict, err := s.engine.Assess(ctx, input.vitals())
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", input.IdempotencyKey).Warn("MCP assessment failed")
		return nil, assessOutput{}, toolError(err)
	}
	return nil, newAssessOutput(verdict), nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ statusInput) (*mcp.CallToolResult, statusOutput, error) {
	st := s.engine.Status()
	return nil, statusOutput{
		Breaker:      string(st.Breaker.State),
		Held:         st.Breaker.Held,
		ModelVersion: st.ModelVersion,
		ModelLoaded:  st.ModelLoaded,
		StoreBackend: st.StoreBackend,
		Enrichment:   st.Enrichment,
	}, nil
}

func newAssessOutput(v *domain.RiskVerdict) assessOutput {
	out := assessOutput{
		IdempotencyKey: v.IdempotencyKey,
		Tier:           v.Tier.String(),
		Confidence:     v.Confidence,
		Provenance:     v.Provenance.String(),
		ClassifierUsed: v.ClassifierUsed,
		AssessedAt:     v.AssessedAt.UTC().Format(time.RFC3339Nano),
	}
	if v.Classifier != nil {
		out.ModelVersion = v.Classifier.ModelVersion
	}
	for _, f := range v.Findings {
		out.Findings = append(out.Findings, findingOutput{
			RuleID:    f.RuleID,
			Tier:      f.Tier.String(),
			Rationale: f.Rationale,
		})
	}
	if v.Narrative != nil {
		out.Narrative = v.Narrative.ClinicalInsights
		out.Recommendations = v.Narrative.RecommendedActions
	}
	return out
}

// toolError turns a rejection into a message that lists every violation; the
// SDK reports it to the client as a tool error.
func toolError(err error) error {
	var rej *domain.RejectionError
	if !errors.As(err, &rej) {
		return fmt.Errorf("assessment failed: %w", err)
	}
	lines := make([]string, 0, len(rej.Violations))
	for _, v := range rej.Violations {
		lines = append(lines, fmt.Sprintf("%s (%s): %s", v.Field, v.Rule, v.Message))
	}
	return fmt.Errorf("vitals rejected: %s", strings.Join(lines, "; "))
}
