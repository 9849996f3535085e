package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/breaker"
	"github.com/maternal-triage-engine/internal/classifier"
	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/idempotency"
	triagemcp "github.com/maternal-triage-engine/internal/mcp"
	"github.com/maternal-triage-engine/internal/service"
)

func newTestServer(t *testing.T) *triagemcp.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cb := breaker.New(domain.BreakerConfig{FailureThreshold: 5, CoolDown: time.Minute}, logger)
	adapter := classifier.NewAdapter(domain.ClassifierConfig{
		ModelPath: "../../models/maternal_risk_gbt.json",
		Timeout:   time.Second,
	}, logger)
	require.NoError(t, adapter.Load())

	orch := service.NewOrchestrator(service.Dependencies{
		Gate:       cb,
		Classifier: adapter,
		Store:      idempotency.NewMemoryStore(100, time.Hour),
	}, service.OrchestratorConfig{TTL: time.Hour, StoreBackend: "memory"}, logger)

	return triagemcp.NewServer(domain.MCPConfig{ServerName: "triage-test", ServerVersion: "v0.0.1"}, orch, logger)
}

func connectInMemory(t *testing.T, ctx context.Context, srv *triagemcp.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, t1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func textOf(t *testing.T, res *sdkmcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatalf("no text content in tool result")
	return ""
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	result := make(map[string]any)
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &result))
	return result
}

func vitalsArgs(key string, systolic float64) map[string]any {
	return map[string]any{
		"idempotency_key":   key,
		"systolic_bp":       systolic,
		"diastolic_bp":      70,
		"blood_oxygen":      98,
		"heart_rate":        80,
		"blood_sugar":       5.2,
		"body_temp":         36.8,
		"age":               28,
		"gestational_weeks": 30,
	}
}

func TestListTools(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.ElementsMatch(t, []string{triagemcp.ToolAssess, triagemcp.ToolStatus}, names)
}

func TestAssessTool(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	tests := []struct {
		name       string
		systolic   float64
		tier       string
		provenance string
		used       bool
	}{
		{"classifier decides normal vitals", 110, "NORMAL", string(domain.ProvenanceClassifierUsed), true},
		{"systolic crisis bypasses the classifier", 150, "CRITICAL", string(domain.ProvenanceCriticalBypass), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := callTool(t, ctx, session, triagemcp.ToolAssess, vitalsArgs(tt.name, tt.systolic))

			assert.Equal(t, tt.tier, out["tier"])
			assert.Equal(t, tt.provenance, out["provenance"])
			assert.Equal(t, tt.used, out["classifier_used"])
			assert.Equal(t, tt.name, out["idempotency_key"])
		})
	}
}

func TestAssessTool_Replay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	first := callTool(t, ctx, session, triagemcp.ToolAssess, vitalsArgs("replay-1", 110))
	second := callTool(t, ctx, session, triagemcp.ToolAssess, vitalsArgs("replay-1", 110))

	assert.Equal(t, first, second)
}

func TestAssessTool_Rejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	args := vitalsArgs("rejected-1", 110)
	delete(args, "systolic_bp")
	args["blood_oxygen"] = -5

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: triagemcp.ToolAssess, Arguments: args})
	require.NoError(t, err)
	require.True(t, res.IsError)

	text := textOf(t, res)
	assert.Contains(t, text, domain.FieldSystolicBP)
	assert.Contains(t, text, domain.FieldBloodOxygen)
}

func TestStatusTool(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	out := callTool(t, ctx, session, triagemcp.ToolStatus, map[string]any{})

	assert.Equal(t, string(domain.BreakerClosed), out["breaker"])
	assert.Equal(t, true, out["model_loaded"])
	assert.Equal(t, "maternal-risk-gbt-2025.03", out["model_version"])
	assert.Equal(t, "memory", out["store_backend"])
	assert.Equal(t, false, out["enrichment_enabled"])
}
