package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/domain"
)

const visitJSON = `{"idempotency_key":"cli-1","systolic_bp":110,"diastolic_bp":70,"blood_oxygen":98,` +
	`"heart_rate":80,"blood_sugar":5.2,"body_temp":36.8,"age":28,"gestational_weeks":30}`

// writeConfig points the CLI at the repository model with enrichment off.
func writeConfig(t *testing.T) string {
	t.Helper()
	model, err := filepath.Abs("../../models/maternal_risk_gbt.json")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "classifier:\n  model_path: " + model + "\nenrichment:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	assessFlags.store = "memory"
	assessFlags.generateKeys = false
	modelFlags.path = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDecodeVitals(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		count   int
		batch   bool
		wantErr bool
	}{
		{"single object", visitJSON, 1, false, false},
		{"array", "[" + visitJSON + "," + visitJSON + "]", 2, true, false},
		{"surrounding whitespace", "\n  " + visitJSON + "\n", 1, false, false},
		{"empty input", "   ", 0, false, true},
		{"empty array", "[]", 0, false, true},
		{"malformed", `{"systolic_bp":`, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs, batch, err := decodeVitals([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, inputs, tt.count)
			assert.Equal(t, tt.batch, batch)
		})
	}
}

func TestAssessCommand_Stdin(t *testing.T) {
	out, err := execute(t, visitJSON, "assess")
	require.NoError(t, err)

	var v domain.RiskVerdict
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "cli-1", v.IdempotencyKey)
	assert.Equal(t, domain.ProvenanceClassifierUsed, v.Provenance)
}

func TestAssessCommand_BatchWithRejection(t *testing.T) {
	bad := strings.Replace(visitJSON, `"blood_oxygen":98`, `"blood_oxygen":-5`, 1)
	file := filepath.Join(t.TempDir(), "visits.json")
	require.NoError(t, os.WriteFile(file, []byte("["+visitJSON+","+bad+"]"), 0o644))

	out, err := execute(t, "", "assess", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	var results []assessResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.NotNil(t, results[0].Verdict)
	assert.Contains(t, results[1].Error, domain.FieldBloodOxygen)
}

func TestAssessCommand_GenerateKeys(t *testing.T) {
	noKey := strings.Replace(visitJSON, `"idempotency_key":"cli-1",`, "", 1)

	_, err := execute(t, noKey, "assess")
	require.Error(t, err)

	out, err := execute(t, noKey, "assess", "--generate-keys")
	require.NoError(t, err)
	var v domain.RiskVerdict
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.NotEmpty(t, v.IdempotencyKey)
}

func TestModelCheckCommand(t *testing.T) {
	out, err := execute(t, "", "model", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "maternal-risk-gbt-2025.03")
	assert.Contains(t, out, "NORMAL, ELEVATED, CRITICAL")

	_, err = execute(t, "", "model", "check", "--path", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
