package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maternal-triage-engine/internal/app"
	"github.com/maternal-triage-engine/internal/domain"
)

var assessFlags struct {
	store        string
	generateKeys bool
}

var assessCmd = &cobra.Command{
	Use:   "assess [file]",
	Short: "Assess vitals records from a JSON file or stdin",
	Long: `Assess one vitals record (a JSON object) or a batch (a JSON array) and print
the verdicts as JSON. With no file, or with "-", records are read from stdin.

Usage:
  triagectl assess visit.json
  triagectl assess --generate-keys < visits.json
  triagectl assess --store sqlite visit.json   # replay against the configured store`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssess,
}

func init() {
	f := assessCmd.Flags()
	f.StringVar(&assessFlags.store, "store", "memory", "Idempotency backend: memory, sqlite, redis, postgres")
	f.BoolVar(&assessFlags.generateKeys, "generate-keys", false, "Assign a random idempotency key to records without one")
}

type assessResult struct {
	Index   int                 `json:"index"`
	Verdict *domain.RiskVerdict `json:"verdict,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func runAssess(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	inputs, batch, err := decodeVitals(data)
	if err != nil {
		return err
	}
	if assessFlags.generateKeys {
		for i := range inputs {
			if inputs[i].IdempotencyKey == "" {
				inputs[i].IdempotencyKey = uuid.NewString()
			}
		}
	}

	m, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	cfg.Idempotency.Backend = assessFlags.store
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if !batch {
		verdict, err := pipeline.Engine.Assess(ctx, inputs[0])
		if err != nil {
			return err
		}
		return enc.Encode(verdict)
	}

	items := pipeline.Engine.AssessBatch(ctx, inputs)
	results := make([]assessResult, len(items))
	failed := 0
	for i, item := range items {
		results[i] = assessResult{Index: item.Index, Verdict: item.Verdict}
		if item.Err != nil {
			results[i].Error = item.Err.Error()
			failed++
		}
	}
	if err := enc.Encode(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d records were not assessed", failed, len(items))
	}
	return nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

// decodeVitals accepts a single object or an array of objects.
func decodeVitals(data []byte) ([]domain.VitalsInput, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, errors.New("no vitals records in input")
	}
	if trimmed[0] == '[' {
		var inputs []domain.VitalsInput
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			return nil, false, fmt.Errorf("decode vitals batch: %w", err)
		}
		if len(inputs) == 0 {
			return nil, false, errors.New("no vitals records in input")
		}
		return inputs, true, nil
	}
	var in domain.VitalsInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, false, fmt.Errorf("decode vitals record: %w", err)
	}
	return []domain.VitalsInput{in}, false, nil
}
