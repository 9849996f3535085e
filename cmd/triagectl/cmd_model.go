package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maternal-triage-engine/internal/classifier"
	"github.com/maternal-triage-engine/internal/domain"
)

var modelFlags struct {
	path string
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect risk model artifacts",
}

var modelCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a model artifact and run a smoke prediction",
	Long: `Load the artifact the classifier would load, validate it against the engine's
feature layout and run one prediction on an unremarkable record.`,
	Args: cobra.NoArgs,
	RunE: runModelCheck,
}

func init() {
	modelCheckCmd.Flags().StringVar(&modelFlags.path, "path", "", "Model artifact (default: classifier.model_path)")
	modelCmd.AddCommand(modelCheckCmd)
}

// referenceRecord is a healthy mid-pregnancy record used for the smoke test.
var referenceRecord = domain.VitalsRecord{
	SystolicBP:      112,
	DiastolicBP:     72,
	BloodOxygen:     98,
	HeartRate:       82,
	BloodSugar:      5.0,
	BodyTemp:        36.8,
	Age:             29,
	GestationalWeek: 28,
}

func runModelCheck(cmd *cobra.Command, _ []string) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	if modelFlags.path != "" {
		cfg.Classifier.ModelPath = modelFlags.path
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	model, err := classifier.LoadModel(cfg.Classifier.ModelPath)
	if err != nil {
		return fmt.Errorf("model %s is not usable: %w", cfg.Classifier.ModelPath, err)
	}

	adapter := classifier.NewAdapter(cfg.Classifier, logger)
	adapter.SetModel(model)
	out, err := adapter.Predict(cmd.Context(), domain.NewFeatureVector(referenceRecord))
	if err != nil {
		return fmt.Errorf("smoke prediction failed: %w", err)
	}

	classes := make([]string, 0, len(model.Classes()))
	for _, c := range model.Classes() {
		classes = append(classes, c.String())
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Path:     %s\n", cfg.Classifier.ModelPath)
	fmt.Fprintf(w, "Version:  %s\n", model.Version())
	fmt.Fprintf(w, "Classes:  %s\n", strings.Join(classes, ", "))
	fmt.Fprintf(w, "Trees:    %d\n", model.NumTrees())
	fmt.Fprintf(w, "Smoke:    %s (confidence %.3f)\n", out.Tier, out.Confidence)
	return nil
}
