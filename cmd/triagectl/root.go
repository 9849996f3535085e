package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maternal-triage-engine/internal/config"
	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "triagectl",
	Short: "Operate the maternal vitals risk triage engine",
	Long: "triagectl assesses vitals records offline, manages the verdict store schema\n" +
		"and checks risk model artifacts, using the same configuration as the servers.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configPath, "config", "c", "", "Path to config file (default: ./config.yaml)")
	pf.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Log pipeline events to stderr")

	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.Version = version
}

// loadConfig reads and validates configuration the way the servers do.
func loadConfig() (*config.Manager, error) {
	m, err := config.NewManagerWithFile(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return m, nil
}

// newLogger keeps stdout free for command output.
func newLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	if !rootFlags.verbose {
		return logging.Discard(), nil
	}
	cfg.Output = "stderr"
	cfg.Format = "text"
	return logging.New(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
