// Package cmd provides CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
	"github.com/mindloom/mindloom/logger"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	logLevelOverride string
	configDirFlag    string
)

// rootCmd is the root command.
var rootCmd = &cobra.Command{
	Use:   "mindloom",
	Short: "mindloom - an LLM interaction coordinator",
	Long: `mindloom coordinates LLM interactions: it records every interaction and
its message log, wakes a worker process for each unanswered user turn,
supervises those workers, and relays tool-permission requests to the
human operator.

Get started with: mindloom init --api-key sk-xxx`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level for this run (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Override the config directory (default ~/.mindloom)")
	rootCmd.PersistentPreRunE = applyRuntimeOverrides
}

func applyRuntimeOverrides(cmd *cobra.Command, args []string) error {
	if configDirFlag != "" {
		config.SetConfigDir(configDirFlag)
	}

	if logLevelOverride == "" {
		return nil
	}

	level := strings.ToLower(strings.TrimSpace(logLevelOverride))
	if !validLogLevel(level) {
		return fmt.Errorf("invalid --log-level: %q (use debug, info, warn, error)", logLevelOverride)
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	cfg.Logging.Level = level

	return initLogger(cfg)
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func initLogger(cfg *config.Config) error {
	configDir, _ := config.ConfigDir()
	logEnabled := true
	if cfg.Logging.Enabled != nil {
		logEnabled = *cfg.Logging.Enabled
	}

	logCfg := logger.Config{
		Enabled: logEnabled,
		Level:   cfg.Logging.Level,
		Stdout:  cfg.Logging.Stdout,
		File:    cfg.Logging.File,
	}

	if err := logger.Init(logCfg, configDir); err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	return nil
}
