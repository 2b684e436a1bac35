package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Non-interactive setup: generate config and workspace",
	Long: `Generate config.yaml and the workspace directory without interactive
prompts. An existing config is never overwritten.

Examples:
  mindloom init --api-key sk-xxx
  mindloom init --provider openai --model gpt-4o --api-key sk-xxx`,
	RunE: runInit,
}

var (
	initProvider string
	initModel    string
	initAPIKey   string
)

func init() {
	initCmd.Flags().StringVar(&initProvider, "provider", "anthropic", "LLM provider name (anthropic, openai)")
	initCmd.Flags().StringVar(&initModel, "model", "", "Model name (defaults to the provider default)")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "Provider API key (required)")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	apiKey := strings.TrimSpace(initAPIKey)
	if apiKey == "" {
		return fmt.Errorf("--api-key is required")
	}

	cfg := config.DefaultConfig()
	cfg.Worker.Provider = strings.TrimSpace(initProvider)
	if initModel != "" {
		cfg.Worker.Model = strings.TrimSpace(initModel)
	}

	switch cfg.Worker.Provider {
	case "anthropic":
		cfg.Providers.Anthropic = &config.ProviderConfig{APIKey: apiKey}
	case "openai":
		cfg.Providers.OpenAI = &config.ProviderConfig{APIKey: apiKey}
	default:
		return fmt.Errorf("unknown provider: %s", cfg.Worker.Provider)
	}

	if err := saveConfigIfAbsent(cfg); err != nil {
		return err
	}

	if err := cfg.EnsureWorkspace(); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}

	fmt.Println("Workspace ready:", workspace)
	fmt.Println("Run 'mindloom serve' to start.")
	return nil
}

// saveConfigIfAbsent writes the config only when no config file exists yet,
// so re-running init never clobbers an edited config.
func saveConfigIfAbsent(cfg *config.Config) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists, skipping:", configPath)
		return nil
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println("Config created:", configPath)
	return nil
}
