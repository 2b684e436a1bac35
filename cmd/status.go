package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mindloom configuration status",
	Long:  `Display the current mindloom configuration and status.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Status: Not configured")
		fmt.Println()
		fmt.Println("Run 'mindloom init' to initialize mindloom.")
		return nil
	}

	fmt.Println("mindloom Status")
	fmt.Println("===============")
	fmt.Println()

	configPath, _ := config.ConfigPath()
	fmt.Println("Config:", configPath)

	workspace, _ := cfg.WorkspacePath()
	fmt.Println("Workspace:", workspace)
	fmt.Println()

	fmt.Println("Server:", cfg.Server.Addr)
	fmt.Println("Provider:", cfg.Worker.Provider)
	fmt.Println("Model:", cfg.Worker.Model)
	fmt.Println()

	if _, err := cfg.GetAPIKey(); err != nil {
		fmt.Println("API Key: NOT CONFIGURED")
		fmt.Println()
		fmt.Println("Add your API key to the config file.")
	} else {
		fmt.Println("API Key: Configured")
	}

	fmt.Println()
	fmt.Println("Worker policy:")
	fmt.Printf("  Max Restarts: %d\n", cfg.Worker.MaxRestarts)
	fmt.Printf("  Restart Delay: %s\n", cfg.RestartDelay())
	fmt.Printf("  Health Check Interval: %s\n", cfg.HealthCheckInterval())
	fmt.Printf("  Permission Timeout: %s\n", cfg.PermissionTimeout())
	fmt.Printf("  Max Tool Iterations: %d\n", cfg.Worker.MaxToolIterations)

	return nil
}
