package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/provider"
	"github.com/mindloom/mindloom/tools"
	"github.com/mindloom/mindloom/wake"
	"github.com/mindloom/mindloom/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single interaction worker (spawned by serve)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	interactionID := strings.TrimSpace(os.Getenv(wake.EnvInteractionID))
	callbackURL := strings.TrimSpace(os.Getenv(wake.EnvCallbackURL))
	if interactionID == "" || callbackURL == "" {
		return fmt.Errorf("%s and %s are required", wake.EnvInteractionID, wake.EnvCallbackURL)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	prov, err := provider.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build provider: %w", err)
	}

	workspace, err := os.Getwd()
	if err != nil {
		workspace, _ = cfg.WorkspacePath()
	}

	registry := tools.NewRegistry()
	registry.RegisterDefaultTools(workspace, tools.DefaultToolsConfig{})

	client := worker.NewClient(callbackURL)
	runner := worker.NewRunner(client, prov, registry, worker.Options{
		InteractionID:     interactionID,
		Workspace:         workspace,
		MaxIterations:     cfg.Worker.MaxToolIterations,
		PermissionTimeout: cfg.PermissionTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("worker shutdown signal received", "interaction", interactionID)
		cancel()
	}()

	logger.Info("worker started", "interaction", interactionID, "callback", callbackURL, "workspace", workspace)
	if err := runner.Run(ctx); err != nil {
		logger.Error("worker run failed", "interaction", interactionID, "err", err)
		return err
	}
	logger.Info("worker finished", "interaction", interactionID)
	return nil
}
