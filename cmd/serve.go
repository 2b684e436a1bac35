package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/server"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/supervisor"
	"github.com/mindloom/mindloom/wake"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mindloom coordinator",
	Long: `Start the coordinator: the interaction store, the wake orchestrator that
spawns a worker process per unanswered interaction, and the HTTP API with
the SSE event stream.

Examples:
  mindloom serve                       # Listen on the configured address
  mindloom serve --addr 0.0.0.0:7420   # Override the listen address`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// dirWorktreeResolver maps an interaction to <workspace>/worktrees/<id> when
// that directory exists.
type dirWorktreeResolver struct {
	root string
}

func (r *dirWorktreeResolver) Resolve(id string) (*wake.Worktree, error) {
	path := filepath.Join(r.root, "worktrees", id)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}
	return &wake.Worktree{Path: path}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	if err := cfg.EnsureWorkspace(); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	interactions := store.NewInteractionStore()
	messages := store.NewMessageStore()
	sup := supervisor.New()

	orch := wake.New(interactions, messages, sup, &dirWorktreeResolver{root: workspace}, wake.Config{
		WorkerCommand:       []string{exe, "worker"},
		CallbackURL:         callbackURLFromAddr(addr),
		Dir:                 workspace,
		MaxRestarts:         cfg.Worker.MaxRestarts,
		RestartDelay:        cfg.RestartDelay(),
		HealthCheckInterval: cfg.HealthCheckInterval(),
		PermissionTimeout:   cfg.PermissionTimeout(),
		PermissionPoll:      cfg.PermissionPoll(),
	})

	srv := server.New(server.Config{
		Addr:              addr,
		PermissionTimeout: cfg.PermissionTimeout(),
	}, interactions, messages, orch)

	orch.Start()
	if err := srv.Start(); err != nil {
		orch.Stop()
		return err
	}

	logger.Info("mindloom is running. Press Ctrl+C to stop.", "addr", srv.Addr(), "workspace", workspace)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", "err", err)
	}
	orch.Stop()
	messages.Close()
	interactions.Close()

	logger.Info("mindloom service stopped")
	return nil
}

// callbackURLFromAddr turns a listen address into the base URL workers use.
func callbackURLFromAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}
