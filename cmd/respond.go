package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/config"
)

var respondCmd = &cobra.Command{
	Use:   "respond <request-id>",
	Short: "Answer a pending tool-permission request",
	Long: `Approve or deny a worker's pending tool-permission request.

Examples:
  mindloom respond 4f2c... --approve
  mindloom respond 4f2c... --deny`,
	Args: cobra.ExactArgs(1),
	RunE: runRespond,
}

var (
	respondApprove bool
	respondDeny    bool
	respondAddr    string
)

func init() {
	respondCmd.Flags().BoolVar(&respondApprove, "approve", false, "Approve the request")
	respondCmd.Flags().BoolVar(&respondDeny, "deny", false, "Deny the request")
	respondCmd.Flags().StringVar(&respondAddr, "addr", "", "Coordinator address (overrides config)")
	rootCmd.AddCommand(respondCmd)
}

func runRespond(cmd *cobra.Command, args []string) error {
	if respondApprove == respondDeny {
		return fmt.Errorf("exactly one of --approve or --deny is required")
	}
	requestID := args[0]

	addr := respondAddr
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Server.Addr
	}

	body, err := json.Marshal(map[string]bool{"approved": respondApprove})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("http://%s/api/permissions/%s/respond", addr, url.PathEscape(requestID))
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response: HTTP %d", resp.StatusCode)
	}

	if respondApprove {
		fmt.Println("Approved:", requestID)
	} else {
		fmt.Println("Denied:", requestID)
	}
	return nil
}
