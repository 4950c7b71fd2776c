package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// buildStatusCmd queries a running serve instance's /status endpoint
// (registered alongside /healthz and /metrics in serve.go) rather than
// reopening the durable store directly, so `animus status` reflects the
// live dispatcher's in-memory capacity counters, not a snapshot derived
// from store rows.
func buildStatusCmd() *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show control plane capacity and faculty status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrintStatus(endpoint)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "http://127.0.0.1:8090/status", "URL of a running serve instance's status endpoint")
	return cmd
}

func fetchAndPrintStatus(endpoint string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("fetching status from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var pretty map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&pretty); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
