package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/busybox42/minimta/internal/smtp"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [url]",
		Short: "Show server status",
		Long: `Query the status endpoint of a running server. Without a URL the
configured [metrics] listen address is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := ""
			if len(args) == 1 {
				baseURL = args[0]
			} else {
				cfg, err := loadConfig(opts, nil)
				if err != nil {
					return err
				}
				baseURL = "http://" + cfg.Metrics.Listen
			}

			stats, err := fetchHealth(baseURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", stats.Status)
			fmt.Fprintf(out, "Listening: %s\n", stats.ListenAddr)
			fmt.Fprintf(out, "Uptime: %s\n", stats.UptimeFormatted)
			fmt.Fprintf(out, "Store: %s\n", stats.Store)
			fmt.Fprintf(out, "Active sessions: %d\n", stats.ActiveSessions)
			fmt.Fprintf(out, "Messages accepted: %d\n", stats.MessagesAccepted)
			return nil
		},
	}
	return cmd
}

func fetchHealth(baseURL string) (*smtp.HealthStats, error) {
	httpClient := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := httpClient.Get(strings.TrimSuffix(baseURL, "/") + "/healthz")
	if err != nil {
		return nil, fmt.Errorf("could not connect to minimta server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned HTTP %d", resp.StatusCode)
	}

	var stats smtp.HealthStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &stats, nil
}
