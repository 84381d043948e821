package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskrails/internal/domain"
)

func newHubCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Inspect and feed the command hub of a running server",
	}
	cmd.AddCommand(
		newHubStatusCmd(flags),
		newHubEnqueueCmd(flags),
		newHubResultsCmd(flags),
	)
	return cmd
}

func newHubStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent liveness and queue lengths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(flags.configPath)
			if err != nil {
				return err
			}
			var snap domain.HubSnapshot
			if _, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/hub/state", nil, &snap); err != nil {
				return err
			}

			heartbeat := "never"
			if snap.LastHeartbeat != nil {
				heartbeat = snap.LastHeartbeat.Local().Format(time.RFC3339)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "connected:\t%t\n", snap.Connected)
			fmt.Fprintf(w, "last heartbeat:\t%s\n", heartbeat)
			fmt.Fprintf(w, "pending:\t%d\n", snap.PendingCommands)
			fmt.Fprintf(w, "completed:\t%d\n", snap.CompletedCommands)
			return w.Flush()
		},
	}
}

func newHubEnqueueCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <action> [payload-json]",
		Short: "Queue a command for the external agent",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := struct {
				Action  string          `json:"action"`
				Payload json.RawMessage `json:"payload,omitempty"`
			}{Action: args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				body.Payload = json.RawMessage(args[1])
			}

			c, err := newAPIClient(flags.configPath)
			if err != nil {
				return err
			}
			var out struct {
				ID string `json:"id"`
			}
			if _, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/hub/commands", body, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return nil
		},
	}
}

func newHubResultsCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List results reported by the agent, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(flags.configPath)
			if err != nil {
				return err
			}
			var results []domain.Result
			path := "/api/v1/hub/results?limit=" + strconv.Itoa(limit)
			if _, err := c.do(cmd.Context(), http.MethodGet, path, nil, &results); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COMMAND\tSTATUS\tCOMPLETED\tOUTPUT")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.CommandID, r.Status, r.CompletedAt.Local().Format(time.RFC3339), r.Output)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results to show (0 uses the server default)")
	return cmd
}
