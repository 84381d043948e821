package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "taskrails.yaml"

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "taskrails",
		Short:         "Local control plane for coding agents",
		Long:          "taskrails bridges coding agents and the desktop task board over JSON-RPC\n(stdio or HTTP event stream) and forwards live events to satellites.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("taskrails {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "config file path")

	cmd.AddCommand(
		newServeCmd(flags),
		newStdioCmd(flags),
		newSatelliteCmd(flags),
		newRoleCmd(flags),
		newHubCmd(flags),
		newTaskCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "taskrails %s\n", version)
			return nil
		},
	}
}
