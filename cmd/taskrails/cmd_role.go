package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type roleBody struct {
	Role string `json:"role"`
}

func newRoleCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Read or change the operating state of a running server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current operating state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(flags.configPath)
			if err != nil {
				return err
			}
			var body roleBody
			if _, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/state", nil, &body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body.Role)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set <Idle|Coder|Reviewer|Architect|Airlock>",
		Short:     "Change the operating state and notify subscribers",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"Idle", "Coder", "Reviewer", "Architect", "Airlock"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(flags.configPath)
			if err != nil {
				return err
			}
			var body roleBody
			if _, err := c.do(cmd.Context(), http.MethodPut, "/api/v1/state", roleBody{Role: args[0]}, &body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body.Role)
			return nil
		},
	})

	return cmd
}
