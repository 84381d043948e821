package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskrails/internal/adapter/satellite"
	"taskrails/internal/infra/config"
)

func newSatelliteCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "satellite",
		Short: "Satellite client tools",
	}
	cmd.AddCommand(newSatelliteListenCmd(flags))
	return cmd
}

func newSatelliteListenCmd(flags *rootFlags) *cobra.Command {
	var url, token string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the satellite server and print every message",
		Long:  "listen prints one line per broadcast message. Without --url and --token the\nvalues written by a running server to the workspace env file are used.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if url == "" || token == "" {
				cfg, err := config.Load(flags.configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				env, err := satellite.ReadEnvFile(cfg.ResolvePath(cfg.Satellite.EnvFile))
				if err != nil {
					return err
				}
				if url == "" {
					if env.Port == 0 {
						return fmt.Errorf("satellite server is disabled")
					}
					url = satellite.URL(cfg.Satellite.Host, env.Port)
				}
				if token == "" {
					token = env.Token
				}
			}

			out := cmd.OutOrStdout()
			err := satellite.Listen(ctx, url, token, func(payload string) {
				fmt.Fprintln(out, payload)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "websocket URL, e.g. ws://127.0.0.1:3002/ws")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}
