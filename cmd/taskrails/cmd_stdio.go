package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskrails/internal/adapter/satellite"
	"taskrails/internal/adapter/transport"
)

func newStdioCmd(flags *rootFlags) *cobra.Command {
	var withSatellite bool

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve JSON-RPC over stdin/stdout, one message per line",
		Long:  "stdio reads one JSON-RPC request per line from stdin and writes one response\nper line to stdout. Logs always go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags.configPath, appOptions{forceStderr: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if withSatellite && a.cfg.Satellite.Enabled {
				sat := satellite.NewServer(satellite.Config{
					Host:       a.cfg.Satellite.Host,
					Port:       a.cfg.Satellite.Port,
					PortRange:  a.cfg.Satellite.PortRange,
					EnvFile:    a.cfg.ResolvePath(a.cfg.Satellite.EnvFile),
					MDNS:       a.cfg.Satellite.MDNS,
					SendBuffer: a.cfg.Satellite.SendBuffer,
				}, a.bus, a.logger)
				if err := sat.Start(ctx); err != nil {
					return err
				}
				defer sat.Stop(context.Background())
			}

			line := transport.NewLineChannel(a.dispatcher, a.logger)
			err = line.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&withSatellite, "satellite", false, "also run the satellite websocket server")
	return cmd
}
