package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskrails/internal/adapter/satellite"
	"taskrails/internal/adapter/transport"
	"taskrails/internal/usecase/scheduling"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event-stream server, admin API and satellite server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags.configPath, appOptions{}, nil)
		},
	}
}

// servers is what runServe started, reported to ready.
type servers struct {
	stream    *transport.StreamServer
	satellite *satellite.Server
	token     string
}

// runServe blocks until ctx ends. ready, when non-nil, is called once
// everything is listening.
func runServe(ctx context.Context, cfgPath string, opts appOptions, ready func(servers)) error {
	a, err := newApp(ctx, cfgPath, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	cfg := a.cfg
	token := satellite.NewToken()
	envPath := cfg.ResolvePath(cfg.Satellite.EnvFile)

	var sat *satellite.Server
	if cfg.Satellite.Enabled {
		sat = satellite.NewServer(satellite.Config{
			Host:       cfg.Satellite.Host,
			Port:       cfg.Satellite.Port,
			PortRange:  cfg.Satellite.PortRange,
			EnvFile:    envPath,
			MDNS:       cfg.Satellite.MDNS,
			SendBuffer: cfg.Satellite.SendBuffer,
			Token:      token,
		}, a.bus, a.logger)
		if err := sat.Start(ctx); err != nil {
			return err
		}
	} else if err := satellite.WriteEnvFile(envPath, satellite.EnvFile{Token: token}); err != nil {
		// The admin API token still has to reach local clients.
		return fmt.Errorf("write env file: %w", err)
	}

	api := transport.NewAdminAPI(transport.APIDeps{
		State:   a.state,
		Hub:     a.hub,
		Tasks:   a.tasks,
		Bus:     a.bus,
		Version: version,
	}, token, a.logger)

	stream := transport.NewStreamServer(transport.StreamConfig{
		Addr:           cfg.Stream.Addr,
		KeepAlive:      cfg.Stream.KeepAlive,
		RequestsPerMin: cfg.Stream.RequestsPerMin,
		Burst:          cfg.Stream.Burst,
	}, a.dispatcher, a.bus, a.logger, transport.WithAdminAPI(api))
	if err := stream.Start(ctx); err != nil {
		stopSatellite(sat)
		return err
	}

	scheduler := scheduling.NewScheduler(a.logger)
	n, err := scheduling.RegisterHousekeeping(scheduler, a.hub, scheduling.HousekeepingConfig{
		MaxResults:    cfg.Hub.MaxResults,
		PruneSchedule: cfg.Hub.PruneSchedule,
		HeartbeatTTL:  cfg.Hub.HeartbeatTTL,
		ReapSchedule:  cfg.Hub.ReapSchedule,
	}, a.logger)
	if err != nil {
		stopSatellite(sat)
		stream.Stop(context.Background())
		return err
	}
	if n > 0 {
		scheduler.Start(ctx)
	}

	attrs := []any{"stream", stream.Addr(), "jobs", n}
	if sat != nil {
		attrs = append(attrs, "satellite", sat.Addr())
	}
	a.logger.Info("taskrails serving", attrs...)

	if ready != nil {
		ready(servers{stream: stream, satellite: sat, token: token})
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	scheduler.Stop()
	if err := stream.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop stream server: %w", err))
	}
	if sat != nil {
		if err := sat.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop satellite server: %w", err))
		}
	}
	return errors.Join(errs...)
}

func stopSatellite(sat *satellite.Server) {
	if sat != nil {
		sat.Stop(context.Background())
	}
}
