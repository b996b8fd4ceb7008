package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shiftmonitor/internal/config"
	"shiftmonitor/internal/fleet"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/logger"
	"shiftmonitor/internal/monitor"
	"shiftmonitor/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll machine status feeds and serve the timeline API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address for the web server (overrides config)")
	return cmd
}

func runServe(cfg config.Config) error {
	log := logger.New("shiftmonitor", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := kv.Open(ctx, kv.Options{
		Driver:        cfg.Store.Driver,
		DataDirectory: cfg.DataDirectory,
		PostgresDSN:   cfg.Store.PostgresDSN,
	})
	if err != nil {
		log.Error().Stack().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()
	log.Info().
		Str("driver", cfg.Store.Driver).
		Int("machines", len(cfg.Machines)).
		Str("timezone", cfg.Timezone).
		Msg("configuration loaded")

	f := fleet.New(cfg, kv.WithTimeout(backend, cfg.StoreTimeout()), log, nil)
	f.Open(ctx)
	f.Start(ctx)

	mon := monitor.New(f, time.Duration(cfg.StatusRequestTimeoutMs)*time.Millisecond, log)
	mon.Start()

	srv := server.New(cfg.Addr, f, mon, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
		return nil
	})

	err = g.Wait()
	mon.Stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := f.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Msg("final timeline flush incomplete")
	}
	log.Info().Msg("shiftmonitor stopped")
	return err
}
