package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chainflow/internal/api"
	"chainflow/internal/config"
)

func serveFlags(cfg *config.Config) *pflag.FlagSet {
	f := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address")
	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "sleep between minute-boundary checks")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent manual chain runs")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "expose pprof under /debug/pprof/")
	return f
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().AddFlagSet(serveFlags(cfg))
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(ctx) }()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServerWithDebug(a.admin, a.registry, cfg.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	engineRunning := true
	select {
	case <-ctx.Done():
	case err := <-engineDone:
		engineRunning = false
		if err != nil {
			log.Error().Err(err).Msg("scheduler exited")
		}
		stop()
	}

	log.Info().Msg("shutting down")
	a.engine.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)

	// A scheduled chain still in flight records its results before the
	// deferred Close shuts the database.
	if engineRunning {
		log.Info().Msg("waiting for running chain to finish")
		<-engineDone
	}
	return nil
}
