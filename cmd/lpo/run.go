package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/scheduler"
	"github.com/voltz-protocol/lp-optimiser/internal/web"
)

func newRunCmd() *cobra.Command {
	var (
		interval   time.Duration
		runOnStart bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Observe margin engines and rebalance on schedule, serving the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, interval, runOnStart)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0,
		"run cycles on a fixed interval (e.g. "+config.DefaultCycleInterval.String()+") instead of OBSERVE_CRON/CYCLE_CRON")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run one cycle as soon as the scheduler starts")
	return cmd
}

func run(ctx context.Context, interval time.Duration, runOnStart bool) error {
	log.Info().Str("network", config.Network).Str("mode", config.Mode).Msg("LP optimiser starting...")

	a, err := newApp(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialise optimiser")
		return err
	}
	defer a.Close()

	// --- Start Web Server ---
	webServer, err := web.NewWebServer(web.Config{
		Port:        config.WebPort,
		Strategies:  a.factory,
		Allocations: a.engine,
		Estimates:   a.tracker,
		Cycles:      a.store,
		Metrics:     a.metrics.Handler(),
	})
	if err != nil {
		return err
	}
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting operator API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Web server shutdown failed")
		}
	}()

	if interval > 0 {
		// Observation piggybacks on the cycle poll in loop mode
		a.optimiser.RunLoop(ctx, interval)
		return nil
	}

	sched := scheduler.NewScheduler(ctx, a.optimiser)
	if err := sched.RegisterAll(config.ObserveCron, config.CycleCron); err != nil {
		return err
	}
	sched.Start()
	if runOnStart {
		go sched.RunCycleNow()
	}

	<-ctx.Done()
	sched.Stop()
	log.Info().Msg("LP optimiser stopped")
	return nil
}
