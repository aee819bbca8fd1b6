package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/fissionlink/internal/app"
	"github.com/fissionlink/internal/config"
	"github.com/fissionlink/internal/core"
	"github.com/fissionlink/internal/display"
	"github.com/fissionlink/internal/fieldbus"
	"github.com/fissionlink/internal/health"
	"github.com/fissionlink/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		mode       string
		nodeID     string
		broker     string
		listen     string
		sim        bool
	)
	flagSet := pflag.NewFlagSet("fissiond", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (.toml, .yaml)")
	flagSet.StringVar(&mode, "mode", "all", "mode: core | display | all")
	flagSet.StringVar(&nodeID, "node-id", "", "node identifier (overrides config)")
	flagSet.StringVar(&broker, "broker", "", "MQTT broker URL (overrides config)")
	flagSet.StringVar(&listen, "listen", "", "display HTTP address (overrides config)")
	flagSet.BoolVar(&sim, "sim", false, "drive a simulated plant instead of Modbus")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if broker != "" {
		cfg.Bus.Broker = broker
	}
	if listen != "" {
		cfg.Display.Listen = listen
	}
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	runCore, runDisplay := false, false
	switch mode {
	case "core":
		runCore = true
	case "display":
		runDisplay = true
	case "all":
		runCore, runDisplay = true, true
	default:
		return fmt.Errorf("unknown mode %q (must be: core, display, or all)", mode)
	}

	log := app.Logger("fissiond", cfg)
	observability.RegisterMetrics()
	log.Info().Str("mode", mode).Str("broker", cfg.Bus.Broker).Bool("sim", sim).Msg("starting")

	ctx, stop := app.SignalContext()
	defer stop()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	if runCore {
		if err := startCore(ctx, cfg, sim, log, start); err != nil {
			return err
		}
	}
	if runDisplay {
		if err := startDisplay(cfg, log, start); err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
	close(errs)
	return <-errs
}

type starter func(name string, fn func(context.Context) error)

func startCore(ctx context.Context, cfg config.Config, sim bool, log zerolog.Logger, start starter) error {
	var (
		sensors core.Sensors
		act     core.Actuator
	)
	if sim {
		plant := core.NewSimPlant()
		sensors, act = plant, plant
		go plant.Run(ctx, 100*time.Millisecond)
	} else {
		m := cfg.Core.Modbus
		bus, err := fieldbus.Dial(fieldbus.Config{
			Endpoint: m.Endpoint,
			UnitID:   m.UnitID,
			Timeout:  m.Timeout.Duration,
			Map:      m.Registers,
		}, log)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			bus.Close()
		}()
		sensors, act = bus, bus
	}

	bus, err := app.OpenBus(cfg, "core", log)
	if err != nil {
		return err
	}
	node := core.NewNode(core.Options{
		NodeID:          cfg.NodeID,
		Channels:        cfg.Channels,
		PollPeriod:      cfg.Core.PollPeriod.Duration,
		HeartbeatPeriod: cfg.Core.HeartbeatPeriod.Duration,
		DedupWindow:     cfg.Core.DedupWindow,
		Thresholds:      cfg.Core.Thresholds,
	}, bus, sensors, act, log)

	start("core", func(ctx context.Context) error {
		defer bus.Close()
		return node.Run(ctx)
	})
	return nil
}

func startDisplay(cfg config.Config, log zerolog.Logger, start starter) error {
	bus, err := app.OpenBus(cfg, "display", log)
	if err != nil {
		return err
	}
	h := cfg.Health
	hub := display.NewHub(log)
	node := display.NewNode(display.Options{
		NodeID:      cfg.NodeID,
		Channels:    cfg.Channels,
		CheckPeriod: h.CheckPeriod.Duration,
		BlinkPeriod: h.BlinkPeriod.Duration,
		Health: health.Config{
			HeartbeatTimeout: h.HeartbeatTimeout.Duration,
			StatusTimeout:    h.StatusTimeout.Duration,
			GracePeriod:      h.GracePeriod.Duration,
			HitsToAlive:      h.HitsToAlive,
			MissesToDead:     h.MissesToDead,
		},
	}, bus, hub, log)

	srv := &http.Server{
		Addr:              cfg.Display.Listen,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	start("hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	start("display", func(ctx context.Context) error {
		defer bus.Close()
		return node.Run(ctx)
	})
	start("http", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", srv.Addr).Msg("display HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}
