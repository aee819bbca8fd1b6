package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fissionlink/internal/app"
	"github.com/fissionlink/internal/config"
	"github.com/fissionlink/internal/gate"
	"github.com/fissionlink/internal/panel"
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
		nodeID     string
		broker     string
		device     string
		baud       int
	)
	flagSet := pflag.NewFlagSet("panel", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (.toml, .yaml)")
	flagSet.StringVar(&nodeID, "node-id", "panel", "node identifier (overrides config)")
	flagSet.StringVar(&broker, "broker", "", "MQTT broker URL (overrides config)")
	flagSet.StringVar(&device, "port", "", "serial port of the panel (overrides config)")
	flagSet.IntVar(&baud, "baud", 0, "serial baud rate (overrides config)")
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
	app.ApplyNodeID(&cfg, flagSet, configPath)
	if broker != "" {
		cfg.Bus.Broker = broker
	}
	if device != "" {
		cfg.Panel.Device = device
	}
	if baud > 0 {
		cfg.Panel.Baud = baud
	}
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	log := app.Logger("panel", cfg)
	ctx, stop := app.SignalContext()
	defer stop()

	input, err := openInput(cfg.Panel, log)
	if err != nil {
		return err
	}
	defer input.Close()

	bus, err := app.OpenBus(cfg, "gate", log)
	if err != nil {
		return err
	}
	defer bus.Close()

	runner := gate.NewRunner(gate.RunnerOptions{
		NodeID:         cfg.NodeID,
		Channels:       cfg.Channels,
		RetryPeriod:    cfg.Gate.RetryPeriod.Duration,
		PendingTimeout: cfg.Gate.PendingTimeout.Duration,
	}, bus, log)
	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("gate stopped")
			stop()
		}
	}()

	return panel.New(runner, log).Run(ctx, input)
}
