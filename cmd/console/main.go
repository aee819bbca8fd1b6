package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/fissionlink/internal/app"
	"github.com/fissionlink/internal/config"
	"github.com/fissionlink/internal/console"
	"github.com/fissionlink/internal/gate"
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
		nodeID     string
		broker     string
		logOutput  string
	)
	flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (.toml, .yaml)")
	flagSet.StringVar(&nodeID, "node-id", "console", "node identifier (overrides config)")
	flagSet.StringVar(&broker, "broker", "", "MQTT broker URL (overrides config)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (the terminal belongs to the UI)")
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
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	log := zerolog.Nop()
	if logOutput != "" {
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log output: %w", err)
		}
		defer f.Close()
		log = observability.InitLogger("console", cfg.NodeID, observability.LogOptions{
			Level: cfg.Log.Level,
			JSON:  true,
			Out:   f,
		})
	}

	ctx, stop := app.SignalContext()
	defer stop()

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
	runnerCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()
	go func() {
		if err := runner.Run(runnerCtx); err != nil {
			log.Error().Err(err).Msg("gate stopped")
		}
	}()

	c := console.New(runner, cfg.Gate.PendingTimeout.Duration*2)
	program := tea.NewProgram(console.NewModel(ctx, c, runner.Updates()), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
