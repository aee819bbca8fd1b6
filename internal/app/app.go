// Package app holds the start-up plumbing shared by the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/fissionlink/internal/config"
	"github.com/fissionlink/internal/mqttclient"
	"github.com/fissionlink/internal/observability"
	"github.com/fissionlink/internal/transport"
)

// LoadConfig reads path, or returns the defaults when path is empty.
func LoadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// ApplyNodeID sets cfg.NodeID from the --node-id flag when it was given
// on the command line. The flag's default only fills in when no config
// file was loaded, so a node_id from the file is never shadowed.
func ApplyNodeID(cfg *config.Config, flags *pflag.FlagSet, configPath string) {
	f := flags.Lookup("node-id")
	if f == nil {
		return
	}
	if f.Changed || configPath == "" {
		cfg.NodeID = f.Value.String()
	}
}

// Logger builds the process logger from the [log] section.
func Logger(name string, cfg config.Config) zerolog.Logger {
	return observability.InitLogger(name, cfg.NodeID, observability.LogOptions{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
	})
}

// OpenBus connects one MQTT client for role and wraps it as a transport.
// Every node gets its own client so inboxes stay separate. Closing the
// bus closes the client.
func OpenBus(cfg config.Config, role string, log zerolog.Logger) (*transport.MQTTBus, error) {
	node := cfg.NodeID + "-" + role
	client, err := mqttclient.New(mqttclient.Options{
		BrokerURL: cfg.Bus.Broker,
		ClientID:  fmt.Sprintf("fissionlink-%s-%d", node, time.Now().UnixNano()),
		KeepAlive: cfg.Bus.KeepAlive.Duration,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Bus.Broker, err)
	}
	return transport.NewMQTTBus(client, cfg.Bus.TopicPrefix, node, cfg.Bus.InboxSize, log), nil
}

// SignalContext is canceled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
