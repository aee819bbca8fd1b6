// Package config loads the per-node configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fissionlink/internal/core"
	"github.com/fissionlink/internal/fieldbus"
	"github.com/fissionlink/internal/protocol"
)

type Config struct {
	NodeID   string            `toml:"node_id" yaml:"node_id"`
	Bus      BusConfig         `toml:"bus" yaml:"bus"`
	Channels protocol.Channels `toml:"channels" yaml:"channels"`
	Core     CoreConfig        `toml:"core" yaml:"core"`
	Gate     GateConfig        `toml:"gate" yaml:"gate"`
	Health   HealthConfig      `toml:"health" yaml:"health"`
	Display  DisplayConfig     `toml:"display" yaml:"display"`
	Panel    PanelConfig       `toml:"panel" yaml:"panel"`
	Log      LogConfig         `toml:"log" yaml:"log"`
}

type BusConfig struct {
	Broker      string   `toml:"broker" yaml:"broker"`
	TopicPrefix string   `toml:"topic_prefix" yaml:"topic_prefix"`
	KeepAlive   Duration `toml:"keep_alive" yaml:"keep_alive"`
	InboxSize   int      `toml:"inbox_size" yaml:"inbox_size"`
}

type CoreConfig struct {
	PollPeriod      Duration        `toml:"poll_period" yaml:"poll_period"`
	HeartbeatPeriod Duration        `toml:"heartbeat_period" yaml:"heartbeat_period"`
	DedupWindow     int             `toml:"dedup_window" yaml:"dedup_window"`
	Thresholds      core.Thresholds `toml:"thresholds" yaml:"thresholds"`
	Modbus          ModbusConfig    `toml:"modbus" yaml:"modbus"`
}

type ModbusConfig struct {
	Endpoint  string               `toml:"endpoint" yaml:"endpoint"`
	UnitID    uint8                `toml:"unit_id" yaml:"unit_id"`
	Timeout   Duration             `toml:"timeout" yaml:"timeout"`
	Registers fieldbus.RegisterMap `toml:"registers" yaml:"registers"`
}

type GateConfig struct {
	RetryPeriod    Duration `toml:"retry_period" yaml:"retry_period"`
	PendingTimeout Duration `toml:"pending_timeout" yaml:"pending_timeout"`
}

type HealthConfig struct {
	CheckPeriod      Duration `toml:"check_period" yaml:"check_period"`
	HeartbeatTimeout Duration `toml:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	StatusTimeout    Duration `toml:"status_timeout" yaml:"status_timeout"`
	GracePeriod      Duration `toml:"grace_period" yaml:"grace_period"`
	HitsToAlive      int      `toml:"hits_to_alive" yaml:"hits_to_alive"`
	MissesToDead     int      `toml:"misses_to_dead" yaml:"misses_to_dead"`
	BlinkPeriod      Duration `toml:"blink_period" yaml:"blink_period"`
}

type DisplayConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

type PanelConfig struct {
	Device string `toml:"device" yaml:"device"`
	Baud   int    `toml:"baud" yaml:"baud"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	JSON  bool   `toml:"json" yaml:"json"`
}

func Default() Config {
	return Config{
		NodeID: "node-1",
		Bus: BusConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "fissionlink",
			KeepAlive:   D(30 * time.Second),
			InboxSize:   256,
		},
		Channels: protocol.DefaultChannels(),
		Core: CoreConfig{
			PollPeriod:      D(200 * time.Millisecond),
			HeartbeatPeriod: D(time.Second),
			DedupWindow:     256,
			Thresholds:      core.DefaultThresholds(),
			Modbus: ModbusConfig{
				Endpoint:  "localhost:502",
				UnitID:    1,
				Timeout:   D(time.Second),
				Registers: fieldbus.DefaultRegisterMap(),
			},
		},
		Gate: GateConfig{
			RetryPeriod:    D(500 * time.Millisecond),
			PendingTimeout: D(5 * time.Second),
		},
		Health: HealthConfig{
			CheckPeriod:      D(500 * time.Millisecond),
			HeartbeatTimeout: D(3 * time.Second),
			StatusTimeout:    D(3 * time.Second),
			GracePeriod:      D(5 * time.Second),
			HitsToAlive:      2,
			MissesToDead:     3,
			BlinkPeriod:      D(400 * time.Millisecond),
		},
		Display: DisplayConfig{
			Listen: ":8080",
		},
		Panel: PanelConfig{
			Device: "/dev/ttyUSB0",
			Baud:   115200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over Default(). The format follows the file extension:
// .toml, or .yaml/.yml.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
		if meta.IsDefined("node_id") {
			cfg.NodeID = strings.TrimSpace(cfg.NodeID)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.NodeID = strings.TrimSpace(cfg.NodeID)
	default:
		return Config{}, fmt.Errorf("load config %s: %w", path, ErrUnknownFormat)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
