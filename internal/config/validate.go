package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid")
)

// Validate checks configuration correctness.
// It performs declarative validation only and never mutates cfg.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return fmt.Errorf("%w: node_id is required", ErrInvalid)
	}
	if cfg.Bus.TopicPrefix == "" {
		return fmt.Errorf("%w: bus.topic_prefix is required", ErrInvalid)
	}
	if cfg.Bus.InboxSize <= 0 {
		return fmt.Errorf("%w: bus.inbox_size must be positive", ErrInvalid)
	}

	ch := cfg.Channels
	if ch.Command == ch.Reply || ch.Command == ch.Panel || ch.Reply == ch.Panel {
		return fmt.Errorf("%w: channels must be distinct (command=%d reply=%d panel=%d)",
			ErrInvalid, ch.Command, ch.Reply, ch.Panel)
	}

	positive := []struct {
		name string
		d    Duration
	}{
		{"core.poll_period", cfg.Core.PollPeriod},
		{"core.heartbeat_period", cfg.Core.HeartbeatPeriod},
		{"gate.retry_period", cfg.Gate.RetryPeriod},
		{"gate.pending_timeout", cfg.Gate.PendingTimeout},
		{"health.check_period", cfg.Health.CheckPeriod},
		{"health.heartbeat_timeout", cfg.Health.HeartbeatTimeout},
		{"health.status_timeout", cfg.Health.StatusTimeout},
		{"health.blink_period", cfg.Health.BlinkPeriod},
	}
	for _, p := range positive {
		if p.d.Duration <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, p.name)
		}
	}
	if cfg.Health.GracePeriod.Duration < 0 {
		return fmt.Errorf("%w: health.grace_period must not be negative", ErrInvalid)
	}

	if cfg.Gate.RetryPeriod.Duration >= cfg.Gate.PendingTimeout.Duration {
		return fmt.Errorf("%w: gate.retry_period (%s) must be shorter than gate.pending_timeout (%s)",
			ErrInvalid, cfg.Gate.RetryPeriod, cfg.Gate.PendingTimeout)
	}
	if cfg.Core.DedupWindow <= 0 {
		return fmt.Errorf("%w: core.dedup_window must be positive", ErrInvalid)
	}
	if cfg.Health.HitsToAlive < 1 || cfg.Health.MissesToDead < 1 {
		return fmt.Errorf("%w: health.hits_to_alive and health.misses_to_dead must be at least 1", ErrInvalid)
	}

	if err := cfg.Core.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: core.thresholds: %v", ErrInvalid, err)
	}
	if err := cfg.Core.Modbus.Registers.Validate(); err != nil {
		return fmt.Errorf("%w: core.modbus.registers: %v", ErrInvalid, err)
	}
	if cfg.Panel.Baud <= 0 {
		return fmt.Errorf("%w: panel.baud must be positive", ErrInvalid)
	}
	return nil
}
