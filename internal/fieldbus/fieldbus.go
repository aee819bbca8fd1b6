// Package fieldbus reaches the plant's sensors and actuator over Modbus TCP.
package fieldbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/core"
)

var ErrShortRead = errors.New("fieldbus: short register read")

// RegisterClient is the part of modbus.Client the field bus uses.
type RegisterClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
	Map      RegisterMap
}

// Bus implements core.Sensors and core.Actuator. Requests are serialized;
// one TCP connection carries everything.
type Bus struct {
	mu      sync.Mutex
	client  RegisterClient
	regs    RegisterMap
	handler *modbus.TCPClientHandler
}

var (
	_ core.Sensors  = (*Bus)(nil)
	_ core.Actuator = (*Bus)(nil)
)

// Dial opens the Modbus TCP connection. An unreachable plant is logged and
// the handler reconnects on the next request, so reads fail over to
// defaults instead of stopping the core.
func Dial(cfg Config, log zerolog.Logger) (*Bus, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("fieldbus: endpoint required")
	}
	if err := cfg.Map.Validate(); err != nil {
		return nil, fmt.Errorf("fieldbus: %w", err)
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.Endpoint).Msg("plant not reachable yet")
	}
	b := New(modbus.NewClient(h), cfg.Map)
	b.handler = h
	return b, nil
}

func New(client RegisterClient, regs RegisterMap) *Bus {
	return &Bus{client: client, regs: regs}
}

func (b *Bus) Close() error {
	if b.handler == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler.Close()
}

func (b *Bus) Read(ctx context.Context, f core.Field) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	addr, scale := b.regs.sensor(f)
	b.mu.Lock()
	raw, err := b.client.ReadHoldingRegisters(addr, 1)
	b.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read %s @%d: %w", f, addr, err)
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("read %s @%d: %w", f, addr, ErrShortRead)
	}
	v := uint16(raw[0])<<8 | uint16(raw[1])
	if f == core.FieldFormed {
		if v != 0 {
			return 1, nil
		}
		return 0, nil
	}
	return float64(v) * scale, nil
}

func (b *Bus) SetOutputRate(ctx context.Context, rate float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw := math.Round(rate / b.regs.RateScale)
	raw = math.Max(0, math.Min(raw, math.MaxUint16))
	return b.write(b.regs.TargetRate, uint16(raw))
}

func (b *Bus) SetEnabled(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var v uint16
	if on {
		v = 1
	}
	return b.write(b.regs.Enable, v)
}

func (b *Bus) write(addr, v uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.client.WriteSingleRegister(addr, v); err != nil {
		return fmt.Errorf("write @%d: %w", addr, err)
	}
	return nil
}
