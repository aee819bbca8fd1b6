// Package protocol defines the wire contract shared by every node on the
// reactor bus: logical channels, the closed set of message variants, and
// the envelope codec.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Channel is a logical broadcast address on the shared bus.
type Channel uint16

// Channels names the three logical channels a deployment uses.
type Channels struct {
	Command Channel `toml:"command" yaml:"command"`
	Reply   Channel `toml:"reply" yaml:"reply"`
	Panel   Channel `toml:"panel" yaml:"panel"`
}

// DefaultChannels returns the channel numbers used when none are configured.
func DefaultChannels() Channels {
	return Channels{
		Command: 100,
		Reply:   101,
		Panel:   102,
	}
}

// CommandKind is the closed set of operations a node may ask the core for.
type CommandKind uint8

const (
	KindPowerOn CommandKind = iota + 1
	KindPowerOff
	KindScram
	KindClearScram
	KindSetTargetLevel
	KindSetSafetyEnabled
	KindRequestStatus
)

// AllKinds lists every CommandKind. Switches over CommandKind are tested
// against this list so a new kind cannot be added silently.
var AllKinds = []CommandKind{
	KindPowerOn,
	KindPowerOff,
	KindScram,
	KindClearScram,
	KindSetTargetLevel,
	KindSetSafetyEnabled,
	KindRequestStatus,
}

var ErrUnknownKind = errors.New("protocol: unknown command kind")

func (k CommandKind) String() string {
	switch k {
	case KindPowerOn:
		return "power_on"
	case KindPowerOff:
		return "power_off"
	case KindScram:
		return "scram"
	case KindClearScram:
		return "clear_scram"
	case KindSetTargetLevel:
		return "set_target_level"
	case KindSetSafetyEnabled:
		return "set_safety_enabled"
	case KindRequestStatus:
		return "request_status"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of AllKinds.
func (k CommandKind) Valid() bool {
	return k >= KindPowerOn && k <= KindRequestStatus
}

// Analog reports whether the command carries a value that is authoritative
// on its own (idempotent by value rather than by event).
func (k CommandKind) Analog() bool {
	return k == KindSetTargetLevel
}

// ParseKind maps a wire name back to its CommandKind.
func ParseKind(s string) (CommandKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k CommandKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *CommandKind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MessageType tags the variant carried by an Envelope.
type MessageType string

const (
	TypeCommand   MessageType = "command"
	TypeStatus    MessageType = "status"
	TypePanel     MessageType = "panel"
	TypeHeartbeat MessageType = "heartbeat"
)

// Message is implemented by every wire variant.
type Message interface {
	MessageType() MessageType
}

// Command asks the core to change state. ID is the deduplication key.
type Command struct {
	Kind   CommandKind `cbor:"kind" json:"kind"`
	ID     string      `cbor:"id" json:"id"`
	Level  *float64    `cbor:"level,omitempty" json:"level,omitempty"`
	Enable *bool       `cbor:"enable,omitempty" json:"enable,omitempty"`
	Issuer string      `cbor:"issuer,omitempty" json:"issuer,omitempty"`
}

func (Command) MessageType() MessageType { return TypeCommand }

var ErrInvalidCommand = errors.New("protocol: invalid command")

// Validate enforces the payload required by each kind.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, uint8(c.Kind))
	}
	if c.Kind != KindRequestStatus && strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: %s missing id", ErrInvalidCommand, c.Kind)
	}
	switch c.Kind {
	case KindSetTargetLevel:
		if c.Level == nil {
			return fmt.Errorf("%w: %s missing level", ErrInvalidCommand, c.Kind)
		}
		if !FiniteLevel(*c.Level) {
			return fmt.Errorf("%w: %s level %v", ErrInvalidCommand, c.Kind, *c.Level)
		}
	case KindSetSafetyEnabled:
		if c.Enable == nil {
			return fmt.Errorf("%w: %s missing enable flag", ErrInvalidCommand, c.Kind)
		}
	case KindPowerOn, KindPowerOff, KindScram, KindClearScram, KindRequestStatus:
	}
	return nil
}

// FiniteLevel reports whether v can be used as a target level.
func FiniteLevel(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c Command) String() string {
	switch {
	case c.Level != nil:
		return fmt.Sprintf("%s(%g)#%s", c.Kind, *c.Level, c.ID)
	case c.Enable != nil:
		return fmt.Sprintf("%s(%t)#%s", c.Kind, *c.Enable, c.ID)
	default:
		return fmt.Sprintf("%s#%s", c.Kind, c.ID)
	}
}

// TripCause records why the scram latch was set.
type TripCause string

const (
	TripNone    TripCause = ""
	TripManual  TripCause = "manual"
	TripDamage  TripCause = "damage"
	TripCoolant TripCause = "coolant_low"
	TripWaste   TripCause = "waste_high"
	TripHeated  TripCause = "heated_coolant_high"
)

// Automatic reports whether the trip came from an interlock.
func (c TripCause) Automatic() bool {
	return c != TripNone && c != TripManual
}

// SensorSnapshot is one complete reading of the plant.
type SensorSnapshot struct {
	Formed      bool    `cbor:"formed" json:"formed"`
	OutputRate  float64 `cbor:"output_rate" json:"output_rate"`
	MaxOutput   float64 `cbor:"max_output" json:"max_output"`
	Temperature float64 `cbor:"temperature" json:"temperature"`
	DamagePct   float64 `cbor:"damage_pct" json:"damage_pct"`
	CoolantFrac float64 `cbor:"coolant_frac" json:"coolant_frac"`
	WasteFrac   float64 `cbor:"waste_frac" json:"waste_frac"`
	HeatedFrac  float64 `cbor:"heated_frac" json:"heated_frac"`
	FuelFrac    float64 `cbor:"fuel_frac" json:"fuel_frac"`
}

// StatusFrame is a full snapshot of the core's authoritative state. Boot
// identifies the core process and Seq orders frames within it.
type StatusFrame struct {
	Boot          int64          `cbor:"boot" json:"boot"`
	Seq           uint64         `cbor:"seq" json:"seq"`
	PoweredOn     bool           `cbor:"powered_on" json:"powered_on"`
	ScramLatched  bool           `cbor:"scram_latched" json:"scram_latched"`
	SafetyEnabled bool           `cbor:"safety_enabled" json:"safety_enabled"`
	TargetLevel   float64        `cbor:"target_level" json:"target_level"`
	StatusOK      bool           `cbor:"status_ok" json:"status_ok"`
	TripCause     TripCause      `cbor:"trip_cause,omitempty" json:"trip_cause,omitempty"`
	Sensors       SensorSnapshot `cbor:"sensors" json:"sensors"`
}

func (StatusFrame) MessageType() MessageType { return TypeStatus }

// PanelFrame is the display-oriented projection of a StatusFrame. Only the
// core computes it.
type PanelFrame struct {
	StatusOK        bool `cbor:"status_ok" json:"status_ok"`
	Formed          bool `cbor:"formed" json:"formed"`
	ActuallyRunning bool `cbor:"actually_running" json:"actually_running"`
	Trip            bool `cbor:"trip" json:"trip"`
	ManualTrip      bool `cbor:"manual_trip" json:"manual_trip"`
	AutoTrip        bool `cbor:"auto_trip" json:"auto_trip"`
	HiDamage        bool `cbor:"hi_damage" json:"hi_damage"`
	HiTemp          bool `cbor:"hi_temp" json:"hi_temp"`
	LoFuel          bool `cbor:"lo_fuel" json:"lo_fuel"`
	HiWaste         bool `cbor:"hi_waste" json:"hi_waste"`
	LoCoolant       bool `cbor:"lo_coolant" json:"lo_coolant"`
	HiHeatedCoolant bool `cbor:"hi_heated_coolant" json:"hi_heated_coolant"`
}

func (PanelFrame) MessageType() MessageType { return TypePanel }

// Heartbeat is a liveness beacon emitted on a fixed period.
type Heartbeat struct {
	TimestampMS int64 `cbor:"timestamp_ms" json:"timestamp_ms"`
}

func (Heartbeat) MessageType() MessageType { return TypeHeartbeat }
