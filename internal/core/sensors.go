package core

import (
	"context"
	"fmt"

	"github.com/fissionlink/internal/protocol"
)

// Field identifies one sensor reading.
type Field uint8

const (
	FieldFormed Field = iota
	FieldOutputRate
	FieldMaxOutput
	FieldTemperature
	FieldDamage
	FieldCoolant
	FieldWaste
	FieldHeated
	FieldFuel
)

var AllFields = []Field{
	FieldFormed,
	FieldOutputRate,
	FieldMaxOutput,
	FieldTemperature,
	FieldDamage,
	FieldCoolant,
	FieldWaste,
	FieldHeated,
	FieldFuel,
}

func (f Field) String() string {
	switch f {
	case FieldFormed:
		return "formed"
	case FieldOutputRate:
		return "output_rate"
	case FieldMaxOutput:
		return "max_output"
	case FieldTemperature:
		return "temperature"
	case FieldDamage:
		return "damage_pct"
	case FieldCoolant:
		return "coolant_frac"
	case FieldWaste:
		return "waste_frac"
	case FieldHeated:
		return "heated_frac"
	case FieldFuel:
		return "fuel_frac"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// Sensors reads the plant one field at a time. Formed is reported as 1 or 0.
type Sensors interface {
	Read(ctx context.Context, f Field) (float64, error)
}

// Actuator drives the plant.
type Actuator interface {
	SetOutputRate(ctx context.Context, rate float64) error
	SetEnabled(ctx context.Context, on bool) error
}

// ReadSnapshot reads every field. A failed field keeps its zero value
// (not formed, 0) and is listed in failed; the snapshot is always usable.
func ReadSnapshot(ctx context.Context, s Sensors) (snap protocol.SensorSnapshot, failed []Field) {
	for _, f := range AllFields {
		v, err := s.Read(ctx, f)
		if err != nil {
			failed = append(failed, f)
			continue
		}
		setField(&snap, f, v)
	}
	return snap, failed
}

func setField(s *protocol.SensorSnapshot, f Field, v float64) {
	switch f {
	case FieldFormed:
		s.Formed = v != 0
	case FieldOutputRate:
		s.OutputRate = v
	case FieldMaxOutput:
		s.MaxOutput = v
	case FieldTemperature:
		s.Temperature = v
	case FieldDamage:
		s.DamagePct = v
	case FieldCoolant:
		s.CoolantFrac = v
	case FieldWaste:
		s.WasteFrac = v
	case FieldHeated:
		s.HeatedFrac = v
	case FieldFuel:
		s.FuelFrac = v
	}
}

func getField(s protocol.SensorSnapshot, f Field) float64 {
	switch f {
	case FieldFormed:
		if s.Formed {
			return 1
		}
		return 0
	case FieldOutputRate:
		return s.OutputRate
	case FieldMaxOutput:
		return s.MaxOutput
	case FieldTemperature:
		return s.Temperature
	case FieldDamage:
		return s.DamagePct
	case FieldCoolant:
		return s.CoolantFrac
	case FieldWaste:
		return s.WasteFrac
	case FieldHeated:
		return s.HeatedFrac
	case FieldFuel:
		return s.FuelFrac
	default:
		return 0
	}
}
