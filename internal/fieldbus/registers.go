package fieldbus

import (
	"fmt"

	"github.com/fissionlink/internal/core"
)

// RegisterMap places every sensor and actuator value in a holding register.
// Readings are unsigned counts multiplied by the matching scale.
type RegisterMap struct {
	Formed      uint16 `toml:"formed" yaml:"formed"`
	OutputRate  uint16 `toml:"output_rate" yaml:"output_rate"`
	MaxOutput   uint16 `toml:"max_output" yaml:"max_output"`
	Temperature uint16 `toml:"temperature" yaml:"temperature"`
	Damage      uint16 `toml:"damage" yaml:"damage"`
	Coolant     uint16 `toml:"coolant" yaml:"coolant"`
	Waste       uint16 `toml:"waste" yaml:"waste"`
	Heated      uint16 `toml:"heated" yaml:"heated"`
	Fuel        uint16 `toml:"fuel" yaml:"fuel"`

	TargetRate uint16 `toml:"target_rate" yaml:"target_rate"`
	Enable     uint16 `toml:"enable" yaml:"enable"`

	RateScale   float64 `toml:"rate_scale" yaml:"rate_scale"`
	TempScale   float64 `toml:"temp_scale" yaml:"temp_scale"`
	DamageScale float64 `toml:"damage_scale" yaml:"damage_scale"`
	FracScale   float64 `toml:"frac_scale" yaml:"frac_scale"`
}

func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		Formed:      0,
		OutputRate:  1,
		MaxOutput:   2,
		Temperature: 3,
		Damage:      4,
		Coolant:     5,
		Waste:       6,
		Heated:      7,
		Fuel:        8,
		TargetRate:  100,
		Enable:      101,
		RateScale:   0.01,
		TempScale:   0.1,
		DamageScale: 0.01,
		FracScale:   0.001,
	}
}

// Validate performs declarative checks only.
func (m RegisterMap) Validate() error {
	scales := []struct {
		name string
		v    float64
	}{
		{"rate_scale", m.RateScale},
		{"temp_scale", m.TempScale},
		{"damage_scale", m.DamageScale},
		{"frac_scale", m.FracScale},
	}
	for _, s := range scales {
		if s.v <= 0 {
			return fmt.Errorf("%s must be positive", s.name)
		}
	}

	owner := make(map[uint16]string)
	claim := func(name string, addr uint16) error {
		if prev, ok := owner[addr]; ok {
			return fmt.Errorf("register %d used by both %s and %s", addr, prev, name)
		}
		owner[addr] = name
		return nil
	}
	for _, f := range core.AllFields {
		addr, _ := m.sensor(f)
		if err := claim(f.String(), addr); err != nil {
			return err
		}
	}
	if err := claim("target_rate", m.TargetRate); err != nil {
		return err
	}
	return claim("enable", m.Enable)
}

func (m RegisterMap) sensor(f core.Field) (addr uint16, scale float64) {
	switch f {
	case core.FieldFormed:
		return m.Formed, 1
	case core.FieldOutputRate:
		return m.OutputRate, m.RateScale
	case core.FieldMaxOutput:
		return m.MaxOutput, m.RateScale
	case core.FieldTemperature:
		return m.Temperature, m.TempScale
	case core.FieldDamage:
		return m.Damage, m.DamageScale
	case core.FieldCoolant:
		return m.Coolant, m.FracScale
	case core.FieldWaste:
		return m.Waste, m.FracScale
	case core.FieldHeated:
		return m.Heated, m.FracScale
	case core.FieldFuel:
		return m.Fuel, m.FracScale
	default:
		return 0, 1
	}
}
