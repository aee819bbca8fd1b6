package core

import (
	"fmt"

	"github.com/fissionlink/internal/protocol"
)

// Thresholds are the interlock and alarm limits. Fractions are in [0,1].
type Thresholds struct {
	MaxDamagePct   float64 `toml:"max_damage_pct" yaml:"max_damage_pct"`
	MinCoolantFrac float64 `toml:"min_coolant_frac" yaml:"min_coolant_frac"`
	MaxWasteFrac   float64 `toml:"max_waste_frac" yaml:"max_waste_frac"`
	MaxHeatedFrac  float64 `toml:"max_heated_frac" yaml:"max_heated_frac"`
	HighTemp       float64 `toml:"high_temp" yaml:"high_temp"`
	LowFuelFrac    float64 `toml:"low_fuel_frac" yaml:"low_fuel_frac"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDamagePct:   5,
		MinCoolantFrac: 0.2,
		MaxWasteFrac:   0.8,
		MaxHeatedFrac:  0.8,
		HighTemp:       1000,
		LowFuelFrac:    0.1,
	}
}

func (t Thresholds) Validate() error {
	fracs := []struct {
		name string
		v    float64
	}{
		{"min_coolant_frac", t.MinCoolantFrac},
		{"max_waste_frac", t.MaxWasteFrac},
		{"max_heated_frac", t.MaxHeatedFrac},
		{"low_fuel_frac", t.LowFuelFrac},
	}
	for _, f := range fracs {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", f.name, f.v)
		}
	}
	if t.MaxDamagePct < 0 || t.MaxDamagePct > 100 {
		return fmt.Errorf("max_damage_pct must be within [0,100], got %v", t.MaxDamagePct)
	}
	if t.HighTemp <= 0 {
		return fmt.Errorf("high_temp must be positive, got %v", t.HighTemp)
	}
	return nil
}

// Interlock returns the first violated interlock in priority order
// damage, coolant, waste, heated coolant. TripNone means all clear.
func (t Thresholds) Interlock(s protocol.SensorSnapshot) protocol.TripCause {
	switch {
	case s.DamagePct > t.MaxDamagePct:
		return protocol.TripDamage
	case s.CoolantFrac < t.MinCoolantFrac:
		return protocol.TripCoolant
	case s.WasteFrac > t.MaxWasteFrac:
		return protocol.TripWaste
	case s.HeatedFrac > t.MaxHeatedFrac:
		return protocol.TripHeated
	default:
		return protocol.TripNone
	}
}

// Alarms fills the alarm flags of a PanelFrame.
func (t Thresholds) Alarms(s protocol.SensorSnapshot, p *protocol.PanelFrame) {
	p.HiDamage = s.DamagePct > t.MaxDamagePct
	p.HiTemp = s.Temperature > t.HighTemp
	p.LoFuel = s.FuelFrac < t.LowFuelFrac
	p.HiWaste = s.WasteFrac > t.MaxWasteFrac
	p.LoCoolant = s.CoolantFrac < t.MinCoolantFrac
	p.HiHeatedCoolant = s.HeatedFrac > t.MaxHeatedFrac
}
