package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fissionlink/internal/protocol"
)

var ErrSensorFault = errors.New("core: sensor fault")

// SimPlant is an in-process plant for development and tests. It
// implements both Sensors and Actuator.
type SimPlant struct {
	mu      sync.Mutex
	snap    protocol.SensorSnapshot
	rate    float64
	enabled bool
	faults  map[Field]bool
}

func NewSimPlant() *SimPlant {
	return &SimPlant{
		snap: protocol.SensorSnapshot{
			Formed:      true,
			MaxOutput:   20,
			Temperature: 300,
			CoolantFrac: 1,
			FuelFrac:    1,
		},
		faults: make(map[Field]bool),
	}
}

func (p *SimPlant) Read(_ context.Context, f Field) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.faults[f] {
		return 0, ErrSensorFault
	}
	return getField(p.snap, f), nil
}

func (p *SimPlant) SetOutputRate(_ context.Context, rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	return nil
}

func (p *SimPlant) SetEnabled(_ context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = on
	return nil
}

// Commanded returns the last rate and enable written by the core.
func (p *SimPlant) Commanded() (rate float64, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate, p.enabled
}

// Update lets tests and operators edit the plant directly.
func (p *SimPlant) Update(fn func(*protocol.SensorSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.snap)
}

// Fault makes reads of f fail until cleared.
func (p *SimPlant) Fault(f Field, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[f] = on
}

// Advance integrates the plant over dt.
func (p *SimPlant) Advance(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sec := dt.Seconds()
	s := &p.snap

	burn := 0.0
	if p.enabled && s.Formed && s.FuelFrac > 0 {
		burn = clamp(p.rate, 0, s.MaxOutput)
	}
	s.OutputRate = burn

	load := 0.0
	if s.MaxOutput > 0 {
		load = burn / s.MaxOutput
	}
	s.FuelFrac = clamp(s.FuelFrac-0.002*load*sec, 0, 1)
	s.WasteFrac = clamp(s.WasteFrac+0.002*load*sec, 0, 1)
	s.CoolantFrac = clamp(s.CoolantFrac-0.05*load*sec+0.02*sec, 0, 1)
	s.HeatedFrac = clamp(s.HeatedFrac+0.05*load*sec-0.03*sec, 0, 1)

	target := 300 + 900*load
	if s.CoolantFrac < 0.1 {
		target += 600
	}
	s.Temperature += (target - s.Temperature) * clamp(0.5*sec, 0, 1)
	if s.Temperature > 1200 {
		s.DamagePct = clamp(s.DamagePct+0.5*sec, 0, 100)
	}
}

// Run advances the plant in real time until ctx is done.
func (p *SimPlant) Run(ctx context.Context, step time.Duration) {
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Advance(step)
		}
	}
}
