// Package core is the reactor's single source of truth: it applies
// commands, runs the control law and interlocks on every poll, and
// publishes status for the rest of the bus.
package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/protocol"
)

type Phase uint8

const (
	PhaseStopped Phase = iota
	PhaseRunning
	PhaseScrammed
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseRunning:
		return "running"
	case PhaseScrammed:
		return "scrammed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// State is the authoritative reactor state.
type State struct {
	PoweredOn     bool
	ScramLatched  bool
	SafetyEnabled bool
	TargetLevel   float64
	TripCause     protocol.TripCause
	Sensors       protocol.SensorSnapshot
}

func InitialState() State {
	return State{SafetyEnabled: true}
}

func (s State) Phase() Phase {
	switch {
	case s.ScramLatched:
		return PhaseScrammed
	case s.PoweredOn:
		return PhaseRunning
	default:
		return PhaseStopped
	}
}

// Result describes what Apply did with a command.
type Result uint8

const (
	ResultApplied Result = iota
	ResultUnchanged
	ResultDuplicate
	ResultIgnored
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUnchanged:
		return "unchanged"
	case ResultDuplicate:
		return "duplicate"
	case ResultIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Reactor owns the state, the actuator and the trip one-shot. It is not
// safe for concurrent use; Node serializes access.
type Reactor struct {
	state      State
	thresholds Thresholds
	actuator   Actuator
	seen       *recentIDs
	boot       int64
	seq        uint64
	// zeroed is the one-shot: set once the stop/trip zeroing has been
	// applied, re-armed only while Running.
	zeroed  bool
	applied float64
	log     zerolog.Logger
}

func NewReactor(th Thresholds, act Actuator, dedupWindow int, log zerolog.Logger) *Reactor {
	return &Reactor{
		state:      InitialState(),
		thresholds: th,
		actuator:   act,
		seen:       newRecentIDs(dedupWindow),
		boot:       time.Now().UnixNano(),
		log:        log,
	}
}

func (r *Reactor) State() State {
	return r.state
}

// Applied is the output level last commanded to the actuator.
func (r *Reactor) Applied() float64 {
	return r.applied
}

// Apply mutates state for one command. A command id already applied is
// reported as a duplicate and has no effect.
func (r *Reactor) Apply(ctx context.Context, cmd protocol.Command) Result {
	if cmd.Kind == protocol.KindRequestStatus {
		return ResultUnchanged
	}
	if r.seen.contains(cmd.ID) {
		return ResultDuplicate
	}
	r.seen.add(cmd.ID)

	s := &r.state
	switch cmd.Kind {
	case protocol.KindPowerOn:
		if s.ScramLatched {
			return ResultIgnored
		}
		if s.PoweredOn {
			return ResultUnchanged
		}
		s.PoweredOn = true
	case protocol.KindPowerOff:
		if !s.PoweredOn {
			return ResultUnchanged
		}
		s.PoweredOn = false
	case protocol.KindScram:
		if s.ScramLatched {
			if !r.zeroed {
				r.zeroed = r.zero(ctx)
			}
			return ResultUnchanged
		}
		r.trip(ctx, protocol.TripManual)
	case protocol.KindClearScram:
		if !s.ScramLatched {
			return ResultUnchanged
		}
		s.ScramLatched = false
		s.TripCause = protocol.TripNone
	case protocol.KindSetTargetLevel:
		if !protocol.FiniteLevel(*cmd.Level) {
			return ResultIgnored
		}
		if *cmd.Level == s.TargetLevel {
			return ResultUnchanged
		}
		s.TargetLevel = *cmd.Level
	case protocol.KindSetSafetyEnabled:
		if *cmd.Enable == s.SafetyEnabled {
			return ResultUnchanged
		}
		s.SafetyEnabled = *cmd.Enable
	case protocol.KindRequestStatus:
	}
	return ResultApplied
}

// trip latches scram and zeroes the actuator unconditionally. The first
// cause of an episode is kept.
func (r *Reactor) trip(ctx context.Context, cause protocol.TripCause) {
	if !r.state.ScramLatched {
		r.state.TripCause = cause
	}
	r.state.ScramLatched = true
	r.state.PoweredOn = false
	r.zeroed = r.zero(ctx)
}

func (r *Reactor) zero(ctx context.Context) bool {
	r.applied = 0
	ok := true
	if err := r.actuator.SetOutputRate(ctx, 0); err != nil {
		r.log.Error().Err(err).Msg("zero output rate")
		ok = false
	}
	if err := r.actuator.SetEnabled(ctx, false); err != nil {
		r.log.Error().Err(err).Msg("disable actuator")
		ok = false
	}
	return ok
}

// Tick runs the control law against a fresh snapshot. It returns the cause
// when this tick tripped an interlock.
func (r *Reactor) Tick(ctx context.Context, snap protocol.SensorSnapshot) protocol.TripCause {
	r.state.Sensors = snap
	s := &r.state

	if s.ScramLatched || !s.PoweredOn {
		if !r.zeroed {
			r.zeroed = r.zero(ctx)
		}
		return protocol.TripNone
	}
	r.zeroed = false

	if s.SafetyEnabled {
		if cause := r.thresholds.Interlock(snap); cause != protocol.TripNone {
			r.trip(ctx, cause)
			return cause
		}
	}

	level := clamp(s.TargetLevel, 0, snap.MaxOutput)
	r.applied = level
	if err := r.actuator.SetOutputRate(ctx, level); err != nil {
		r.log.Error().Err(err).Float64("level", level).Msg("set output rate")
	}
	if err := r.actuator.SetEnabled(ctx, level > 0); err != nil {
		r.log.Error().Err(err).Msg("set actuator enable")
	}
	return protocol.TripNone
}

// Status snapshots the state. Each call takes a new sequence number.
func (r *Reactor) Status() protocol.StatusFrame {
	r.seq++
	s := r.state
	return protocol.StatusFrame{
		Boot:          r.boot,
		Seq:           r.seq,
		PoweredOn:     s.PoweredOn,
		ScramLatched:  s.ScramLatched,
		SafetyEnabled: s.SafetyEnabled,
		TargetLevel:   s.TargetLevel,
		StatusOK:      r.statusOK(),
		TripCause:     s.TripCause,
		Sensors:       s.Sensors,
	}
}

func (r *Reactor) Panel() protocol.PanelFrame {
	s := r.state
	p := protocol.PanelFrame{
		StatusOK:        r.statusOK(),
		Formed:          s.Sensors.Formed,
		ActuallyRunning: s.Sensors.Formed && s.PoweredOn && s.Sensors.OutputRate > 0,
		Trip:            s.ScramLatched,
		ManualTrip:      s.ScramLatched && s.TripCause == protocol.TripManual,
		AutoTrip:        s.ScramLatched && s.TripCause.Automatic(),
	}
	r.thresholds.Alarms(s.Sensors, &p)
	return p
}

func (r *Reactor) statusOK() bool {
	s := r.state
	if !s.Sensors.Formed || s.ScramLatched {
		return false
	}
	var p protocol.PanelFrame
	r.thresholds.Alarms(s.Sensors, &p)
	return !(p.HiDamage || p.HiTemp || p.LoFuel || p.HiWaste || p.LoCoolant || p.HiHeatedCoolant)
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// recentIDs remembers the last n command ids in insertion order.
type recentIDs struct {
	ring []string
	next int
	set  map[string]struct{}
}

func newRecentIDs(n int) *recentIDs {
	if n <= 0 {
		n = 256
	}
	return &recentIDs{
		ring: make([]string, n),
		set:  make(map[string]struct{}, n),
	}
}

func (r *recentIDs) contains(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *recentIDs) add(id string) {
	if old := r.ring[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ring[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}
