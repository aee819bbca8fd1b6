// Package gate turns operator intent into commands on a lossy bus. It
// keeps at most one discrete command in flight, retransmits it under the
// same id, and resolves it by watching status frames for the effect.
package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fissionlink/internal/protocol"
)

var ErrInvalidRequest = errors.New("gate: invalid request")

type Outcome uint8

const (
	// OutcomePending means the command was transmitted and awaits its effect.
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeAlreadySatisfied
	OutcomeBusy
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAlreadySatisfied:
		return "already_satisfied"
	case OutcomeBusy:
		return "busy"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Final reports whether o ends a command's life.
func (o Outcome) Final() bool {
	return o != OutcomePending
}

// Request is what an input source asks for. Issue fills in the id.
type Request struct {
	Kind   protocol.CommandKind
	Level  *float64
	Enable *bool
}

func PowerOn() Request    { return Request{Kind: protocol.KindPowerOn} }
func PowerOff() Request   { return Request{Kind: protocol.KindPowerOff} }
func Scram() Request      { return Request{Kind: protocol.KindScram} }
func ClearScram() Request { return Request{Kind: protocol.KindClearScram} }

func SetLevel(v float64) Request {
	return Request{Kind: protocol.KindSetTargetLevel, Level: &v}
}

func SetSafety(on bool) Request {
	return Request{Kind: protocol.KindSetSafetyEnabled, Enable: &on}
}

func (r Request) Validate() error {
	switch r.Kind {
	case protocol.KindPowerOn, protocol.KindPowerOff, protocol.KindScram, protocol.KindClearScram:
		return nil
	case protocol.KindSetTargetLevel:
		if r.Level == nil {
			return fmt.Errorf("%w: %s needs a level", ErrInvalidRequest, r.Kind)
		}
		if !protocol.FiniteLevel(*r.Level) {
			return fmt.Errorf("%w: %s level %v", ErrInvalidRequest, r.Kind, *r.Level)
		}
		return nil
	case protocol.KindSetSafetyEnabled:
		if r.Enable == nil {
			return fmt.Errorf("%w: %s needs a flag", ErrInvalidRequest, r.Kind)
		}
		return nil
	case protocol.KindRequestStatus:
		return fmt.Errorf("%w: request_status is not gated", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, r.Kind)
	}
}

// Result is the gate's answer. For OutcomeBusy, Command is the command
// already in flight.
type Result struct {
	Outcome Outcome
	Command protocol.Command
	// Superseded names the analog command this one replaced, if any.
	Superseded string
}

// Pending is a transmitted command awaiting confirmation.
type Pending struct {
	Command     protocol.Command
	IssuedAt    time.Time
	LastRetryAt time.Time
}

// Transmitter puts a command on the bus. Errors are not fatal; the retry
// tick transmits again.
type Transmitter interface {
	Transmit(cmd protocol.Command) error
}

type Options struct {
	Issuer         string
	PendingTimeout time.Duration
	NewID          func() string
}

// Gate is the pure command state machine. It is not safe for concurrent
// use; Runner owns one.
type Gate struct {
	opts      Options
	tx        Transmitter
	onResolve func(Result)

	order   protocol.StatusOrder
	last    *protocol.StatusFrame
	pending *Pending
	analog  *Pending
}

// New returns a Gate. onResolve is called synchronously with the final
// result of every transmitted command.
func New(opts Options, tx Transmitter, onResolve func(Result)) *Gate {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if onResolve == nil {
		onResolve = func(Result) {}
	}
	return &Gate{opts: opts, tx: tx, onResolve: onResolve}
}

func (g *Gate) Issue(now time.Time, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	cmd := protocol.Command{
		Kind:   req.Kind,
		Level:  req.Level,
		Enable: req.Enable,
		Issuer: g.opts.Issuer,
	}

	g.Expire(now)

	if g.last != nil && Satisfied(cmd, *g.last) {
		return Result{Outcome: OutcomeAlreadySatisfied, Command: cmd}, nil
	}
	analog := req.Kind.Analog()
	if !analog && g.pending != nil {
		return Result{Outcome: OutcomeBusy, Command: g.pending.Command}, nil
	}

	cmd.ID = g.opts.NewID()
	p := &Pending{Command: cmd, IssuedAt: now, LastRetryAt: now}
	res := Result{Outcome: OutcomePending, Command: cmd}
	if analog {
		if g.analog != nil {
			res.Superseded = g.analog.Command.ID
		}
		g.analog = p
	} else {
		g.pending = p
	}
	g.transmit(cmd)
	g.RequestStatus()
	return res, nil
}

// RequestStatus asks the core for a fresh StatusFrame.
func (g *Gate) RequestStatus() {
	g.transmit(protocol.Command{
		Kind:   protocol.KindRequestStatus,
		ID:     g.opts.NewID(),
		Issuer: g.opts.Issuer,
	})
}

func (g *Gate) transmit(cmd protocol.Command) {
	// Loss is handled by Retry.
	_ = g.tx.Transmit(cmd)
}

// HandleStatus records st as the last known state and confirms any
// in-flight command whose effect it shows. A frame older than one already
// accepted from sender is dropped and HandleStatus returns false.
func (g *Gate) HandleStatus(sender string, st protocol.StatusFrame) bool {
	if !g.order.Accept(sender, st) {
		return false
	}
	g.last = &st
	if g.pending != nil && Satisfied(g.pending.Command, st) {
		p := g.pending
		g.pending = nil
		g.onResolve(Result{Outcome: OutcomeConfirmed, Command: p.Command})
	}
	if g.analog != nil && Satisfied(g.analog.Command, st) {
		p := g.analog
		g.analog = nil
		g.onResolve(Result{Outcome: OutcomeConfirmed, Command: p.Command})
	}
	return true
}

// Retry retransmits every live in-flight command with its original id and
// re-requests status. It returns the number of commands retransmitted.
func (g *Gate) Retry(now time.Time) int {
	g.Expire(now)
	n := 0
	for _, p := range []*Pending{g.pending, g.analog} {
		if p == nil {
			continue
		}
		g.transmit(p.Command)
		p.LastRetryAt = now
		n++
	}
	if n > 0 {
		g.RequestStatus()
	}
	return n
}

// Expire resolves every in-flight command older than the pending timeout.
func (g *Gate) Expire(now time.Time) {
	if g.pending != nil && now.Sub(g.pending.IssuedAt) >= g.opts.PendingTimeout {
		p := g.pending
		g.pending = nil
		g.onResolve(Result{Outcome: OutcomeTimeout, Command: p.Command})
	}
	if g.analog != nil && now.Sub(g.analog.IssuedAt) >= g.opts.PendingTimeout {
		p := g.analog
		g.analog = nil
		g.onResolve(Result{Outcome: OutcomeTimeout, Command: p.Command})
	}
}

// NextDeadline is the earliest time an in-flight command times out.
func (g *Gate) NextDeadline() (time.Time, bool) {
	var (
		at time.Time
		ok bool
	)
	for _, p := range []*Pending{g.pending, g.analog} {
		if p == nil {
			continue
		}
		d := p.IssuedAt.Add(g.opts.PendingTimeout)
		if !ok || d.Before(at) {
			at, ok = d, true
		}
	}
	return at, ok
}

func (g *Gate) Pending() (Pending, bool) {
	if g.pending == nil {
		return Pending{}, false
	}
	return *g.pending, true
}

func (g *Gate) LastStatus() (protocol.StatusFrame, bool) {
	if g.last == nil {
		return protocol.StatusFrame{}, false
	}
	return *g.last, true
}

// Satisfied reports whether st already shows the effect of cmd. Gate
// confirmation uses the commanded flags, not physical output.
func Satisfied(cmd protocol.Command, st protocol.StatusFrame) bool {
	switch cmd.Kind {
	case protocol.KindPowerOn:
		return st.PoweredOn
	case protocol.KindPowerOff:
		return !st.PoweredOn
	case protocol.KindScram:
		return st.ScramLatched
	case protocol.KindClearScram:
		return !st.ScramLatched
	case protocol.KindSetTargetLevel:
		return cmd.Level != nil && st.TargetLevel == *cmd.Level
	case protocol.KindSetSafetyEnabled:
		return cmd.Enable != nil && st.SafetyEnabled == *cmd.Enable
	case protocol.KindRequestStatus:
		return false
	default:
		return false
	}
}
