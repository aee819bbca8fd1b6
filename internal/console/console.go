// Package console is the operator's surface: named reactor operations and
// a terminal UI bound to them.
package console

import (
	"context"
	"time"

	"github.com/fissionlink/internal/gate"
	"github.com/fissionlink/internal/protocol"
)

// Issuer is satisfied by *gate.Runner.
type Issuer interface {
	Issue(ctx context.Context, req gate.Request) (gate.Result, error)
	RequestStatus()
}

// Console issues operator commands through a gate. Each call blocks until
// the gate resolves it or Timeout elapses.
type Console struct {
	issuer  Issuer
	Timeout time.Duration
}

func New(issuer Issuer, timeout time.Duration) *Console {
	return &Console{issuer: issuer, Timeout: timeout}
}

func (c *Console) PowerOn(ctx context.Context) (gate.Result, error) {
	return c.do(ctx, gate.PowerOn())
}

func (c *Console) PowerOff(ctx context.Context) (gate.Result, error) {
	return c.do(ctx, gate.PowerOff())
}

func (c *Console) Scram(ctx context.Context) (gate.Result, error) {
	return c.do(ctx, gate.Scram())
}

func (c *Console) ClearScram(ctx context.Context) (gate.Result, error) {
	return c.do(ctx, gate.ClearScram())
}

func (c *Console) SetLevel(ctx context.Context, v float64) (gate.Result, error) {
	return c.do(ctx, gate.SetLevel(v))
}

func (c *Console) SetSafety(ctx context.Context, on bool) (gate.Result, error) {
	return c.do(ctx, gate.SetSafety(on))
}

func (c *Console) RequestStatus() {
	c.issuer.RequestStatus()
}

func (c *Console) do(ctx context.Context, req gate.Request) (gate.Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return c.issuer.Issue(ctx, req)
}

// Describe renders a result for the operator.
func Describe(kind protocol.CommandKind, res gate.Result, err error) string {
	if err != nil {
		return kind.String() + ": " + err.Error()
	}
	switch res.Outcome {
	case gate.OutcomeBusy:
		return kind.String() + ": busy (" + res.Command.Kind.String() + " in flight)"
	default:
		return kind.String() + ": " + res.Outcome.String()
	}
}
