// Package panel bridges a physical input panel to the command gate. The
// panel speaks a line protocol:
//
//	BTN POWER_ON | BTN POWER_OFF | BTN SCRAM | BTN CLEAR
//	LEVER <level>
//	SAFETY ON | SAFETY OFF
//
// Anything else is ignored.
package panel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/gate"
	"github.com/fissionlink/internal/protocol"
)

var ErrUnknownLine = errors.New("panel: unknown line")

type Issuer interface {
	Issue(ctx context.Context, req gate.Request) (gate.Result, error)
}

// Parse turns one panel line into a gate request.
func Parse(line string) (gate.Request, error) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(line)))
	if len(fields) != 2 {
		return gate.Request{}, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}
	switch fields[0] {
	case "BTN":
		switch fields[1] {
		case "POWER_ON":
			return gate.PowerOn(), nil
		case "POWER_OFF":
			return gate.PowerOff(), nil
		case "SCRAM":
			return gate.Scram(), nil
		case "CLEAR":
			return gate.ClearScram(), nil
		}
	case "LEVER":
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || v < 0 || !protocol.FiniteLevel(v) {
			return gate.Request{}, fmt.Errorf("%w: bad lever value %q", ErrUnknownLine, fields[1])
		}
		return gate.SetLevel(v), nil
	case "SAFETY":
		switch fields[1] {
		case "ON":
			return gate.SetSafety(true), nil
		case "OFF":
			return gate.SetSafety(false), nil
		}
	}
	return gate.Request{}, fmt.Errorf("%w: %q", ErrUnknownLine, line)
}

// Panel reads lines and issues the matching requests. Each request is
// issued on its own goroutine; the gate decides what is busy.
type Panel struct {
	issuer Issuer
	log    zerolog.Logger

	lastLever *float64
	wg        sync.WaitGroup
}

func New(issuer Issuer, log zerolog.Logger) *Panel {
	return &Panel{
		issuer: issuer,
		log:    log.With().Str("component", "panel").Logger(),
	}
}

// Run consumes r until EOF or ctx is done, then waits for in-flight
// requests.
func (p *Panel) Run(ctx context.Context, r io.Reader) error {
	defer p.wg.Wait()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("panel: read: %w", err)
					}
				default:
				}
				return nil
			}
			p.handleLine(ctx, line)
		}
	}
}

func (p *Panel) handleLine(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	req, err := Parse(line)
	if err != nil {
		p.log.Debug().Str("line", line).Msg("ignoring line")
		return
	}
	if req.Level != nil {
		if p.lastLever != nil && *p.lastLever == *req.Level {
			return
		}
		v := *req.Level
		p.lastLever = &v
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, err := p.issuer.Issue(ctx, req)
		if err != nil {
			p.log.Warn().Err(err).Str("kind", req.Kind.String()).Msg("issue failed")
			return
		}
		p.log.Info().
			Str("kind", req.Kind.String()).
			Str("outcome", res.Outcome.String()).
			Msg("panel request resolved")
	}()
}
