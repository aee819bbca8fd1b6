package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/observability"
	"github.com/fissionlink/internal/protocol"
	"github.com/fissionlink/internal/transport"
)

var ErrStopped = errors.New("gate: runner stopped")

type RunnerOptions struct {
	NodeID         string
	Channels       protocol.Channels
	RetryPeriod    time.Duration
	PendingTimeout time.Duration
	// ReplyChannel is where the core answers this gate. Defaults to
	// Channels.Reply.
	ReplyChannel protocol.Channel
}

type issueCall struct {
	req  Request
	resp chan issueReply
}

type issueReply struct {
	res Result
	err error
}

// Runner owns a Gate and its bus endpoint. Issue and RequestStatus are
// safe to call from any goroutine.
type Runner struct {
	opts RunnerOptions
	bus  transport.Transport
	gate *Gate
	log  zerolog.Logger

	calls    chan issueCall
	statusRQ chan struct{}
	updates  chan protocol.StatusFrame
	done     chan struct{}

	waiters map[string][]chan issueReply
}

func NewRunner(opts RunnerOptions, bus transport.Transport, log zerolog.Logger) *Runner {
	if opts.ReplyChannel == 0 {
		opts.ReplyChannel = opts.Channels.Reply
	}
	r := &Runner{
		opts:     opts,
		bus:      bus,
		log:      log.With().Str("component", "gate").Logger(),
		calls:    make(chan issueCall),
		statusRQ: make(chan struct{}, 1),
		updates:  make(chan protocol.StatusFrame, 1),
		done:     make(chan struct{}),
		waiters:  make(map[string][]chan issueReply),
	}
	r.gate = New(Options{
		Issuer:         opts.NodeID,
		PendingTimeout: opts.PendingTimeout,
	}, r, r.resolve)
	return r
}

// Transmit implements Transmitter over the bus.
func (r *Runner) Transmit(cmd protocol.Command) error {
	err := transport.Publish(r.bus, r.opts.NodeID, r.opts.Channels.Command, r.opts.ReplyChannel, cmd)
	if err != nil {
		r.log.Warn().Err(err).Str("cmd", cmd.String()).Msg("transmit failed")
	}
	return err
}

// Issue blocks until the command resolves or ctx ends. The returned
// outcome is never OutcomePending.
func (r *Runner) Issue(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	call := issueCall{req: req, resp: make(chan issueReply, 1)}
	select {
	case r.calls <- call:
	case <-r.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case rep := <-call.resp:
		return rep.res, rep.err
	case <-r.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RequestStatus asks the core for a status frame without gating.
func (r *Runner) RequestStatus() {
	select {
	case r.statusRQ <- struct{}{}:
	default:
	}
}

// Updates delivers the latest status frame; older unread frames are replaced.
func (r *Runner) Updates() <-chan protocol.StatusFrame {
	return r.updates
}

func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	for _, ch := range []protocol.Channel{r.opts.ReplyChannel, r.opts.Channels.Panel} {
		if err := r.bus.Listen(ch); err != nil {
			return err
		}
	}

	retry := time.NewTicker(r.opts.RetryPeriod)
	defer retry.Stop()
	timeout := time.NewTimer(time.Hour)
	timeout.Stop()
	defer timeout.Stop()

	r.gate.RequestStatus()
	r.log.Info().Uint16("reply_channel", uint16(r.opts.ReplyChannel)).Msg("gate started")

	for {
		select {
		case <-ctx.Done():
			r.failWaiters()
			return nil
		case f, ok := <-r.bus.Inbox():
			if !ok {
				r.failWaiters()
				return transport.ErrClosed
			}
			r.handleFrame(f)
		case call := <-r.calls:
			r.issue(call)
			r.armTimeout(timeout)
		case <-r.statusRQ:
			r.gate.RequestStatus()
		case now := <-retry.C:
			if n := r.gate.Retry(now); n > 0 {
				observability.RecordGateRetry(r.opts.NodeID)
				r.log.Debug().Int("commands", n).Msg("retransmitted")
			}
		case now := <-timeout.C:
			r.gate.Expire(now)
			r.armTimeout(timeout)
		}
	}
}

func (r *Runner) issue(call issueCall) {
	res, err := r.gate.Issue(time.Now(), call.req)
	if err != nil {
		call.resp <- issueReply{err: err}
		return
	}
	if res.Outcome.Final() {
		observability.RecordGateOutcome(r.opts.NodeID, call.req.Kind.String(), res.Outcome.String())
		r.log.Debug().Stringer("kind", call.req.Kind).Stringer("outcome", res.Outcome).Msg("not transmitted")
		call.resp <- issueReply{res: res}
		return
	}

	id := res.Command.ID
	if res.Superseded != "" {
		// The replaced command's callers learn what happened to its successor.
		r.waiters[id] = append(r.waiters[id], r.waiters[res.Superseded]...)
		delete(r.waiters, res.Superseded)
	}
	r.waiters[id] = append(r.waiters[id], call.resp)
	r.log.Info().Str("cmd", res.Command.String()).Msg("command issued")
}

func (r *Runner) resolve(res Result) {
	observability.RecordGateOutcome(r.opts.NodeID, res.Command.Kind.String(), res.Outcome.String())
	ev := r.log.Info()
	if res.Outcome == OutcomeTimeout {
		ev = r.log.Warn()
	}
	ev.Str("cmd", res.Command.String()).Stringer("outcome", res.Outcome).Msg("command resolved")

	for _, w := range r.waiters[res.Command.ID] {
		w <- issueReply{res: res}
	}
	delete(r.waiters, res.Command.ID)
}

func (r *Runner) failWaiters() {
	for id, ws := range r.waiters {
		for _, w := range ws {
			w <- issueReply{err: ErrStopped}
		}
		delete(r.waiters, id)
	}
}

func (r *Runner) armTimeout(t *time.Timer) {
	at, ok := r.gate.NextDeadline()
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if ok {
		t.Reset(time.Until(at))
	}
}

func (r *Runner) handleFrame(f transport.Frame) {
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		observability.RecordFrameDropped(r.opts.NodeID, "malformed")
		r.log.Debug().Err(err).Msg("dropping frame")
		return
	}
	st, ok := pkt.Message.(protocol.StatusFrame)
	if !ok {
		return
	}
	if !r.gate.HandleStatus(pkt.From, st) {
		r.log.Debug().Str("from", pkt.From).Uint64("seq", st.Seq).Msg("dropping stale status")
		return
	}

	select {
	case <-r.updates:
	default:
	}
	r.updates <- st
}
