package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/observability"
	"github.com/fissionlink/internal/protocol"
	"github.com/fissionlink/internal/transport"
)

type Options struct {
	NodeID          string
	Channels        protocol.Channels
	PollPeriod      time.Duration
	HeartbeatPeriod time.Duration
	DedupWindow     int
	Thresholds      Thresholds
}

// Node is the core's event loop. All reactor state is owned by Run.
type Node struct {
	opts    Options
	bus     transport.Transport
	sensors Sensors
	reactor *Reactor
	log     zerolog.Logger
}

func NewNode(opts Options, bus transport.Transport, sensors Sensors, act Actuator, log zerolog.Logger) *Node {
	log = log.With().Str("component", "core").Logger()
	return &Node{
		opts:    opts,
		bus:     bus,
		sensors: sensors,
		reactor: NewReactor(opts.Thresholds, act, opts.DedupWindow, log),
		log:     log,
	}
}

func (n *Node) Run(ctx context.Context) error {
	if err := n.bus.Listen(n.opts.Channels.Command); err != nil {
		return err
	}
	poll := time.NewTicker(n.opts.PollPeriod)
	defer poll.Stop()
	heartbeat := time.NewTicker(n.opts.HeartbeatPeriod)
	defer heartbeat.Stop()

	n.log.Info().
		Uint16("command_channel", uint16(n.opts.Channels.Command)).
		Dur("poll", n.opts.PollPeriod).
		Msg("core started")

	for {
		select {
		case <-ctx.Done():
			n.log.Info().Msg("core stopping")
			return nil
		case f, ok := <-n.bus.Inbox():
			if !ok {
				return transport.ErrClosed
			}
			n.handleFrame(ctx, f)
		case <-poll.C:
			n.tick(ctx)
		case t := <-heartbeat.C:
			n.publish(n.opts.Channels.Panel, protocol.Heartbeat{TimestampMS: t.UnixMilli()})
		}
	}
}

func (n *Node) handleFrame(ctx context.Context, f transport.Frame) {
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		observability.RecordFrameDropped(n.opts.NodeID, "malformed")
		n.log.Debug().Err(err).Msg("dropping frame")
		return
	}
	cmd, ok := pkt.Message.(protocol.Command)
	if !ok {
		return
	}

	before := n.reactor.State()
	res := n.reactor.Apply(ctx, cmd)
	switch res {
	case ResultDuplicate:
		observability.RecordCommandDuplicate(n.opts.NodeID, cmd.Kind.String())
		n.log.Debug().Str("cmd", cmd.String()).Msg("duplicate command")
	case ResultApplied:
		observability.RecordCommandApplied(n.opts.NodeID, cmd.Kind.String())
		after := n.reactor.State()
		n.log.Info().
			Str("cmd", cmd.String()).
			Str("from", pkt.From).
			Stringer("phase_before", before.Phase()).
			Stringer("phase", after.Phase()).
			Msg("command applied")
		if cmd.Kind == protocol.KindScram {
			observability.RecordTrip(n.opts.NodeID, string(protocol.TripManual))
		}
	case ResultIgnored:
		n.log.Warn().Str("cmd", cmd.String()).Stringer("phase", before.Phase()).Msg("command ignored")
	case ResultUnchanged:
	}

	replyTo := pkt.ReplyTo
	if replyTo == 0 {
		replyTo = n.opts.Channels.Reply
	}
	n.publish(replyTo, n.reactor.Status())
}

func (n *Node) tick(ctx context.Context) {
	snap, failed := ReadSnapshot(ctx, n.sensors)
	if len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.String()
		}
		n.log.Warn().Strs("fields", names).Msg("sensor read failed, using defaults")
	}

	if cause := n.reactor.Tick(ctx, snap); cause != protocol.TripNone {
		observability.RecordTrip(n.opts.NodeID, string(cause))
		n.log.Error().
			Str("cause", string(cause)).
			Float64("damage_pct", snap.DamagePct).
			Float64("coolant", snap.CoolantFrac).
			Float64("waste", snap.WasteFrac).
			Float64("heated", snap.HeatedFrac).
			Msg("interlock tripped, scram latched")
	}
	observability.RecordOutputLevel(n.opts.NodeID, n.reactor.Applied())

	n.publish(n.opts.Channels.Panel, n.reactor.Status())
	n.publish(n.opts.Channels.Panel, n.reactor.Panel())
}

func (n *Node) publish(ch protocol.Channel, msg protocol.Message) {
	if err := transport.Publish(n.bus, n.opts.NodeID, ch, 0, msg); err != nil {
		n.log.Warn().Err(err).Str("type", string(msg.MessageType())).Msg("publish failed")
	}
}
