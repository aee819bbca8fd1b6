// Package display watches the panel channel, judges the core's health and
// serves the result to browsers.
package display

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/health"
	"github.com/fissionlink/internal/observability"
	"github.com/fissionlink/internal/protocol"
	"github.com/fissionlink/internal/transport"
)

type Options struct {
	NodeID      string
	Channels    protocol.Channels
	CheckPeriod time.Duration
	BlinkPeriod time.Duration
	Health      health.Config
}

// State is pushed to websocket clients as JSON.
type State struct {
	Node      string                `json:"node"`
	Health    health.Snapshot       `json:"health"`
	Panel     protocol.PanelFrame   `json:"panel"`
	Status    *protocol.StatusFrame `json:"status,omitempty"`
	Lamp      bool                  `json:"lamp"`
	InGrace   bool                  `json:"in_grace"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type Node struct {
	opts    Options
	bus     transport.Transport
	hub     *Hub
	log     zerolog.Logger
	monitor *health.Monitor
	blink   health.Blinker
	order   protocol.StatusOrder

	mu    sync.RWMutex
	state State
}

func NewNode(opts Options, bus transport.Transport, hub *Hub, log zerolog.Logger) *Node {
	return &Node{
		opts:  opts,
		bus:   bus,
		hub:   hub,
		log:   log.With().Str("component", "display").Logger(),
		state: State{Node: opts.NodeID},
	}
}

func (n *Node) Run(ctx context.Context) error {
	if err := n.bus.Listen(n.opts.Channels.Panel); err != nil {
		return err
	}
	n.monitor = health.NewMonitor(n.opts.Health, time.Now())

	check := time.NewTicker(n.opts.CheckPeriod)
	defer check.Stop()
	blink := time.NewTicker(n.opts.BlinkPeriod)
	defer blink.Stop()

	n.log.Info().Uint16("panel_channel", uint16(n.opts.Channels.Panel)).Msg("display started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-n.bus.Inbox():
			if !ok {
				return transport.ErrClosed
			}
			n.handleFrame(f, time.Now())
		case now := <-check.C:
			n.check(now)
		case <-blink.C:
			on := n.blink.Step()
			n.update(func(s *State) {
				s.Lamp = s.Health.ProcessHealthy || on
			})
		}
	}
}

func (n *Node) handleFrame(f transport.Frame, now time.Time) {
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		observability.RecordFrameDropped(n.opts.NodeID, "malformed")
		n.log.Debug().Err(err).Msg("dropping frame")
		return
	}
	switch m := pkt.Message.(type) {
	case protocol.Heartbeat:
		n.monitor.ObserveHeartbeat(now)
	case protocol.StatusFrame:
		if !n.order.Accept(pkt.From, m) {
			return
		}
		n.monitor.ObserveStatus(now, m.StatusOK)
		n.update(func(s *State) { s.Status = &m })
	case protocol.PanelFrame:
		n.update(func(s *State) { s.Panel = m })
	case protocol.Command:
	}
}

func (n *Node) check(now time.Time) {
	snap, changes := n.monitor.Check(now)
	for _, c := range changes {
		observability.RecordHealth(n.opts.NodeID, c.Signal, c.Alive, true)
		ev := n.log.Info()
		if !c.Alive {
			ev = n.log.Warn()
		}
		ev.Str("signal", c.Signal).Bool("alive", c.Alive).Msg("health changed")
	}
	inGrace := n.monitor.InGrace(now)
	n.update(func(s *State) {
		s.Health = snap
		s.InGrace = inGrace
		if snap.ProcessHealthy {
			s.Lamp = true
		}
	})
}

// update mutates the shared state and pushes it to clients.
func (n *Node) update(fn func(*State)) {
	n.mu.Lock()
	fn(&n.state)
	n.state.UpdatedAt = time.Now()
	s := n.state
	n.mu.Unlock()
	if n.hub != nil {
		n.hub.Publish(s)
	}
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Handler serves /ws, /healthz and /metrics.
func (n *Node) Handler() http.Handler {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	if n.hub != nil {
		mux.HandleFunc("/ws", n.hub.ServeWS)
	}
	mux.HandleFunc("/healthz", n.serveHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (n *Node) serveHealth(w http.ResponseWriter, r *http.Request) {
	s := n.State()
	w.Header().Set("Content-Type", "application/json")
	if !s.Health.ProcessHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(s)
}
