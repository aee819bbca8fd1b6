package core

import (
	"context"
	"testing"
	"time"

	"github.com/fissionlink/internal/protocol"
	"github.com/fissionlink/internal/testutil"
	"github.com/fissionlink/internal/transport"
)

func startNode(t *testing.T, bus *transport.MemBus, plant *SimPlant) protocol.Channels {
	t.Helper()
	chans := protocol.DefaultChannels()
	node := NewNode(Options{
		NodeID:          "core-test",
		Channels:        chans,
		PollPeriod:      10 * time.Millisecond,
		HeartbeatPeriod: 20 * time.Millisecond,
		DedupWindow:     64,
		Thresholds:      DefaultThresholds(),
	}, bus.Endpoint("core", 64), plant, plant, testutil.Logger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, time.Second, "core shutdown")
	})
	return chans
}

// nextStatus waits for a status frame on ep matching pred.
func nextStatus(t *testing.T, ep transport.Transport, pred func(protocol.StatusFrame) bool) protocol.StatusFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok := transport.TryReceive(ep, 50*time.Millisecond)
		if !ok {
			continue
		}
		pkt, err := protocol.Decode(f.Data)
		if err != nil {
			continue
		}
		if st, ok := pkt.Message.(protocol.StatusFrame); ok && pred(st) {
			return st
		}
	}
	t.Fatalf("no matching status frame")
	return protocol.StatusFrame{}
}

func TestNodeRepliesOnRequestedChannel(t *testing.T) {
	bus := transport.NewMemBus(1, transport.Faults{})
	chans := startNode(t, bus, NewSimPlant())

	client := bus.Endpoint("console", 64)
	const replyTo protocol.Channel = 555
	if err := client.Listen(replyTo); err != nil {
		t.Fatalf("listen: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	on := protocol.Command{Kind: protocol.KindPowerOn, ID: "on-1"}
	if err := transport.Publish(client, "console", chans.Command, replyTo, on); err != nil {
		t.Fatalf("publish: %v", err)
	}
	st := nextStatus(t, client, func(s protocol.StatusFrame) bool { return s.PoweredOn })
	if st.ScramLatched {
		t.Fatalf("unexpected latch: %+v", st)
	}
}

func TestNodeBroadcastsPanelAndHeartbeat(t *testing.T) {
	bus := transport.NewMemBus(1, transport.Faults{})
	plant := NewSimPlant()
	chans := startNode(t, bus, plant)

	display := bus.Endpoint("display", 256)
	_ = display.Listen(chans.Panel)

	var sawStatus, sawPanel, sawHeartbeat bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !(sawStatus && sawPanel && sawHeartbeat) {
		f, ok := transport.TryReceive(display, 50*time.Millisecond)
		if !ok {
			continue
		}
		pkt, err := protocol.Decode(f.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch m := pkt.Message.(type) {
		case protocol.StatusFrame:
			sawStatus = true
		case protocol.PanelFrame:
			sawPanel = true
			if !m.Formed {
				t.Fatalf("sim plant should report formed")
			}
		case protocol.Heartbeat:
			sawHeartbeat = m.TimestampMS > 0
		}
	}
	if !sawStatus || !sawPanel || !sawHeartbeat {
		t.Fatalf("status=%t panel=%t heartbeat=%t", sawStatus, sawPanel, sawHeartbeat)
	}
}

func TestNodeIgnoresGarbage(t *testing.T) {
	bus := transport.NewMemBus(1, transport.Faults{})
	chans := startNode(t, bus, NewSimPlant())
	client := bus.Endpoint("console", 64)
	_ = client.Listen(chans.Reply)
	time.Sleep(20 * time.Millisecond)

	_ = client.Send(chans.Command, []byte("not cbor"))
	req := protocol.Command{Kind: protocol.KindRequestStatus}
	_ = transport.Publish(client, "console", chans.Command, 0, req)
	st := nextStatus(t, client, func(protocol.StatusFrame) bool { return true })
	if st.PoweredOn || !st.SafetyEnabled {
		t.Fatalf("garbage changed state: %+v", st)
	}
}
