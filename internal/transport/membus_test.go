package transport

import (
	"testing"
	"time"

	"github.com/fissionlink/internal/protocol"
)

func drain(e *MemEndpoint) []Frame {
	var out []Frame
	for {
		select {
		case f := <-e.Inbox():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestMemBusBroadcastsToEveryListener(t *testing.T) {
	bus := NewMemBus(1, Faults{})
	a := bus.Endpoint("a", 8)
	b := bus.Endpoint("b", 8)
	c := bus.Endpoint("c", 8)
	_ = a.Listen(7)
	_ = b.Listen(7)
	_ = c.Listen(8)

	if err := a.Send(7, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := len(drain(a)); got != 1 {
		t.Fatalf("sender listening on channel should hear itself, got %d", got)
	}
	if got := len(drain(b)); got != 1 {
		t.Fatalf("expected 1 frame at b, got %d", got)
	}
	if got := len(drain(c)); got != 0 {
		t.Fatalf("wrong-channel listener got %d frames", got)
	}
}

func TestMemBusDropAndDuplicate(t *testing.T) {
	bus := NewMemBus(1, Faults{DropRate: 1})
	rx := bus.Endpoint("rx", 8)
	tx := bus.Endpoint("tx", 8)
	_ = rx.Listen(1)
	_ = tx.Send(1, []byte("lost"))
	if got := len(drain(rx)); got != 0 {
		t.Fatalf("expected drop, got %d frames", got)
	}

	bus.SetFaults(Faults{DuplicateRate: 1})
	_ = tx.Send(1, []byte("twice"))
	if got := len(drain(rx)); got != 2 {
		t.Fatalf("expected duplicate, got %d frames", got)
	}
}

func TestMemBusReorderHoldsOneFrame(t *testing.T) {
	bus := NewMemBus(1, Faults{ReorderRate: 1})
	rx := bus.Endpoint("rx", 8)
	tx := bus.Endpoint("tx", 8)
	_ = rx.Listen(1)

	_ = tx.Send(1, []byte("first"))
	if got := len(drain(rx)); got != 0 {
		t.Fatalf("first frame should be held, got %d", got)
	}
	_ = tx.Send(1, []byte("second"))
	frames := drain(rx)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Data) != "second" || string(frames[1].Data) != "first" {
		t.Fatalf("expected reordered delivery, got %q then %q", frames[0].Data, frames[1].Data)
	}
}

func TestMemBusTargetedDrop(t *testing.T) {
	bus := NewMemBus(1, Faults{
		Drop: func(to string, f Frame) bool { return to == "deaf" },
	})
	deaf := bus.Endpoint("deaf", 8)
	ok := bus.Endpoint("ok", 8)
	_ = deaf.Listen(3)
	_ = ok.Listen(3)
	_ = ok.Send(3, []byte("hi"))
	if len(drain(deaf)) != 0 || len(drain(ok)) != 1 {
		t.Fatalf("targeted drop misapplied")
	}
}

func TestPublishAndTryReceive(t *testing.T) {
	bus := NewMemBus(1, Faults{})
	core := bus.Endpoint("core", 8)
	disp := bus.Endpoint("display", 8)
	_ = disp.Listen(102)

	if err := Publish(core, "core-1", 102, 0, protocol.Heartbeat{TimestampMS: 42}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	f, ok := TryReceive(disp, time.Second)
	if !ok {
		t.Fatalf("expected a frame")
	}
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hb, ok := pkt.Message.(protocol.Heartbeat); !ok || hb.TimestampMS != 42 {
		t.Fatalf("unexpected message: %+v", pkt.Message)
	}
	if _, ok := TryReceive(disp, 10*time.Millisecond); ok {
		t.Fatalf("expected empty inbox")
	}
}

func TestClosedEndpointRejectsSend(t *testing.T) {
	bus := NewMemBus(1, Faults{})
	e := bus.Endpoint("e", 1)
	_ = e.Close()
	if err := e.Send(1, nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMQTTTopicMapping(t *testing.T) {
	b := &MQTTBus{prefix: "plant/a"}
	topic := b.Topic(101)
	if topic != "plant/a/ch/101" {
		t.Fatalf("unexpected topic %q", topic)
	}
	ch, ok := b.channelOf(topic)
	if !ok || ch != 101 {
		t.Fatalf("channelOf(%q) = %d, %t", topic, ch, ok)
	}
	if _, ok := b.channelOf("plant/b/ch/101"); ok {
		t.Fatalf("foreign prefix must not map")
	}
	if _, ok := b.channelOf("plant/a/ch/robot"); ok {
		t.Fatalf("non-numeric channel must not map")
	}
}
