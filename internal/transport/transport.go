// Package transport moves opaque frames over a broadcast, best-effort bus.
// A send may reach zero, one or many listeners; nothing is acknowledged.
package transport

import (
	"errors"
	"time"

	"github.com/fissionlink/internal/protocol"
)

var ErrClosed = errors.New("transport: closed")

// Frame is one delivery: the channel it arrived on and its raw payload.
type Frame struct {
	Channel protocol.Channel
	Data    []byte
}

// Transport is the node's handle on the bus.
type Transport interface {
	// Listen registers interest in a channel.
	Listen(ch protocol.Channel) error
	// Send broadcasts data on a channel. A nil error does not imply delivery.
	Send(ch protocol.Channel, data []byte) error
	// Inbox delivers frames for every listened channel.
	Inbox() <-chan Frame
	Close() error
}

// Publish encodes msg and sends it.
func Publish(t Transport, from string, ch, replyTo protocol.Channel, msg protocol.Message) error {
	data, err := protocol.Encode(from, replyTo, msg)
	if err != nil {
		return err
	}
	return t.Send(ch, data)
}

// TryReceive waits up to timeout for one frame.
func TryReceive(t Transport, timeout time.Duration) (Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-t.Inbox():
		return f, ok
	case <-timer.C:
		return Frame{}, false
	}
}
