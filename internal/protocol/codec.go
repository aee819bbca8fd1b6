package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed message")
)

// Envelope is the outer wire shape; Body holds the CBOR-encoded variant.
type Envelope struct {
	Type    MessageType     `cbor:"type"`
	From    string          `cbor:"from"`
	ReplyTo Channel         `cbor:"reply_to,omitempty"`
	Body    cbor.RawMessage `cbor:"body"`
}

// Packet is a decoded envelope.
type Packet struct {
	From    string
	ReplyTo Channel
	Message Message
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = opts.EncMode()
	if err != nil {
		panic("protocol: cbor encoder init failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("protocol: cbor decoder init failed: " + err.Error())
	}
}

// Encode wraps msg in an envelope. replyTo may be zero.
func Encode(from string, replyTo Channel, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	if cmd, ok := msg.(Command); ok {
		if err := cmd.Validate(); err != nil {
			return nil, err
		}
	}
	body, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.MessageType(), err)
	}
	return encMode.Marshal(Envelope{
		Type:    msg.MessageType(),
		From:    from,
		ReplyTo: replyTo,
		Body:    body,
	})
}

// Decode unwraps one envelope. Unknown types return ErrUnknownType; any
// other decode failure returns ErrMalformed. Receivers drop both.
func Decode(data []byte) (Packet, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeCommand:
		var c Command
		if err = decMode.Unmarshal(env.Body, &c); err == nil {
			err = c.Validate()
		}
		msg = c
	case TypeStatus:
		var s StatusFrame
		err = decMode.Unmarshal(env.Body, &s)
		msg = s
	case TypePanel:
		var p PanelFrame
		err = decMode.Unmarshal(env.Body, &p)
		msg = p
	case TypeHeartbeat:
		var h Heartbeat
		err = decMode.Unmarshal(env.Body, &h)
		msg = h
	default:
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return Packet{From: env.From, ReplyTo: env.ReplyTo, Message: msg}, nil
}
