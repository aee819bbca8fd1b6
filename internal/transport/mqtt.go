package transport

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/mqttclient"
	"github.com/fissionlink/internal/observability"
	"github.com/fissionlink/internal/protocol"
)

// qosAtMostOnce matches the bus contract: no broker-level redelivery.
const qosAtMostOnce byte = 0

// MQTTBus maps each logical channel onto the topic <prefix>/ch/<n>.
type MQTTBus struct {
	client *mqttclient.Client
	prefix string
	node   string
	log    zerolog.Logger
	inbox  chan Frame

	mu     sync.Mutex
	closed bool
}

func NewMQTTBus(client *mqttclient.Client, prefix, node string, buffer int, log zerolog.Logger) *MQTTBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MQTTBus{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		node:   node,
		log:    log.With().Str("component", "bus").Logger(),
		inbox:  make(chan Frame, buffer),
	}
}

func (b *MQTTBus) Topic(ch protocol.Channel) string {
	return fmt.Sprintf("%s/ch/%d", b.prefix, ch)
}

func (b *MQTTBus) Listen(ch protocol.Channel) error {
	topic := b.Topic(ch)
	return b.client.Subscribe(topic, qosAtMostOnce, func(_ mqtt.Client, msg mqtt.Message) {
		b.deliver(msg.Topic(), msg.Payload())
	})
}

func (b *MQTTBus) deliver(topic string, payload []byte) {
	ch, ok := b.channelOf(topic)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	select {
	case b.inbox <- Frame{Channel: ch, Data: data}:
	default:
		// A full inbox is indistinguishable from bus loss.
		observability.RecordFrameDropped(b.node, "inbox_full")
		b.log.Warn().Str("topic", topic).Msg("inbox full, dropping frame")
	}
}

func (b *MQTTBus) channelOf(topic string) (protocol.Channel, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/ch/")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return 0, false
	}
	return protocol.Channel(n), true
}

func (b *MQTTBus) Send(ch protocol.Channel, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.client.Publish(b.Topic(ch), data, qosAtMostOnce, false)
}

func (b *MQTTBus) Inbox() <-chan Frame {
	return b.inbox
}

func (b *MQTTBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.inbox)
	b.mu.Unlock()
	b.client.Close()
	return nil
}
