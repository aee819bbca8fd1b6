package mqttclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("mqttclient: not connected")
	ErrTimeout      = errors.New("mqttclient: operation timed out")
)

type Options struct {
	BrokerURL      string
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// WriteTimeout bounds every Publish and Subscribe. Defaults to 1s.
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Client wraps a paho client and re-establishes subscriptions after every
// reconnect, since the broker forgets them on a clean session.
type Client struct {
	raw          mqtt.Client
	log          zerolog.Logger
	writeTimeout time.Duration
	mu     sync.Mutex
	subs   map[string]subscription
	closed bool
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

func New(opts Options) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("mqttclient: broker url required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}
	c := &Client{
		log:          opts.Logger.With().Str("component", "mqtt").Logger(),
		writeTimeout: opts.WriteTimeout,
		subs:         make(map[string]subscription),
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetConnectTimeout(opts.ConnectTimeout)
	o.SetOrderMatters(false)
	if opts.KeepAlive > 0 {
		o.SetKeepAlive(opts.KeepAlive)
	}
	o.SetOnConnectHandler(c.resubscribe)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn().Err(err).Msg("broker connection lost")
	})
	c.raw = mqtt.NewClient(o)

	token := c.raw.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		// Connect keeps retrying in the background; the bus tolerates loss.
		c.log.Warn().Str("broker", opts.BrokerURL).Msg("broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Publish never blocks past the write timeout. While the broker is away
// the message is dropped with ErrNotConnected instead of being queued.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !c.raw.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.wait(c.raw.Publish(topic, qos, retained, payload))
}

func (c *Client) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.writeTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

func (c *Client) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.raw.IsConnectionOpen() {
		// Registered; the connect handler subscribes once the broker is up.
		return nil
	}
	return c.wait(c.raw.Subscribe(topic, qos, handler))
}

func (c *Client) resubscribe(raw mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		if err := c.wait(raw.Subscribe(topic, s.qos, s.handler)); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
			continue
		}
		c.log.Debug().Str("topic", topic).Msg("subscribed")
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.raw.Disconnect(250)
}

func (c *Client) String() string {
	return "MQTTClient"
}
