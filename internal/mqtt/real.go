package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/logic"
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	BufferSize int // messages held while disconnected
	Log        zerolog.Logger
	// OnReconnect runs after every successful connection except the first.
	OnReconnect func()
}

// DefaultBufferSize is used when Options.BufferSize is zero.
const DefaultBufferSize = 256

type subscription struct {
	qos     byte
	handler Handler
}

// RealPublisher publishes to and subscribes on an actual MQTT broker.
// Messages published while disconnected are buffered and replayed in
// order on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    zerolog.Logger

	mu          sync.Mutex
	outbox      *outbox
	subs        map[string]subscription
	connects    int
	onReconnect func()
}

// NewRealPublisher creates a client for the given broker. The connection
// is retried in the background; publishing before it is up buffers.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if o.Topics == (Topics{}) {
		o.Topics = TopicsFor(DefaultPrefix)
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ClientID == "" {
		o.ClientID = "boiler-automation"
	}

	p := &RealPublisher{
		topics:      o.Topics,
		log:         o.Log,
		outbox:      newOutbox(o.BufferSize),
		subs:        map[string]subscription{},
		onReconnect: o.OnReconnect,
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		// Handlers publish at QoS 1 and wait for the ack.
		SetOrderMatters(false).
		SetWill(o.Topics.System, string(FormatWillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("mqtt connection lost")
		})
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warn().Str("broker", o.Broker).Msg("mqtt broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect restores subscriptions and replays buffered messages.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connects++
	reconnect := p.connects > 1
	pending, dropped := p.outbox.drain()
	subs := make(map[string]subscription, len(p.subs))
	for f, s := range p.subs {
		subs[f] = s
	}
	p.mu.Unlock()

	for filter, s := range subs {
		c.Subscribe(filter, s.qos, wrap(s.handler))
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	p.log.Info().Int("replayed", len(pending)).Int("dropped", dropped).Int("subscriptions", len(subs)).Msg("mqtt connected")

	if reconnect && p.onReconnect != nil {
		p.onReconnect()
	}
}

func wrap(h Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	}
}

// Publish sends a boiler event (QoS 0, not retained).
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.PublishRaw(p.topics.Events, 0, false, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.PublishRaw(p.topics.System, 1, event.Retained, payload)
}

// PublishRaw publishes payload, or buffers it while disconnected.
func (p *RealPublisher) PublishRaw(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		firstDrop := p.outbox.add(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		limit := p.outbox.limit
		p.mu.Unlock()
		if firstDrop {
			p.log.Warn().Int("capacity", limit).Msg("mqtt buffer full, dropping oldest")
		}
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for filter. The subscription is restored after
// every reconnect.
func (p *RealPublisher) Subscribe(filter string, qos byte, h Handler) error {
	p.mu.Lock()
	p.subs[filter] = subscription{qos: qos, handler: h}
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	token := p.client.Subscribe(filter, qos, wrap(h))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
