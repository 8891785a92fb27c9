package mqtt

import (
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/fmtxd/internal/bus"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

// willReason is the LWT reason the broker publishes if the daemon vanishes.
const willReason = "BUS_DISCONNECT"

// Publisher publishes to an MQTT broker, buffering while disconnected, and
// delivers condition and request messages to subscribed handlers.
type Publisher struct {
	client paho.Client
	opts   Options
	now    func() time.Time

	mu            sync.Mutex
	buf           *ringBuffer
	connectedOnce bool
	onCondition   func(sense.Change)
	onRequest     func(bus.Request)
}

var (
	_ bus.Publisher        = (*Publisher)(nil)
	_ bus.Subscriber       = (*Publisher)(nil)
	_ bus.ConnectionStatus = (*Publisher)(nil)
)

// NewPublisher creates a publisher and starts connecting in the background.
// Messages published before the first connection are buffered.
func NewPublisher(opts Options) *Publisher {
	p := newPublisher(opts)

	will, _ := bus.FormatSystemPayload(bus.SystemEvent{
		Timestamp: p.now(),
		Event:     "SHUTDOWN",
		Reason:    willReason,
	})

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.System, will, 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(co)
	p.client.Connect()
	return p
}

func newPublisher(opts Options) *Publisher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Publisher{
		opts: opts,
		now:  time.Now,
		buf:  newRingBuffer(opts.BufferSize),
	}
}

// Publish sends a transmitter event (QoS 0, not retained).
func (p *Publisher) Publish(event logic.Event) error {
	payload, err := bus.FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.opts.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *Publisher) PublishSystem(event bus.SystemEvent) error {
	payload, err := bus.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.opts.System, payload: payload, qos: 1, retained: event.Retained})
}

// Subscribe registers handlers for conditions and requests. Subscriptions
// are renewed on every reconnect.
func (p *Publisher) Subscribe(onCondition func(sense.Change), onRequest func(bus.Request)) error {
	p.mu.Lock()
	p.onCondition = onCondition
	p.onRequest = onRequest
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribe()
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *Publisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *Publisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}

	if err := p.publish(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Publisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// handleConnect runs on every (re)connect: renew subscriptions, announce the
// reconnect, then flush what was buffered while offline.
func (p *Publisher) handleConnect(_ paho.Client) {
	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending, dropped := p.buf.drain()
	subscribed := p.onCondition != nil || p.onRequest != nil
	p.mu.Unlock()

	log.Printf("mqtt: connected to %s", p.opts.Broker)

	if subscribed {
		if err := p.subscribe(); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}

	if reconnect {
		payload, _ := bus.FormatSystemPayload(bus.SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err := p.publish(bufferedMsg{topic: p.opts.System, payload: payload, qos: 1}); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}

	if dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped while offline", dropped)
	}
	for i, msg := range pending {
		if err := p.publish(msg); err != nil {
			log.Printf("mqtt: replay stopped: %v", err)
			p.mu.Lock()
			for _, m := range pending[i:] {
				p.buf.push(m)
			}
			p.mu.Unlock()
			return
		}
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replayed %d buffered messages", len(pending))
	}
}

func (p *Publisher) subscribe() error {
	filters := map[string]byte{
		p.opts.ConditionPrefix + "/+": 1,
		p.opts.Request:                1,
	}
	token := p.client.SubscribeMultiple(filters, p.handleMessage)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("subscribe: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (p *Publisher) handleMessage(_ paho.Client, m paho.Message) {
	p.mu.Lock()
	onCondition, onRequest := p.onCondition, p.onRequest
	p.mu.Unlock()

	topic := m.Topic()
	if topic == p.opts.Request {
		r, err := bus.ParseRequest(m.Payload())
		if err != nil {
			log.Printf("mqtt: %s: %v", topic, err)
			return
		}
		if onRequest != nil {
			onRequest(r)
		}
		return
	}

	if path.Dir(topic) != p.opts.ConditionPrefix {
		return
	}
	c, err := bus.ParseCondition(path.Base(topic), m.Payload(), "mqtt", p.now())
	if err != nil {
		log.Printf("mqtt: %s: %v", topic, err)
		return
	}
	if onCondition != nil {
		onCondition(c)
	}
}
