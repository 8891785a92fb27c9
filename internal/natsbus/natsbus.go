// Package natsbus carries transmitter events out and condition updates in
// over NATS. It mirrors the MQTT transport subject for topic.
package natsbus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sweeney/fmtxd/internal/bus"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

// Default subjects. Conditions arrive on ConditionPrefix + "." + name.
const (
	SubjectEvents   = "fmtx.transmitter.events"
	SubjectSystem   = "fmtx.transmitter.system"
	SubjectRequest  = "fmtx.transmitter.request"
	ConditionPrefix = "fmtx.conditions"
)

// Options configures a Bus.
type Options struct {
	URL  string
	Name string

	// KVBucket, if set, keeps the last retained system event in a
	// JetStream key-value bucket under the "system" key.
	KVBucket string

	Timeout time.Duration
}

// DefaultOptions returns options for url with no KV bucket.
func DefaultOptions(url string) Options {
	return Options{URL: url, Name: "fmtxd", Timeout: 5 * time.Second}
}

// conn is the part of *nats.Conn the bus uses.
type conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Drain() error
}

// kvStore is the part of jetstream.KeyValue the bus uses.
type kvStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Bus publishes events to NATS and delivers inbound conditions and requests.
type Bus struct {
	nc   conn
	kv   kvStore
	opts Options
	now  func() time.Time

	mu          sync.Mutex
	onCondition func(sense.Change)
	onRequest   func(bus.Request)
}

var (
	_ bus.Publisher        = (*Bus)(nil)
	_ bus.Subscriber       = (*Bus)(nil)
	_ bus.ConnectionStatus = (*Bus)(nil)
)

// Connect dials the server. The client keeps reconnecting forever and
// buffers publishes while disconnected.
func Connect(opts Options) (*Bus, error) {
	b := newBus(opts)

	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("nats: reconnected to %s", c.ConnectedUrl())
			b.announceReconnect()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b.nc = nc

	if opts.KVBucket != "" {
		kv, err := openBucket(nc, opts.KVBucket, opts.Timeout)
		if err != nil {
			log.Printf("nats: retained events disabled: %v", err)
		} else {
			b.kv = kv
		}
	}
	return b, nil
}

func newBus(opts Options) *Bus {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Bus{opts: opts, now: time.Now}
}

func openBucket(nc *nats.Conn, bucket string, timeout time.Duration) (jetstream.KeyValue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if kv, err := js.KeyValue(ctx, bucket); err == nil {
		return kv, nil
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "fmtxd retained system events",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Publish sends a transmitter event.
func (b *Bus) Publish(event logic.Event) error {
	payload, err := bus.FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	if err := b.nc.Publish(SubjectEvents, payload); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectEvents, err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event. Retained events are also
// stored in the KV bucket when one is configured.
func (b *Bus) PublishSystem(event bus.SystemEvent) error {
	payload, err := bus.FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if err := b.nc.Publish(SubjectSystem, payload); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectSystem, err)
	}

	if event.Retained && b.kv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.Timeout)
		defer cancel()
		if _, err := b.kv.Put(ctx, "system", payload); err != nil {
			return fmt.Errorf("store retained system event: %w", err)
		}
	}
	return nil
}

// Subscribe registers handlers and subscribes to the condition and request
// subjects. The client renews subscriptions after a reconnect.
func (b *Bus) Subscribe(onCondition func(sense.Change), onRequest func(bus.Request)) error {
	b.mu.Lock()
	b.onCondition = onCondition
	b.onRequest = onRequest
	b.mu.Unlock()

	for _, subj := range []string{ConditionPrefix + ".*", SubjectRequest} {
		if _, err := b.nc.Subscribe(subj, b.handleMsg); err != nil {
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
	}
	return nil
}

// IsConnected reports whether the server connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	return b.nc.Drain()
}

func (b *Bus) announceReconnect() {
	payload, _ := bus.FormatSystemPayload(bus.SystemEvent{Timestamp: b.now(), Event: "RECONNECTED"})
	if err := b.nc.Publish(SubjectSystem, payload); err != nil {
		log.Printf("nats: %v", err)
	}
}

func (b *Bus) handleMsg(m *nats.Msg) {
	b.handle(m.Subject, m.Data)
}

func (b *Bus) handle(subject string, data []byte) {
	b.mu.Lock()
	onCondition, onRequest := b.onCondition, b.onRequest
	b.mu.Unlock()

	if subject == SubjectRequest {
		r, err := bus.ParseRequest(data)
		if err != nil {
			log.Printf("nats: %s: %v", subject, err)
			return
		}
		if onRequest != nil {
			onRequest(r)
		}
		return
	}

	name, ok := strings.CutPrefix(subject, ConditionPrefix+".")
	if !ok {
		return
	}
	c, err := bus.ParseCondition(name, data, "nats", b.now())
	if err != nil {
		log.Printf("nats: %s: %v", subject, err)
		return
	}
	if onCondition != nil {
		onCondition(c)
	}
}
