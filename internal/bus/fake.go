package bus

import (
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// Events contains all transmitter events that were published.
	Events []logic.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	onCondition func(sense.Change)
	onRequest   func(Request)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the transmitter event.
func (f *FakePublisher) Publish(event logic.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Events = append(f.Events, event)

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Subscribe stores the handlers for Deliver.
func (f *FakePublisher) Subscribe(onCondition func(sense.Change), onRequest func(Request)) error {
	f.onCondition = onCondition
	f.onRequest = onRequest
	return nil
}

// DeliverCondition simulates an inbound condition message.
func (f *FakePublisher) DeliverCondition(c sense.Change) {
	if f.onCondition != nil {
		f.onCondition(c)
	}
}

// DeliverRequest simulates an inbound request message.
func (f *FakePublisher) DeliverRequest(r Request) {
	if f.onRequest != nil {
		f.onRequest(r)
	}
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Events = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
