// Package bus defines the event bus contract shared by the MQTT and NATS
// transports: outbound transmitter and system events, inbound condition
// updates and requests, and their JSON payloads.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

// Publisher publishes events to the bus.
type Publisher interface {
	// Publish sends a transmitter event.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the bus connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Subscriber delivers inbound messages. Handlers are called from the
// transport's goroutines and must only hand the value over.
type Subscriber interface {
	Subscribe(onCondition func(sense.Change), onRequest func(Request)) error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT", "IDLE" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the event message payload structure.
type Payload struct {
	Transmitter TransmitterPayload `json:"transmitter"`
}

// TransmitterPayload contains the transmitter event details.
type TransmitterPayload struct {
	Timestamp    string `json:"timestamp"`
	Event        string `json:"event"`
	State        string `json:"state"`
	Connected    bool   `json:"connected"`
	FrequencyKHz uint32 `json:"frequency_khz"`
	Reason       string `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for a transmitter event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Transmitter: TransmitterPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			State:        event.State.String(),
			Connected:    event.Connected,
			FrequencyKHz: event.Frequency,
			Reason:       event.Reason,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Request asks the transmitter to change. Nil fields are left alone.
type Request struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	FrequencyKHz *uint32 `json:"frequency_khz,omitempty"`
}

// ParseRequest decodes a request payload.
func ParseRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if r.Enabled == nil && r.FrequencyKHz == nil {
		return Request{}, fmt.Errorf("empty request")
	}
	return r, nil
}

// ParseCondition turns a condition name and a boolean payload into a change.
func ParseCondition(name string, payload []byte, source string, now time.Time) (sense.Change, error) {
	c, err := logic.ParseCondition(name)
	if err != nil {
		return sense.Change{}, err
	}
	v, err := sense.ParseBool(string(payload))
	if err != nil {
		return sense.Change{}, fmt.Errorf("condition %s: %w", name, err)
	}
	return sense.Change{Condition: c, Value: v, Time: now, Source: source}, nil
}
