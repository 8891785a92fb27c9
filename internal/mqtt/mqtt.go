// Package mqtt carries transmitter events out and condition updates in over
// an MQTT broker.
package mqtt

import "time"

// Default topics. Conditions arrive on ConditionPrefix + "/" + name.
const (
	TopicEvents     = "fmtx/transmitter/events"
	TopicSystem     = "fmtx/transmitter/system"
	TopicRequest    = "fmtx/transmitter/request"
	ConditionPrefix = "fmtx/conditions"
)

// Options configures a Publisher.
type Options struct {
	Broker   string
	ClientID string

	// BufferSize is how many messages are kept while disconnected.
	BufferSize int

	// PublishTimeout bounds each publish when connected.
	PublishTimeout time.Duration

	Events          string
	System          string
	Request         string
	ConditionPrefix string
}

// DefaultOptions returns options for broker with the default topics.
func DefaultOptions(broker string) Options {
	return Options{
		Broker:          broker,
		ClientID:        "fmtxd",
		BufferSize:      100,
		PublishTimeout:  5 * time.Second,
		Events:          TopicEvents,
		System:          TopicSystem,
		Request:         TopicRequest,
		ConditionPrefix: ConditionPrefix,
	}
}
