// Package transport defines the bus abstraction consumed by the worker.
// Each transport implementation (nats, jetstream, kafka, rabbitmq,
// channel) lives in its own sub-package and registers itself with the
// transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports. The
// interface keeps transport packages decoupled from the full worker
// config.
type Config interface {
	// GetBusSystem returns the transport type name.
	GetBusSystem() string

	// NATS / JetStream
	GetNATSURL() string
	GetJetStreamStream() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string
}

// SourceOptions carries the per-source subscription settings the
// subscription lifecycle manager applies when a transport supports them.
type SourceOptions struct {
	// Subject is the fully resolved subscribe subject.
	Subject string

	// AckWait is how long the bus waits for an ack before redelivering.
	// Zero keeps the transport default.
	AckWait time.Duration

	// DurableName lets the subscription resume from its last acked
	// position across worker restarts. Empty means ephemeral.
	DurableName string

	// MaxInFlight caps the unacknowledged deliveries outstanding on this
	// subject. The worker always requests 1 to serialise processing per
	// subject.
	MaxInFlight int
}

// SourceSubscriber is implemented by transports that honour per-source
// subscription options: manual acknowledgment, a start position of
// "now", ack-wait and durable-name overrides, and an in-flight limit.
// Transports without it fall back to plain Subscribe, where the
// dispatch loop's one-message-at-a-time consumption provides the
// in-flight bound.
type SourceSubscriber interface {
	SubscribeSource(ctx context.Context, opts SourceOptions) (<-chan *message.Message, error)
}
