package graphload

import (
	"context"
	"time"
)

// Message is one raw payload polled from a message-queue topic
type Message struct {
	Key   string
	Value []byte
}

// TopicConfig carries topic creation parameters. These affect broker
// behaviour, not loader semantics.
type TopicConfig struct {
	Partitions        int
	ReplicationFactor int
	RetentionMS       int64
	MaxMessageBytes   int64
}

// Broker is the message-queue collaborator used to decouple server-side
// result production from client-side consumption
type Broker interface {
	// CreateTopic creates the topic if it does not exist. It returns true
	// iff this call created the topic.
	CreateTopic(ctx context.Context, topic string, conf TopicConfig) (bool, error)
	// Subscribe opens a Consumer on the topic. A non-empty groupID joins a
	// consumer group, delegating partition assignment to the broker.
	Subscribe(ctx context.Context, topic string, groupID string) (Consumer, error)
	// DeleteTopic removes the topic and the data residing in it
	DeleteTopic(ctx context.Context, topic string) error
}

// Consumer is a subscription to a single topic
type Consumer interface {
	// Poll waits up to the given duration for messages. An empty result
	// with a nil error means no messages arrived within the wait.
	Poll(ctx context.Context, wait time.Duration) ([]Message, error)
	// Close unsubscribes from the topic and releases the consumer
	Close() error
}
