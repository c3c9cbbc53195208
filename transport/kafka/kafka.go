// Package kafka implements the graphload.Broker interface against an Apache
// Kafka cluster.
package kafka

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/transport"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// Conf configures a Kafka Broker
type Conf struct {
	// Brokers lists bootstrap addresses, e.g. "kafka:9092"
	Brokers []string
	// ClientID identifies this loader to the cluster
	ClientID string
	// MaxBytes bounds a single fetch. Defaults to 100MB, matching the
	// default topic max message size.
	MaxBytes int
	// FromEarliest starts new consumers at the oldest available offset
	// instead of the most recent
	FromEarliest bool
	// CompressedValues indicates message values are lz4-compressed by the
	// server-side producer and must be decompressed on poll
	CompressedValues bool
	// Username/Password enable SASL/PLAIN authentication when non-empty
	Username string
	Password string
	// TLS enables TLS when non-nil
	TLS *tls.Config
}

// Broker is a graphload.Broker backed by a Kafka cluster
type Broker struct {
	conf   *Conf
	client *kafkago.Client
	dialer *kafkago.Dialer
}

// CreateBroker returns a Broker for the given Conf
func CreateBroker(conf *Conf) (*Broker, error) {
	if len(conf.Brokers) == 0 {
		return nil, errors.ConfigurationError{Reason: "at least one broker address is required"}
	}
	if conf.MaxBytes == 0 {
		conf.MaxBytes = 104857600
	}
	rt := &kafkago.Transport{ClientID: conf.ClientID, TLS: conf.TLS}
	dialer := &kafkago.Dialer{ClientID: conf.ClientID, Timeout: 10 * time.Second, DualStack: true, TLS: conf.TLS}
	if conf.Username != "" {
		mechanism := plain.Mechanism{Username: conf.Username, Password: conf.Password}
		rt.SASL = mechanism
		dialer.SASLMechanism = mechanism
	}
	client := &kafkago.Client{Addr: kafkago.TCP(conf.Brokers...), Transport: rt}
	return &Broker{conf: conf, client: client, dialer: dialer}, nil
}

// CreateTopic creates the topic if it does not exist, returning true iff
// this call created it
func (b *Broker) CreateTopic(ctx context.Context, topic string, conf graphload.TopicConfig) (bool, error) {
	if conf.Partitions == 0 {
		conf.Partitions = 1
	}
	if conf.ReplicationFactor == 0 {
		conf.ReplicationFactor = 1
	}
	entries := []kafkago.ConfigEntry{}
	if conf.RetentionMS > 0 {
		entries = append(entries, kafkago.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(conf.RetentionMS, 10)})
	}
	if conf.MaxMessageBytes > 0 {
		entries = append(entries, kafkago.ConfigEntry{ConfigName: "max.message.bytes", ConfigValue: strconv.FormatInt(conf.MaxMessageBytes, 10)})
	}
	resp, err := b.client.CreateTopics(ctx, &kafkago.CreateTopicsRequest{
		Topics: []kafkago.TopicConfig{{
			Topic:             topic,
			NumPartitions:     conf.Partitions,
			ReplicationFactor: conf.ReplicationFactor,
			ConfigEntries:     entries,
		}},
	})
	if err != nil {
		return false, errors.TransportError{Op: "topic create", Err: err}
	}
	if topicErr := resp.Errors[topic]; topicErr != nil {
		if stderrors.Is(topicErr, kafkago.TopicAlreadyExists) {
			return false, nil
		}
		return false, errors.TransportError{Op: "topic create", Err: topicErr}
	}
	return true, nil
}

// Subscribe opens a consumer on the topic. A non-empty groupID joins a
// consumer group, delegating partition assignment and offset commits to the
// broker.
func (b *Broker) Subscribe(ctx context.Context, topic string, groupID string) (graphload.Consumer, error) {
	startOffset := kafkago.LastOffset
	if b.conf.FromEarliest {
		startOffset = kafkago.FirstOffset
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     b.conf.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		Dialer:      b.dialer,
		MinBytes:    1,
		MaxBytes:    b.conf.MaxBytes,
		StartOffset: startOffset,
	})
	return &consumer{reader: reader, compressed: b.conf.CompressedValues}, nil
}

// DeleteTopic removes the topic and the data residing in it
func (b *Broker) DeleteTopic(ctx context.Context, topic string) error {
	resp, err := b.client.DeleteTopics(ctx, &kafkago.DeleteTopicsRequest{Topics: []string{topic}})
	if err != nil {
		return errors.TransportError{Op: "topic delete", Err: err}
	}
	if topicErr := resp.Errors[topic]; topicErr != nil {
		return errors.TransportError{Op: "topic delete", Err: topicErr}
	}
	return nil
}

type consumer struct {
	reader     *kafkago.Reader
	compressed bool
}

// Poll waits up to the given duration for messages. Once one message
// arrives, any further messages already buffered are drained without
// additional waiting.
func (c *consumer) Poll(ctx context.Context, wait time.Duration) ([]graphload.Message, error) {
	var messages []graphload.Message
	deadline := wait
	for {
		pollCtx, cancel := context.WithTimeout(ctx, deadline)
		msg, err := c.reader.ReadMessage(pollCtx)
		cancel()
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				return messages, nil
			}
			if ctx.Err() != nil {
				return messages, ctx.Err()
			}
			return messages, errors.TransportError{Op: "poll", Err: err}
		}
		value := msg.Value
		if c.compressed {
			value, err = transport.DecompressValue(value)
			if err != nil {
				return messages, errors.TransportError{Op: "poll", Err: err}
			}
		}
		messages = append(messages, graphload.Message{Key: string(msg.Key), Value: value})
		// Short follow-up wait to batch whatever is already buffered.
		deadline = 10 * time.Millisecond
	}
}

// Close unsubscribes from the topic and releases the consumer
func (c *consumer) Close() error {
	return c.reader.Close()
}
