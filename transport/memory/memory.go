// Package memory implements the graphload.Broker interface in process
// memory. It backs tests and local runs that need transport semantics
// without a cluster.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/transport"
)

// Conf configures an in-memory Broker
type Conf struct {
	// CompressedValues applies lz4 to published values and strips it on poll
	CompressedValues bool
}

// Broker is a graphload.Broker held entirely in process memory
type Broker struct {
	conf   Conf
	lock   sync.Mutex
	topics map[string]*topic
	// groupOffsets tracks the next offset per (topic, group), so consumers
	// sharing a group id never receive the same message twice
	groupOffsets map[string]*int
}

type topic struct {
	conf     graphload.TopicConfig
	messages []graphload.Message
}

// CreateBroker returns an empty in-memory Broker
func CreateBroker(conf Conf) *Broker {
	return &Broker{
		conf:         conf,
		topics:       make(map[string]*topic),
		groupOffsets: make(map[string]*int),
	}
}

// CreateTopic creates the topic if it does not exist, returning true iff
// this call created it
func (b *Broker) CreateTopic(ctx context.Context, name string, conf graphload.TopicConfig) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.topics[name]; ok {
		return false, nil
	}
	b.topics[name] = &topic{conf: conf}
	return true, nil
}

// DeleteTopic removes the topic and its messages
func (b *Broker) DeleteTopic(ctx context.Context, name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.topics[name]; !ok {
		return errors.TransportError{Op: "topic delete", Err: errors.ConfigurationError{Reason: "topic " + name + " does not exist"}}
	}
	delete(b.topics, name)
	return nil
}

// HasTopic reports whether the topic currently exists
func (b *Broker) HasTopic(name string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	_, ok := b.topics[name]
	return ok
}

// Publish appends a message to the topic, standing in for the server-side
// producer
func (b *Broker) Publish(name string, key string, value []byte) error {
	if b.conf.CompressedValues {
		compressed, err := transport.CompressValue(value)
		if err != nil {
			return err
		}
		value = compressed
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return errors.TransportError{Op: "publish", Err: errors.ConfigurationError{Reason: "topic " + name + " does not exist"}}
	}
	t.messages = append(t.messages, graphload.Message{Key: key, Value: value})
	return nil
}

// Subscribe opens a consumer on the topic. Consumers sharing a non-empty
// groupID share one offset, so each message is delivered to at most one of
// them.
func (b *Broker) Subscribe(ctx context.Context, name string, groupID string) (graphload.Consumer, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.topics[name]; !ok {
		return nil, errors.TransportError{Op: "subscribe", Err: errors.ConfigurationError{Reason: "topic " + name + " does not exist"}}
	}
	var offset *int
	if groupID != "" {
		key := name + "\x00" + groupID
		offset = b.groupOffsets[key]
		if offset == nil {
			offset = new(int)
			b.groupOffsets[key] = offset
		}
	} else {
		offset = new(int)
	}
	return &consumer{broker: b, topic: name, offset: offset}, nil
}

type consumer struct {
	broker *Broker
	topic  string
	offset *int
	closed bool
}

// Poll returns any messages past the consumer's offset, waiting up to the
// given duration for new ones to arrive
func (c *consumer) Poll(ctx context.Context, wait time.Duration) ([]graphload.Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs, err := c.take()
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *consumer) take() ([]graphload.Message, error) {
	c.broker.lock.Lock()
	defer c.broker.lock.Unlock()
	if c.closed {
		return nil, errors.TransportError{Op: "poll", Err: errors.ConfigurationError{Reason: "consumer is closed"}}
	}
	t, ok := c.broker.topics[c.topic]
	if !ok {
		// Topic deleted mid-subscription: nothing more will arrive.
		return nil, nil
	}
	if *c.offset >= len(t.messages) {
		return nil, nil
	}
	pending := t.messages[*c.offset:]
	msgs := make([]graphload.Message, 0, len(pending))
	for _, m := range pending {
		value := m.Value
		if c.broker.conf.CompressedValues {
			decompressed, err := transport.DecompressValue(value)
			if err != nil {
				return nil, errors.TransportError{Op: "poll", Err: err}
			}
			value = decompressed
		}
		msgs = append(msgs, graphload.Message{Key: m.Key, Value: value})
	}
	*c.offset = len(t.messages)
	return msgs, nil
}

// Close unsubscribes from the topic
func (c *consumer) Close() error {
	c.broker.lock.Lock()
	defer c.broker.lock.Unlock()
	c.closed = true
	return nil
}
