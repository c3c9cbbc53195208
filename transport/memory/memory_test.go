package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/stretchr/testify/require"
)

func TestTopicLifecycle(t *testing.T) {
	b := CreateBroker(Conf{})

	created, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)
	require.True(t, created)
	require.True(t, b.HasTopic("batches"))

	created, err = b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)
	require.False(t, created)

	require.Nil(t, b.DeleteTopic(context.Background(), "batches"))
	require.False(t, b.HasTopic("batches"))
	require.NotNil(t, b.DeleteTopic(context.Background(), "batches"))
}

func TestPublishAndPoll(t *testing.T) {
	b := CreateBroker(Conf{})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)

	consumer, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	defer consumer.Close()

	require.Nil(t, b.Publish("batches", "vertex_0", []byte("a,1\n")))
	require.Nil(t, b.Publish("batches", "edge_0", []byte("a,b\n")))

	msgs, err := consumer.Poll(context.Background(), 100*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "vertex_0", msgs[0].Key)
	require.Equal(t, "a,1\n", string(msgs[0].Value))
	require.Equal(t, "edge_0", msgs[1].Key)

	// The offset advanced past everything delivered.
	msgs, err = consumer.Poll(context.Background(), 10*time.Millisecond)
	require.Nil(t, err)
	require.Empty(t, msgs)
}

func TestCompressedValuesRoundTrip(t *testing.T) {
	b := CreateBroker(Conf{CompressedValues: true})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)
	consumer, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	defer consumer.Close()

	payload := "99,1 0 0 1,1\n8,0 1 1 0,0\n"
	require.Nil(t, b.Publish("batches", "vertex_0", []byte(payload)))

	msgs, err := consumer.Poll(context.Background(), 100*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, payload, string(msgs[0].Value))
}

func TestGroupedConsumersShareOffsets(t *testing.T) {
	b := CreateBroker(Conf{})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)

	first, err := b.Subscribe(context.Background(), "batches", "readers")
	require.Nil(t, err)
	defer first.Close()
	second, err := b.Subscribe(context.Background(), "batches", "readers")
	require.Nil(t, err)
	defer second.Close()

	require.Nil(t, b.Publish("batches", "vertex_0", []byte("a")))
	msgs, err := first.Poll(context.Background(), 100*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)

	msgs, err = second.Poll(context.Background(), 10*time.Millisecond)
	require.Nil(t, err)
	require.Empty(t, msgs)
}

func TestIndependentConsumersEachReceive(t *testing.T) {
	b := CreateBroker(Conf{})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)

	first, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	defer first.Close()
	second, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	defer second.Close()

	require.Nil(t, b.Publish("batches", "vertex_0", []byte("a")))

	msgs, err := first.Poll(context.Background(), 100*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	msgs, err = second.Poll(context.Background(), 100*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
}

func TestPollWaitsForLatePublish(t *testing.T) {
	b := CreateBroker(Conf{})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)
	consumer, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	defer consumer.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish("batches", "vertex_0", []byte("late"))
	}()

	msgs, err := consumer.Poll(context.Background(), time.Second)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "late", string(msgs[0].Value))
}

func TestClosedConsumerRejectsPoll(t *testing.T) {
	b := CreateBroker(Conf{})
	_, err := b.CreateTopic(context.Background(), "batches", graphload.TopicConfig{})
	require.Nil(t, err)
	consumer, err := b.Subscribe(context.Background(), "batches", "")
	require.Nil(t, err)
	require.Nil(t, consumer.Close())
	_, err = consumer.Poll(context.Background(), 10*time.Millisecond)
	require.NotNil(t, err)
}
