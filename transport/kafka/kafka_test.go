package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cdcsync/transport"
	"github.com/drblury/cdcsync/transport/transporttest"
)

func stubFactories(t *testing.T, pub func(kafka.PublisherConfig) (message.Publisher, error), sub func(kafka.SubscriberConfig) (message.Subscriber, error)) {
	t.Helper()
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return pub(cfg)
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sub(cfg)
	}
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsPartitioning)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("configures consumer group and offsets", func(t *testing.T) {
		mockPub := &transporttest.Publisher{}
		mockSub := &transporttest.Subscriber{}

		stubFactories(t,
			func(cfg kafka.PublisherConfig) (message.Publisher, error) {
				assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
				require.NotNil(t, cfg.OverwriteSaramaConfig)
				assert.Equal(t, "cdcsync", cfg.OverwriteSaramaConfig.ClientID)
				return mockPub, nil
			},
			func(cfg kafka.SubscriberConfig) (message.Subscriber, error) {
				assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
				assert.Equal(t, "my-sync-group-stable", cfg.ConsumerGroup)
				require.NotNil(t, cfg.OverwriteSaramaConfig)
				assert.Equal(t, sarama.OffsetOldest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
				assert.Equal(t, "cdcsync", cfg.OverwriteSaramaConfig.ClientID)
				return mockSub, nil
			},
		)

		tr, err := Build(context.Background(), &transporttest.Config{
			KafkaBrokers:       []string{"kafka:9092"},
			KafkaConsumerGroup: "my-sync-group-stable",
			KafkaClientID:      "cdcsync",
			KafkaInitialOffset: "earliest",
		}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("rejects unknown initial offset", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{
			KafkaBrokers:       []string{"kafka:9092"},
			KafkaInitialOffset: "middle",
		}, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		stubFactories(t,
			func(kafka.PublisherConfig) (message.Publisher, error) { return nil, errors.New("publisher error") },
			func(kafka.SubscriberConfig) (message.Subscriber, error) { return &transporttest.Subscriber{}, nil },
		)

		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"kafka:9092"}}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		mockPub := &transporttest.Publisher{}
		stubFactories(t,
			func(kafka.PublisherConfig) (message.Publisher, error) { return mockPub, nil },
			func(kafka.SubscriberConfig) (message.Subscriber, error) { return nil, errors.New("subscriber error") },
		)

		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"kafka:9092"}}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
		assert.True(t, mockPub.IsClosed())
	})
}

func TestSubscriberSaramaConfig(t *testing.T) {
	latest, err := SubscriberSaramaConfig("", "latest")
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetNewest, latest.Consumer.Offsets.Initial)

	def, err := SubscriberSaramaConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetOldest, def.Consumer.Offsets.Initial)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("uuid-1", nil)
	key, err := partitionKey("topic", msg)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", key)

	msg.Metadata.Set(transport.MetadataPartitionKey, "42")
	key, err = partitionKey("topic", msg)
	require.NoError(t, err)
	assert.Equal(t, "42", key)
}
