// Package kafka provides the Kafka transport. Change envelopes are consumed
// through a consumer group; the next message of a partition is only delivered
// after the previous one was acked.
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cdcsync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka: brokers are required")
	}

	subscriberSarama, err := SubscriberSaramaConfig(cfg.GetKafkaClientID(), cfg.GetKafkaInitialOffset())
	if err != nil {
		return transport.Transport{}, err
	}

	publisherSarama := kafka.DefaultSaramaSyncPublisherConfig()
	publisherSarama.Producer.Partitioner = sarama.NewHashPartitioner
	if id := cfg.GetKafkaClientID(); id != "" {
		publisherSarama.ClientID = id
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(partitionKey),
			OverwriteSaramaConfig: publisherSarama,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subscriberSarama,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// SubscriberSaramaConfig returns the consumer settings. initialOffset is
// "earliest" (default) or "latest" and only applies when the group has no
// committed offset yet.
func SubscriberSaramaConfig(clientID, initialOffset string) (*sarama.Config, error) {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	if clientID != "" {
		saramaCfg.ClientID = clientID
	}

	switch strings.ToLower(initialOffset) {
	case "", "earliest", "oldest":
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "latest", "newest":
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("kafka: invalid initial offset %q", initialOffset)
	}
	return saramaCfg, nil
}

// partitionKey keys published messages by MetadataPartitionKey so related
// messages share a partition.
func partitionKey(topic string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(transport.MetadataPartitionKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
