package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cdcsync/internal/runtime/cdc"
	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	idspkg "github.com/drblury/cdcsync/internal/runtime/ids"
	"github.com/drblury/cdcsync/internal/runtime/jsoncodec"
	"github.com/drblury/cdcsync/transport"
)

// Producer emits change envelopes onto the configured transport. It backs the
// local example and replay tooling; the consumer itself never publishes changes.
type Producer interface {
	PublishChange(ctx context.Context, payload []byte, rowID int64) error
}

// NewChangeMessage wraps an envelope in a Watermill message keyed by rowID, so
// partitioned transports keep every change of a row on one partition.
func NewChangeMessage(payload []byte, rowID int64) (*message.Message, error) {
	if !jsoncodec.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", cdc.ErrMalformed)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(transport.MetadataPartitionKey, strconv.FormatInt(rowID, 10))
	return msg, nil
}

// PublishChange validates and publishes one envelope to topic.
func PublishChange(ctx context.Context, publisher message.Publisher, topic string, payload []byte, rowID int64) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewChangeMessage(payload, rowID)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishChange publishes an envelope to the consumed topic using the
// Service publisher.
func (s *Service) PublishChange(ctx context.Context, payload []byte, rowID int64) error {
	if s == nil || s.Conf == nil {
		return errspkg.ErrServiceNotRunnable
	}
	return PublishChange(ctx, s.publisher, s.Conf.Topic, payload, rowID)
}
