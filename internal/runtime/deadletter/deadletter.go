// Package deadletter republishes messages the driver gave up on.
//
// The original payload is kept byte for byte as the message body so a dead
// letter can be replayed onto the source topic unchanged. The failure context
// travels in metadata, in the same way watermill's poison queue does it.
package deadletter

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	idspkg "github.com/drblury/cdcsync/internal/runtime/ids"
	"github.com/drblury/cdcsync/transport"
)

// Metadata keys set on every dead letter.
const (
	MetadataReason      = "cdcsync_dead_letter_reason"
	MetadataError       = "cdcsync_dead_letter_error"
	MetadataSourceTopic = "cdcsync_source_topic"
	MetadataSourceUUID  = "cdcsync_source_uuid"
	MetadataPartition   = "cdcsync_source_partition"
	MetadataOffset      = "cdcsync_source_offset"
	MetadataOperation   = "cdcsync_operation"
	MetadataRowID       = "cdcsync_row_id"
)

// Reasons attached to dead letters. Decode failures use the DecodeError reason.
const (
	ReasonApplyFailed = "apply_failed"
	ReasonPanic       = "panic"
)

// Entry is one message being dead-lettered.
type Entry struct {
	Reason string
	Err    error

	Payload    []byte
	SourceUUID string
	// Metadata of the source message; copied onto the dead letter before the
	// failure keys are set.
	Metadata message.Metadata

	SourceTopic string
	Partition   *int32
	Offset      *int64

	Operation string
	RowID     *int64
}

// Publisher sends entries to a fixed dead-letter topic.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// New returns a Publisher writing to topic.
func New(publisher message.Publisher, topic string) (*Publisher, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &Publisher{publisher: publisher, topic: topic}, nil
}

// Topic returns the dead-letter topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish writes the entry. A nil Publisher reports ErrDeadLetterNotEnabled.
func (p *Publisher) Publish(ctx context.Context, e Entry) error {
	if p == nil {
		return errspkg.ErrDeadLetterNotEnabled
	}

	msg := NewMessage(e)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return p.publisher.Publish(p.topic, msg)
}

// NewMessage builds the dead-letter message for e.
func NewMessage(e Entry) *message.Message {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	for k, v := range e.Metadata {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(MetadataReason, e.Reason)
	if e.Err != nil {
		msg.Metadata.Set(MetadataError, e.Err.Error())
	}
	if e.SourceTopic != "" {
		msg.Metadata.Set(MetadataSourceTopic, e.SourceTopic)
	}
	if e.SourceUUID != "" {
		msg.Metadata.Set(MetadataSourceUUID, e.SourceUUID)
	}
	if e.Partition != nil {
		msg.Metadata.Set(MetadataPartition, strconv.FormatInt(int64(*e.Partition), 10))
	}
	if e.Offset != nil {
		msg.Metadata.Set(MetadataOffset, strconv.FormatInt(*e.Offset, 10))
	}
	if e.Operation != "" {
		msg.Metadata.Set(MetadataOperation, e.Operation)
	}
	// Dead letters of the same row share a partition.
	if e.RowID != nil {
		rowID := strconv.FormatInt(*e.RowID, 10)
		msg.Metadata.Set(MetadataRowID, rowID)
		msg.Metadata.Set(transport.MetadataPartitionKey, rowID)
	}
	return msg
}
