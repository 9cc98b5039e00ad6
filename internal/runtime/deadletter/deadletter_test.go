package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	"github.com/drblury/cdcsync/transport"
)

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(string, ...*message.Message) error { return p.err }
func (p failingPublisher) Close() error                              { return nil }

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, "dlq")
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	_, err = New(pubSub, "")
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
}

func TestPublishKeepsPayloadAndContext(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	p, err := New(pubSub, "cdc.dead-letter")
	require.NoError(t, err)
	assert.Equal(t, "cdc.dead-letter", p.Topic())

	partition := int32(2)
	offset := int64(1234)
	rowID := int64(7)
	payload := []byte(`{not json`)

	err = p.Publish(context.Background(), Entry{
		Reason:      ReasonApplyFailed,
		Err:         errors.New("constraint failed"),
		Payload:     payload,
		SourceUUID:  "source-uuid",
		Metadata:    message.Metadata{"correlation_id": "corr-1"},
		SourceTopic: "local-postgres.public.mytable",
		Partition:   &partition,
		Offset:      &offset,
		Operation:   "update",
		RowID:       &rowID,
	})
	require.NoError(t, err)

	messages, err := pubSub.Subscribe(context.Background(), "cdc.dead-letter")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, payload, []byte(msg.Payload))
		assert.NotEmpty(t, msg.UUID)
		assert.Equal(t, "corr-1", msg.Metadata.Get("correlation_id"))
		assert.Equal(t, ReasonApplyFailed, msg.Metadata.Get(MetadataReason))
		assert.Equal(t, "constraint failed", msg.Metadata.Get(MetadataError))
		assert.Equal(t, "local-postgres.public.mytable", msg.Metadata.Get(MetadataSourceTopic))
		assert.Equal(t, "source-uuid", msg.Metadata.Get(MetadataSourceUUID))
		assert.Equal(t, "2", msg.Metadata.Get(MetadataPartition))
		assert.Equal(t, "1234", msg.Metadata.Get(MetadataOffset))
		assert.Equal(t, "update", msg.Metadata.Get(MetadataOperation))
		assert.Equal(t, "7", msg.Metadata.Get(MetadataRowID))
		assert.Equal(t, "7", msg.Metadata.Get(transport.MetadataPartitionKey))
	case <-time.After(2 * time.Second):
		t.Fatal("dead letter was not published")
	}
}

func TestNewMessageOmitsUnknownContext(t *testing.T) {
	msg := NewMessage(Entry{Reason: "malformed", Payload: []byte("x")})

	assert.Equal(t, "malformed", msg.Metadata.Get(MetadataReason))
	for _, key := range []string{MetadataError, MetadataPartition, MetadataOffset, MetadataRowID, MetadataOperation} {
		_, ok := msg.Metadata[key]
		assert.False(t, ok, key)
	}
}

func TestNewMessageCopiesPayload(t *testing.T) {
	payload := []byte("abc")
	msg := NewMessage(Entry{Payload: payload})
	payload[0] = 'z'
	assert.Equal(t, "abc", string(msg.Payload))
}

func TestPublishErrors(t *testing.T) {
	var nilPublisher *Publisher
	assert.ErrorIs(t, nilPublisher.Publish(context.Background(), Entry{}), errspkg.ErrDeadLetterNotEnabled)

	boom := errors.New("broker down")
	p, err := New(failingPublisher{err: boom}, "dlq")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Publish(context.Background(), Entry{Reason: ReasonPanic}), boom)
}
