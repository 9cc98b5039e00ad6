package channel

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cdcsync/transport"
	"github.com/drblury/cdcsync/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.DefaultRegistry.Has("channel"))
	assert.True(t, transport.DefaultRegistry.Has("gochannel"))
	assert.True(t, transport.GetCapabilities("gochannel").SupportsOrdering)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildDeliversInOrder(t *testing.T) {
	const total = 200

	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	messages, err := tr.Subscriber.Subscribe(ctx, "changes")
	require.NoError(t, err)

	published := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			msg := message.NewMessage(watermill.NewUUID(), []byte(strconv.Itoa(i)))
			if err := tr.Publisher.Publish("changes", msg); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	for i := 0; i < total; i++ {
		select {
		case msg := <-messages:
			if got := string(msg.Payload); got != strconv.Itoa(i) {
				t.Errorf("position %d: got %s", i, got)
			}
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	require.NoError(t, <-published)
}

func TestPublishWaitsForAck(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := tr.Subscriber.Subscribe(ctx, "changes")
	require.NoError(t, err)

	published := make(chan struct{})
	go func() {
		_ = tr.Publisher.Publish("changes", message.NewMessage(watermill.NewUUID(), []byte("first")))
		close(published)
	}()

	msg := <-messages
	select {
	case <-published:
		t.Fatal("publish returned before the message was acked")
	case <-time.After(50 * time.Millisecond):
	}
	msg.Ack()

	select {
	case <-published:
	case <-ctx.Done():
		t.Fatal("publish did not return after ack")
	}
}
