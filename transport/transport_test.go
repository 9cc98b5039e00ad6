package transport

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Interface(t *testing.T) {
	var _ Config = (*mockConfig)(nil)

	cfg := &mockConfig{pubSubSystem: "test"}
	assert.Equal(t, "test", cfg.GetPubSubSystem())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var provider CapabilitiesProvider = testProvider{}
	assert.Equal(t, "test", provider.Capabilities().Name)
}

func TestTransportCloseClosesBothHalves(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}

	assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseReturnsFirstError(t *testing.T) {
	subErr := errors.New("subscriber")
	pub := &mockPublisher{err: errors.New("publisher")}
	sub := &mockSubscriber{err: subErr}

	assert.Equal(t, subErr, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	assert.NoError(t, Transport{Publisher: pubSub, Subscriber: pubSub}.Close())
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}
