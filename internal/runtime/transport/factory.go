// Package transport resolves the configured pub/sub system into a ready
// publisher and subscriber pair.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/cdcsync/internal/runtime/config"
	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	"github.com/drblury/cdcsync/transport"

	_ "github.com/drblury/cdcsync/transport/transports"
)

// Transport is the publisher and subscriber pair built for the service.
type Transport = transport.Transport

// Factory abstracts how the service initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
	Capabilities(conf *config.Config) transport.Capabilities
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: transport.DefaultRegistry}
}

// RegistryFactory returns a factory backed by registry.
func RegistryFactory(registry *transport.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	return f.registry.Build(ctx, conf, logger)
}

func (f registryFactory) Capabilities(conf *config.Config) transport.Capabilities {
	if conf == nil {
		return transport.Capabilities{}
	}
	return f.registry.GetCapabilities(conf.GetPubSubSystem())
}
