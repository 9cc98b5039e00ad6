package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/cdcsync/transport"
)

func TestBuiltinTransportsAreRegistered(t *testing.T) {
	names := transport.DefaultRegistry.Names()
	for _, name := range []string{"aws", "channel", "http", "io", "kafka", "nats", "rabbitmq"} {
		assert.Contains(t, names, name)
	}
}
