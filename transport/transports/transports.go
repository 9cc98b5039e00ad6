// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/cdcsync/transport/aws"
	_ "github.com/drblury/cdcsync/transport/channel"
	_ "github.com/drblury/cdcsync/transport/http"
	_ "github.com/drblury/cdcsync/transport/io"
	_ "github.com/drblury/cdcsync/transport/kafka"
	_ "github.com/drblury/cdcsync/transport/nats"
	_ "github.com/drblury/cdcsync/transport/rabbitmq"
)
