// Package cdcsync mirrors a single database table from a change-data-capture
// stream into a destination SQL table. It consumes change envelopes (the
// before/after row images a CDC connector writes for every insert, update and
// delete) from a Watermill transport, applies them to PostgreSQL, MySQL or
// SQLite, and acknowledges each message once it has been handled.
//
// A Service reads the transport (Kafka, RabbitMQ, AWS SQS, NATS, HTTP, I/O or
// Go Channels) from Config, opens the destination, and runs one router handler
// for the change topic. Every message goes through the Driver: decode, record
// the propagation delay from the source commit time, apply with exponential
// backoff, and acknowledge. Malformed envelopes and unsupported operations are
// logged, counted and, when DeadLetterTopic is set, forwarded to the dead
// letter topic; they never stop the stream. A minimal setup is LoadConfig,
// NewService and Start.
//
// # Transports
//
// cdcsync supports 7 message transports out of the box:
//   - kafka: Partitioned log with consumer groups; preserves per-row order
//   - rabbitmq: Durable AMQP queues, one consumer per queue
//   - nats: JetStream durable consumers
//   - aws: SQS queues with LocalStack support; no ordering guarantee
//   - http: Envelopes POSTed to the consumer
//   - io: JSON lines file, useful for replays
//   - channel: In-memory Go channels for tests and the local example
//
// Transports without ordering guarantees are accepted but logged with a
// warning at startup, since changes to one row may then be applied out of
// order.
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, debug
// logging of payloads, OpenTelemetry tracing, Prometheus router metrics and
// panic recovery. Retries and dead letters are handled by the Driver. Custom
// middleware can be added via ServiceDependencies.Middlewares.
//
// # Hooks
//
// Hooks provide OnReceived and OnProcessed callbacks around each message;
// OutcomeHooks and AlertingHooks cover the common cases.
//
// # Metrics
//
// With MetricsEnabled (the default when loading configuration), /metrics,
// /healthz and /api/status are served on MetricsPort. The cdcsync_propagation_delay_seconds histogram tracks how far
// behind the source the destination is.
package cdcsync
