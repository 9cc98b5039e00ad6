/*
Package runtime provides the change consumer behind cdcsync.

# Architecture Overview

A Watermill router subscribes to the change topic of one mirrored table. Every
message is handed to the Driver, which decodes the envelope, records the
propagation delay, applies the change to the destination table and lets the
router acknowledge it. One handler consumes one topic, so messages are applied
in the order the transport delivers them.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill) and its signal handling
  - Publisher and subscriber built by the transport factory
  - Destination sink (PostgreSQL, MySQL or SQLite)
  - Dead-letter publisher
  - HTTP server for /metrics, /healthz and the status API

## Driver (driver.go)

Per-message sequencing: decode, latency check, apply with exponential backoff,
dead-letter on failure, acknowledge. A failing message never stops the stream;
only a message interrupted by shutdown is left unacknowledged.

## Hooks (hooks.go)

OnReceived and OnProcessed callbacks around each message. ConsumerStats and
AlertingHooks are built on them.

## Middleware (middleware.go)

  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Watermill router metrics on the service registry
  - Recoverer: Panic recovery outside the Driver

## Stats & Status (stats.go, status.go)

Propagation and processing latency percentiles, throughput and an error
breakdown, served as JSON on /api/status.

## Publishing (publisher.go)

Helpers that publish change envelopes keyed by row id, used by the local
example and replay tooling.

# Sub-packages

  - cdc/: Envelope decoding
  - config/: Configuration loading (YAML and environment) with validation
  - deadletter/: Dead-letter messages and publisher
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - latency/: Propagation delay observer
  - logging/: Logger interface and adapters
  - metrics/: Prometheus collectors
  - sink/: SQL upserts and deletes
  - transport/: Transport factory over the transport registry

# Usage Example

	cfg, err := config.Load("cdcsync.yaml")
	if err != nil {
		return err
	}

	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
