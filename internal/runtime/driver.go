package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cdcsync/internal/runtime/cdc"
	"github.com/drblury/cdcsync/internal/runtime/deadletter"
	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	idspkg "github.com/drblury/cdcsync/internal/runtime/ids"
	"github.com/drblury/cdcsync/internal/runtime/latency"
	loggingpkg "github.com/drblury/cdcsync/internal/runtime/logging"
	metricspkg "github.com/drblury/cdcsync/internal/runtime/metrics"
	"github.com/drblury/cdcsync/internal/runtime/sink"
)

const tracerName = "github.com/drblury/cdcsync"

// ErrInterrupted is returned by Handle when the message context was cancelled
// before the change was applied. The message is left unacknowledged.
var ErrInterrupted = errors.New("cdcsync: processing interrupted")

// Stage is the last state a message reached in the Driver.
type Stage int

const (
	StageReceived Stage = iota
	StageDecoded
	StageLatencyChecked
	StageApplied
	StageAcknowledged
	StageAbandoned
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDecoded:
		return "decoded"
	case StageLatencyChecked:
		return "latency_checked"
	case StageApplied:
		return "applied"
	case StageAcknowledged:
		return "acknowledged"
	case StageAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Outcome reports what happened to one message.
type Outcome struct {
	Stage Stage
	Event *cdc.Event

	RowsAffected int64
	Attempts     int

	// Latency is the propagation delay; LatencyErr is set when none was recorded.
	Latency    time.Duration
	LatencyErr error

	// Err is the decode, apply or panic error that ended processing.
	Err error
	// Dropped is set when the write was given up after an apply failure.
	Dropped      bool
	DeadLettered bool
	// Interrupted is set when shutdown cancelled the message before it was applied.
	Interrupted bool
}

// Acked reports whether the message is acknowledged after processing.
func (o Outcome) Acked() bool {
	return !o.Interrupted
}

// Applier writes a decoded change to the destination.
type Applier interface {
	Apply(ctx context.Context, ev *cdc.Event) (int64, error)
}

// RetryPolicy bounds how often a transient apply failure is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// DriverConfig holds the Driver collaborators. Sink is required.
type DriverConfig struct {
	Sink       Applier
	Observer   *latency.Observer
	DeadLetter *deadletter.Publisher
	Recorder   metricspkg.Recorder
	Logger     loggingpkg.ServiceLogger
	Retry      RetryPolicy
	Hooks      Hooks
}

// Driver sequences decode, latency observation, apply and ack for each
// message. A message never stops the stream: every per-message failure ends
// in a log line, a counter and, when configured, a dead letter.
type Driver struct {
	sink       Applier
	observer   *latency.Observer
	deadLetter *deadletter.Publisher
	recorder   metricspkg.Recorder
	logger     loggingpkg.ServiceLogger
	retry      RetryPolicy
	hooks      Hooks
	tracer     trace.Tracer
}

// NewDriver validates cfg and fills defaults for optional collaborators.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Sink == nil {
		return nil, errspkg.ErrSinkRequired
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metricspkg.Nop{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = latency.NewObserver(recorder)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Driver{
		sink:       cfg.Sink,
		observer:   observer,
		deadLetter: cfg.DeadLetter,
		recorder:   recorder,
		logger:     logger,
		retry:      cfg.Retry.withDefaults(),
		hooks:      cfg.Hooks,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Handle is the router handler. It returns nil for every processed message,
// so the router acks it; only an interrupted message is returned as an error.
func (d *Driver) Handle(msg *message.Message) error {
	out := d.process(msg)
	if out.Interrupted {
		return fmt.Errorf("%w: %v", ErrInterrupted, out.Err)
	}
	return nil
}

// Process runs a raw envelope through the Driver, outside of any transport.
func (d *Driver) Process(ctx context.Context, payload []byte) Outcome {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return d.process(msg)
}

func (d *Driver) process(msg *message.Message) (out Outcome) {
	ctx := msg.Context()
	mc := newMessageContext(msg)
	fields := mc.logFields()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.logger.Error("Recovered from panic while processing message", err, withFields(fields, loggingpkg.LogFields{
				"stage": out.Stage.String(),
				"stack": string(debug.Stack()),
			}))
			out.Stage = StageAbandoned
			out.Err = err
			out.DeadLettered = d.sendDeadLetter(ctx, msg, mc, deadletter.ReasonPanic, err, out.Event)
		}
		if out.Acked() {
			d.recorder.Inc(metricspkg.CounterMessagesProcessed)
		}
		if d.hooks.OnProcessed != nil {
			mc.Duration = time.Since(mc.StartedAt)
			d.hooks.OnProcessed(mc, out)
		}
	}()

	out.Stage = StageReceived
	if d.hooks.OnReceived != nil {
		d.hooks.OnReceived(mc)
	}

	ev, err := cdc.Decode(msg.Payload)
	if err != nil {
		return d.abandonUndecodable(ctx, msg, mc, err)
	}
	out.Event = ev
	out.Stage = StageDecoded
	fields = withFields(fields, loggingpkg.LogFields{"op": ev.RawOp, "operation": ev.Operation.String()})
	if id, ok := ev.ID(); ok {
		fields["id"] = id
	}

	out.Latency, out.LatencyErr = d.observer.Observe(ev.SourceCommitTime)
	if out.LatencyErr != nil {
		if errors.Is(out.LatencyErr, latency.ErrNoCommitTime) {
			d.recorder.Inc(metricspkg.CounterLatencySkipped)
		}
		d.logger.Debug("Propagation latency not recorded", withFields(fields, loggingpkg.LogFields{"reason": out.LatencyErr.Error()}))
	} else {
		fields["latency_ms"] = out.Latency.Milliseconds()
	}
	out.Stage = StageLatencyChecked

	rows, attempts, err := d.apply(ctx, ev)
	out.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil && !sink.IsPermanent(err) {
			out.Err = err
			out.Interrupted = true
			d.logger.Info("Processing interrupted before apply completed; message left unacknowledged", fields)
			return out
		}
		out.Err = err
		out.Dropped = true
		d.recorder.Inc(metricspkg.CounterDroppedWrites)
		d.logger.Error("Dropping change after apply failure", err, withFields(fields, loggingpkg.LogFields{
			"attempts":  attempts,
			"permanent": sink.IsPermanent(err),
		}))
		out.DeadLettered = d.sendDeadLetter(ctx, msg, mc, deadletter.ReasonApplyFailed, err, ev)
	} else {
		out.RowsAffected = rows
		out.Stage = StageApplied
		fields["rows_affected"] = rows
	}

	out.Stage = StageAcknowledged
	d.logger.Info("Processed", fields)
	return out
}

func (d *Driver) abandonUndecodable(ctx context.Context, msg *message.Message, mc MessageContext, err error) Outcome {
	reason := "malformed"
	fields := withFields(mc.logFields(), nil)

	var decodeErr *cdc.DecodeError
	if errors.As(err, &decodeErr) {
		reason = decodeErr.Reason()
		if decodeErr.RawOp != "" {
			fields["op"] = decodeErr.RawOp
		}
	}
	fields["reason"] = reason

	d.recorder.Inc(metricspkg.CounterDecodeFailures)
	if errors.Is(err, cdc.ErrUnsupportedOperation) {
		d.recorder.Inc(metricspkg.CounterUnsupportedOps)
		d.logger.Info("Skipping change with unsupported operation", withFields(fields, loggingpkg.LogFields{"error": err.Error()}))
	} else {
		d.logger.Error("Failed to decode change envelope", err, fields)
	}

	return Outcome{
		Stage:        StageAbandoned,
		Err:          err,
		DeadLettered: d.sendDeadLetter(ctx, msg, mc, reason, err, nil),
	}
}

// apply writes ev with exponential backoff. Permanent errors stop immediately.
func (d *Driver) apply(ctx context.Context, ev *cdc.Event) (int64, int, error) {
	ctx, span := d.tracer.Start(ctx, "cdcsync.apply", trace.WithAttributes(
		attribute.String("cdc.operation", ev.Operation.String()),
	))
	defer span.End()
	if id, ok := ev.ID(); ok {
		span.SetAttributes(attribute.Int64("cdc.row_id", id))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialInterval
	b.MaxInterval = d.retry.MaxInterval

	attempts := 0
	rows, err := backoff.Retry(ctx, func() (int64, error) {
		attempts++
		n, err := d.sink.Apply(ctx, ev)
		if err != nil && sink.IsPermanent(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.retry.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.recorder.Inc(metricspkg.CounterApplyRetries)
			d.logger.Debug("Retrying apply", loggingpkg.LogFields{
				"operation": ev.Operation.String(),
				"attempt":   attempts,
				"backoff":   next.String(),
				"error":     err.Error(),
			})
		}),
	)

	span.SetAttributes(attribute.Int("cdc.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, attempts, err
	}
	span.SetAttributes(attribute.Int64("cdc.rows_affected", rows))
	return rows, attempts, nil
}

// sendDeadLetter publishes msg to the dead-letter topic and reports whether it
// was published. Failures are logged and counted, never returned.
func (d *Driver) sendDeadLetter(ctx context.Context, msg *message.Message, mc MessageContext, reason string, cause error, ev *cdc.Event) bool {
	if d.deadLetter == nil {
		return false
	}

	entry := deadletter.Entry{
		Reason:      reason,
		Err:         cause,
		Payload:     msg.Payload,
		SourceUUID:  msg.UUID,
		Metadata:    msg.Metadata,
		SourceTopic: mc.Topic,
		Partition:   mc.Partition,
		Offset:      mc.Offset,
	}
	if ev != nil {
		entry.Operation = ev.RawOp
		if id, ok := ev.ID(); ok {
			entry.RowID = &id
		}
	}

	if err := d.deadLetter.Publish(context.WithoutCancel(ctx), entry); err != nil {
		d.recorder.Inc(metricspkg.CounterDeadLetterFailed)
		d.logger.Error("Failed to publish dead letter", err, withFields(mc.logFields(), loggingpkg.LogFields{
			"reason": reason,
			"topic":  d.deadLetter.Topic(),
		}))
		return false
	}
	d.recorder.Inc(metricspkg.CounterDeadLettered)
	return true
}

func newMessageContext(msg *message.Message) MessageContext {
	ctx := msg.Context()
	mc := MessageContext{
		Topic:       message.SubscribeTopicFromCtx(ctx),
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     ctx,
		StartedAt:   time.Now(),
	}
	if partition, ok := kafka.MessagePartitionFromCtx(ctx); ok {
		mc.Partition = &partition
	}
	if offset, ok := kafka.MessagePartitionOffsetFromCtx(ctx); ok {
		mc.Offset = &offset
	}
	return mc
}

func (mc MessageContext) logFields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{"message_uuid": mc.MessageUUID}
	if mc.Topic != "" {
		fields["topic"] = mc.Topic
	}
	if mc.Partition != nil {
		fields["partition"] = *mc.Partition
	}
	if mc.Offset != nil {
		fields["offset"] = *mc.Offset
	}
	if correlationID := mc.Metadata.Get(middleware.CorrelationIDMetadataKey); correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	return fields
}

func withFields(base, extra loggingpkg.LogFields) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
