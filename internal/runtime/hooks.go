package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// MessageContext describes the message the Driver is working on.
type MessageContext struct {
	// Topic is the topic the message was received from, when known.
	Topic string
	// MessageUUID is the transport-level message identifier.
	MessageUUID string
	// Partition and Offset are set for partitioned logs such as Kafka.
	Partition *int32
	Offset    *int64
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when processing started.
	StartedAt time.Time
	// Duration is only set in OnProcessed.
	Duration time.Duration
}

// Hooks are optional callbacks around each processed message. Nil hooks are
// not called. Hooks run on the processing goroutine and delay the ack.
type Hooks struct {
	// OnReceived is called before the envelope is decoded.
	OnReceived func(ctx MessageContext)
	// OnProcessed is called once the final stage is known.
	OnProcessed func(ctx MessageContext, outcome Outcome)
}

// Merge combines two Hooks. The hooks from other are called after h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnReceived:  chainReceivedHooks(h.OnReceived, other.OnReceived),
		OnProcessed: chainProcessedHooks(h.OnProcessed, other.OnProcessed),
	}
}

func chainReceivedHooks(a, b func(MessageContext)) func(MessageContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx MessageContext) {
		a(ctx)
		b(ctx)
	}
}

func chainProcessedHooks(a, b func(MessageContext, Outcome)) func(MessageContext, Outcome) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx MessageContext, out Outcome) {
		a(ctx, out)
		b(ctx, out)
	}
}

// OutcomeHooks returns hooks that forward every outcome to fn.
func OutcomeHooks(fn func(Outcome)) Hooks {
	if fn == nil {
		return Hooks{}
	}
	return Hooks{
		OnProcessed: func(_ MessageContext, out Outcome) {
			fn(out)
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for dropped writes and
// abandoned messages.
func AlertingHooks(alertFunc func(ctx MessageContext, out Outcome)) Hooks {
	return Hooks{
		OnProcessed: func(ctx MessageContext, out Outcome) {
			if out.Dropped || out.Stage == StageAbandoned {
				alertFunc(ctx, out)
			}
		},
	}
}
