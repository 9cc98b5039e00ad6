package cdc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoncodec "github.com/drblury/cdcsync/internal/runtime/jsoncodec"
)

var (
	// ErrMalformed marks payloads that are not a JSON object.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnsupportedOperation marks envelopes whose operation code is missing or unknown.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidRecord marks envelopes whose row snapshot is missing or mistyped.
	ErrInvalidRecord = errors.New("invalid record")
)

// DecodeError describes why an envelope could not be turned into an Event.
// Kind is one of ErrMalformed, ErrUnsupportedOperation or ErrInvalidRecord.
type DecodeError struct {
	Kind  error
	RawOp string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.RawOp != "" {
		fmt.Fprintf(&b, " (op=%q)", e.RawOp)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for the failure kind, suitable for metrics.
func (e *DecodeError) Reason() string {
	switch e.Kind {
	case ErrMalformed:
		return "malformed"
	case ErrUnsupportedOperation:
		return "unsupported_operation"
	case ErrInvalidRecord:
		return "invalid_record"
	default:
		return "unknown"
	}
}

type envelope struct {
	Op      jsoncodec.RawMessage `json:"op"`
	Before  jsoncodec.RawMessage `json:"before"`
	After   jsoncodec.RawMessage `json:"after"`
	Source  jsoncodec.RawMessage `json:"source"`
	Payload jsoncodec.RawMessage `json:"payload"`
}

type rawRecord struct {
	ID          *int64  `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type rawSource struct {
	TsMs *int64 `json:"ts_ms"`
}

// Decode parses a single envelope. It performs no I/O and returns either a
// complete Event or a *DecodeError.
func Decode(raw []byte) (*Event, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if jsoncodec.IsNull(env.Op) && !jsoncodec.IsNull(env.Payload) {
		env, err = parseEnvelope(env.Payload)
		if err != nil {
			return nil, err
		}
	}

	code := operationCode(env.Op)
	op := ParseOperation(code)
	event := &Event{Operation: op, RawOp: code}

	switch {
	case op.IsUpsert():
		rec, err := decodeRecord(env.After, "after", code)
		if err != nil {
			return nil, err
		}
		event.After = rec
	case op == OperationDelete:
		rec, err := decodeRecord(env.Before, "before", code)
		if err != nil {
			return nil, err
		}
		event.Before = rec
	default:
		return nil, &DecodeError{Kind: ErrUnsupportedOperation, RawOp: code}
	}

	event.SourceCommitTime = decodeCommitTime(env.Source)
	return event, nil
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if jsoncodec.IsNull(raw) {
		return env, &DecodeError{Kind: ErrMalformed, Err: errors.New("empty document")}
	}
	if err := jsoncodec.Unmarshal(raw, &env); err != nil {
		return env, &DecodeError{Kind: ErrMalformed, Err: err}
	}
	return env, nil
}

// operationCode returns the op field as text. Non-string values are kept in
// their JSON form so they still show up in logs.
func operationCode(raw jsoncodec.RawMessage) string {
	if jsoncodec.IsNull(raw) {
		return ""
	}
	var code string
	if err := jsoncodec.Unmarshal(raw, &code); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return code
}

func decodeRecord(raw jsoncodec.RawMessage, side, code string) (*Record, error) {
	if jsoncodec.IsNull(raw) {
		return nil, &DecodeError{Kind: ErrInvalidRecord, RawOp: code, Field: side, Err: errors.New("snapshot is required")}
	}
	var rec rawRecord
	if err := jsoncodec.Unmarshal(raw, &rec); err != nil {
		return nil, &DecodeError{Kind: ErrInvalidRecord, RawOp: code, Field: side, Err: err}
	}
	if rec.ID == nil {
		return nil, &DecodeError{Kind: ErrInvalidRecord, RawOp: code, Field: side + ".id", Err: errors.New("id is required")}
	}
	return &Record{
		ID:          *rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
	}, nil
}

// decodeCommitTime never fails: a missing or unusable source block only
// means the event carries no commit time.
func decodeCommitTime(raw jsoncodec.RawMessage) time.Time {
	if jsoncodec.IsNull(raw) {
		return time.Time{}
	}
	var src rawSource
	if err := jsoncodec.Unmarshal(raw, &src); err != nil || src.TsMs == nil {
		return time.Time{}
	}
	return time.UnixMilli(*src.TsMs)
}
