// Package cdc turns change-data-capture envelopes into typed events.
//
// The envelope layout follows the Debezium JSON converter: an operation code in
// "op", row snapshots in "before" and "after", and source metadata carrying the
// commit time in "source.ts_ms". Envelopes produced with schemas enabled are
// accepted too; their "payload" object is unwrapped before decoding.
package cdc

import "time"

// Operation identifies the kind of row change carried by an Event.
type Operation string

const (
	OperationUnknown Operation = "unknown"
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
)

// Single-character operation codes as emitted by the source connector.
const (
	CodeCreate   = "c"
	CodeUpdate   = "u"
	CodeDelete   = "d"
	CodeSnapshot = "r"
)

// ParseOperation maps an operation code to an Operation. Codes other than
// c, u and d map to OperationUnknown.
func ParseOperation(code string) Operation {
	switch code {
	case CodeCreate:
		return OperationCreate
	case CodeUpdate:
		return OperationUpdate
	case CodeDelete:
		return OperationDelete
	default:
		return OperationUnknown
	}
}

func (o Operation) String() string {
	return string(o)
}

// IsUpsert reports whether the operation writes the after image.
func (o Operation) IsUpsert() bool {
	return o == OperationCreate || o == OperationUpdate
}

// Applicable reports whether the operation can be applied to the destination.
func (o Operation) Applicable() bool {
	return o.IsUpsert() || o == OperationDelete
}

// Record is a row of the mirrored table.
type Record struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Event is one decoded row change.
type Event struct {
	Operation Operation
	// RawOp is the operation code exactly as received.
	RawOp  string
	Before *Record
	After  *Record
	// SourceCommitTime is the zero time when the envelope carried no usable
	// source timestamp.
	SourceCommitTime time.Time
}

// Row returns the snapshot the operation acts on: After for creates and
// updates, Before for deletes.
func (e *Event) Row() *Record {
	if e == nil {
		return nil
	}
	switch {
	case e.Operation.IsUpsert():
		return e.After
	case e.Operation == OperationDelete:
		return e.Before
	default:
		return nil
	}
}

// ID returns the primary key of the affected row.
func (e *Event) ID() (int64, bool) {
	row := e.Row()
	if row == nil {
		return 0, false
	}
	return row.ID, true
}

// HasSourceCommitTime reports whether the source commit instant is known.
func (e *Event) HasSourceCommitTime() bool {
	return e != nil && !e.SourceCommitTime.IsZero()
}
