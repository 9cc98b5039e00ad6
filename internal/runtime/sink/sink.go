// Package sink applies decoded change events to the destination table.
package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/cdcsync/internal/runtime/cdc"
	"github.com/drblury/cdcsync/internal/runtime/metrics"
)

// DefaultTable is the destination table used when none is configured.
const DefaultTable = "mytable"

// ErrUnsupportedOperation is returned by Apply for events that carry neither an
// upsert nor a delete.
var ErrUnsupportedOperation = errors.New("sink: unsupported operation")

// ApplyError wraps a destination failure with the operation and key that
// caused it. Permanent errors will fail again on every retry.
type ApplyError struct {
	Op        cdc.Operation
	ID        int64
	Err       error
	Permanent bool
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s id=%d: %v", e.Op, e.ID, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a permanent ApplyError.
func IsPermanent(err error) bool {
	var applyErr *ApplyError
	return errors.As(err, &applyErr) && applyErr.Permanent
}

// Config describes the destination connection.
type Config struct {
	Driver          string
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Sink owns the destination connection pool. Every Apply checks out a single
// connection and returns it before the call ends.
type Sink struct {
	db       *sql.DB
	dialect  dialect
	table    string
	recorder metrics.Recorder
	ownsDB   bool
}

// Open connects to the destination and verifies the connection.
func Open(ctx context.Context, cfg Config, recorder metrics.Recorder) (*Sink, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	d, err := newDialect(cfg.Driver, table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping destination: %w", err)
	}

	s := newSink(db, d, table, recorder)
	s.ownsDB = true
	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of db; Close does not
// close it.
func New(db *sql.DB, driver, table string, recorder metrics.Recorder) (*Sink, error) {
	if table == "" {
		table = DefaultTable
	}
	d, err := newDialect(driver, table)
	if err != nil {
		return nil, err
	}
	return newSink(db, d, table, recorder), nil
}

func newSink(db *sql.DB, d dialect, table string, recorder metrics.Recorder) *Sink {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Sink{db: db, dialect: d, table: table, recorder: recorder}
}

// Table returns the unquoted destination table name.
func (s *Sink) Table() string {
	return s.table
}

// Driver returns the normalized driver name.
func (s *Sink) Driver() string {
	return s.dialect.driver
}

// EnsureTable creates the destination table when it does not exist yet.
func (s *Sink) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createTable); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Apply writes ev to the destination and returns the affected row count.
// Creates and updates are upserts keyed on id, so replaying an event is
// harmless. Deleting a missing row returns 0 and no error.
func (s *Sink) Apply(ctx context.Context, ev *cdc.Event) (int64, error) {
	if ev == nil || !ev.Operation.Applicable() {
		return 0, ErrUnsupportedOperation
	}
	row := ev.Row()
	if row == nil {
		return 0, &ApplyError{Op: ev.Operation, Err: errors.New("event has no row snapshot"), Permanent: true}
	}

	start := time.Now()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, s.applyError(ev.Operation, row.ID, err)
	}
	defer conn.Close()

	var res sql.Result
	if ev.Operation.IsUpsert() {
		res, err = conn.ExecContext(ctx, s.dialect.upsert, row.ID, nullString(row.Name), nullString(row.Description))
	} else {
		res, err = conn.ExecContext(ctx, s.dialect.delete, row.ID)
	}
	if err != nil {
		return 0, s.applyError(ev.Operation, row.ID, err)
	}

	// MySQL reports 2 for an upsert that updated an existing row.
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	s.recorder.ObserveApply(ev.Operation.String(), time.Since(start))
	if ev.Operation.IsUpsert() {
		s.recorder.Inc(metrics.CounterUpserts)
	} else {
		s.recorder.Inc(metrics.CounterDeletes)
	}
	return affected, nil
}

func (s *Sink) applyError(op cdc.Operation, id int64, err error) error {
	return &ApplyError{
		Op:        op,
		ID:        id,
		Err:       err,
		Permanent: s.dialect.permanent(err),
	}
}

// Close releases the pool when it was opened by the Sink.
func (s *Sink) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
