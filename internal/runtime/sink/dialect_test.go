package sink

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
)

func TestNewDialectStatements(t *testing.T) {
	pg, err := newDialect("postgres", "public.mytable")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, pg.driver)
	assert.Contains(t, pg.upsert, `INSERT INTO "public"."mytable"`)
	assert.Contains(t, pg.upsert, "ON CONFLICT (id)")
	assert.Contains(t, pg.upsert, "$3")
	assert.Equal(t, `DELETE FROM "public"."mytable" WHERE id = $1`, pg.delete)

	my, err := newDialect("MySQL", "mytable")
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, my.driver)
	assert.Contains(t, my.upsert, "INSERT INTO `mytable`")
	assert.Contains(t, my.upsert, "ON DUPLICATE KEY UPDATE")
	assert.Equal(t, "DELETE FROM `mytable` WHERE id = ?", my.delete)

	lite, err := newDialect("sqlite", `odd"name`)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, lite.driver)
	assert.Contains(t, lite.upsert, `INSERT INTO "odd""name"`)
	assert.Contains(t, lite.createTable, "CREATE TABLE IF NOT EXISTS")
}

func TestNewDialectRejectsUnknownDriver(t *testing.T) {
	_, err := newDialect("oracle", "mytable")
	assert.ErrorIs(t, err, errspkg.ErrUnsupportedDialect)
}

func TestPermanentClassification(t *testing.T) {
	tests := []struct {
		name      string
		check     func(error) bool
		err       error
		permanent bool
	}{
		{"postgres unique violation", isPermanentPostgres, &pq.Error{Code: "23505"}, true},
		{"postgres not null", isPermanentPostgres, fmt.Errorf("exec: %w", &pq.Error{Code: "23502"}), true},
		{"postgres value too long", isPermanentPostgres, &pq.Error{Code: "22001"}, true},
		{"postgres serialization failure", isPermanentPostgres, &pq.Error{Code: "40001"}, false},
		{"postgres plain error", isPermanentPostgres, errors.New("connection reset"), false},
		{"mysql duplicate", isPermanentMySQL, &mysql.MySQLError{Number: 1062}, true},
		{"mysql foreign key", isPermanentMySQL, &mysql.MySQLError{Number: 1452}, true},
		{"mysql deadlock", isPermanentMySQL, &mysql.MySQLError{Number: 1213}, false},
		{"mysql bad connection", isPermanentMySQL, mysql.ErrInvalidConn, false},
		{"sqlite constraint", isPermanentSQLite, sqlite3.Error{Code: sqlite3.ErrConstraint}, true},
		{"sqlite busy", isPermanentSQLite, sqlite3.Error{Code: sqlite3.ErrBusy}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, tt.check(tt.err))
		})
	}
}
