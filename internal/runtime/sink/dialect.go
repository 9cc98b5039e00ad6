package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
)

// Supported destination drivers. The names match the database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// dialect holds the statements and error classification for one driver.
type dialect struct {
	driver      string
	upsert      string
	delete      string
	createTable string
	permanent   func(error) bool
}

func newDialect(driver, table string) (dialect, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pgx":
		name := quoteQualified(table, pq.QuoteIdentifier)
		return dialect{
			driver: DriverPostgres,
			upsert: fmt.Sprintf(`INSERT INTO %s (id, name, description)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description`, name),
			delete:      fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, name),
			createTable: createTableSQL(name),
			permanent:   isPermanentPostgres,
		}, nil
	case DriverMySQL, "mariadb":
		name := quoteQualified(table, quoteMySQL)
		return dialect{
			driver: DriverMySQL,
			upsert: fmt.Sprintf(`INSERT INTO %s (id, name, description)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description)`, name),
			delete:      fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, name),
			createTable: createTableSQL(name),
			permanent:   isPermanentMySQL,
		}, nil
	case DriverSQLite, "sqlite":
		name := quoteQualified(table, quoteANSI)
		return dialect{
			driver: DriverSQLite,
			upsert: fmt.Sprintf(`INSERT INTO %s (id, name, description)
VALUES (?, ?, ?)
ON CONFLICT (id)
DO UPDATE SET name = excluded.name, description = excluded.description`, name),
			delete:      fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, name),
			createTable: createTableSQL(name),
			permanent:   isPermanentSQLite,
		}, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", errspkg.ErrUnsupportedDialect, driver)
	}
}

func createTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	name TEXT,
	description TEXT
)`, name)
}

// quoteQualified quotes every dot-separated part so "public.mytable" stays a
// schema-qualified name.
func quoteQualified(table string, quote func(string) string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = quote(part)
	}
	return strings.Join(parts, ".")
}

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func quoteANSI(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Class 22 is data exception, class 23 integrity constraint violation.
func isPermanentPostgres(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "22" || class == "23"
}

var permanentMySQLErrors = map[uint16]struct{}{
	1048: {}, // column cannot be null
	1062: {}, // duplicate entry
	1366: {}, // incorrect value
	1406: {}, // data too long
	1451: {}, // foreign key parent row
	1452: {}, // foreign key child row
}

func isPermanentMySQL(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	_, ok := permanentMySQLErrors[myErr.Number]
	return ok
}

func isPermanentSQLite(err error) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code {
	case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig:
		return true
	default:
		return false
	}
}
