package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// faultCodes are primary result codes meaning the handle is unusable.
var faultCodes = map[int]bool{
	sqlite3.SQLITE_IOERR:    true,
	sqlite3.SQLITE_CORRUPT:  true,
	sqlite3.SQLITE_CANTOPEN: true,
	sqlite3.SQLITE_MISUSE:   true,
	sqlite3.SQLITE_NOTADB:   true,
}

// faultMessages is the fallback for errors that lost their type on the way up.
var faultMessages = []string{
	"sql: database is closed",
	"sql: connection is already closed",
	"driver: bad connection",
	"database is closed",
	"disk i/o error",
	"database disk image is malformed",
	"file is not a database",
	"unable to open database file",
}

// IsConnectionFault reports whether err means the database handle is dead and
// must be reopened. Constraint violations, syntax errors and busy timeouts are
// not connection faults.
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return faultCodes[sqliteErr.Code()&0xff]
	}

	msg := strings.ToLower(err.Error())
	for _, m := range faultMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
