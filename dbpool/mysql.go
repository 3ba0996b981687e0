package dbpool

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlDSN appends the read-only session variable for ModeReadOnly. The
// driver forwards unknown DSN parameters as system variables on every new
// connection, so the whole pool gets the setting and writes are rejected
// server-side, not just by the caller's SQL validation.
func mysqlDSN(path string, mode AccessMode) string {
	if mode != ModeReadOnly {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "transaction_read_only=1"
}

// openMySQL opens a MySQL (or MySQL-compatible) connection with retry.
func (m *DBManager) openMySQL(opts OpenOptions) (*sql.DB, error) {
	maxRetries, baseMs := retryParams(opts)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sql.Open("mysql", mysqlDSN(opts.Path, opts.Mode))
		if err == nil {
			err = db.Ping()
			if err != nil {
				db.Close()
			}
		}

		if err != nil {
			lastErr = err
			m.logger(fmt.Sprintf("[dbpool] MySQL attempt %d/%d failed: %v", i+1, maxRetries, err))
			if maxRetries > 1 {
				time.Sleep(time.Duration(baseMs*(i+1)) * time.Millisecond)
			}
			continue
		}

		return db, nil
	}

	return nil, fmt.Errorf("dbpool: failed to open MySQL after %d retries: %w", maxRetries, lastErr)
}
