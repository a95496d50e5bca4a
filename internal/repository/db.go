package repository

import (
	"database/sql"
	"net/url"
	"strings"
	"time"
)

// ConfigurePool applies pool limits that keep long-lived server connections
// from going stale behind load balancers.
func ConfigurePool(db *sql.DB, maxOpen int) {
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)
}

// EnsureBinaryParametersNo appends binary_parameters=no to a lib/pq DSN if
// it is not already present. This avoids server-side unnamed prepared
// statements, which fail with "unnamed prepared statement does not exist"
// after connection resets.
func EnsureBinaryParametersNo(dsn string) string {
	if dsn == "" {
		return "binary_parameters=no"
	}
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "binary_parameters=") {
		return dsn
	}
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set("binary_parameters", "no")
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	// key=value DSN
	if strings.Contains(dsn, "=") && !strings.Contains(dsn, "?") {
		return dsn + " binary_parameters=no"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "binary_parameters=no"
}
