package store

import (
	"net/url"
	"strings"
)

// RedactDSN hides the password of a PostgreSQL URL or key/value DSN. Other
// strings, such as DuckDB file paths, are returned unchanged.
func RedactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		return u.Redacted()
	}
	if !strings.Contains(dsn, "=") {
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
