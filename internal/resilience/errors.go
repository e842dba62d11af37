package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsTransient reports whether the error (or any error in its chain) is a
// database-side condition worth retrying: lock contention, dropped
// connections, or Postgres failure classes that clear on their own.
// Constraint violations, bad SQL and decode failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientPgCode(pgErr.Code)
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	// Network-level failures between the app and the database.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped driver errors.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked", // sqlite busy
		"database table is locked",
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn busy",
		"conn closed",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// isTransientPgCode matches the SQLSTATE classes that resolve without
// operator action: serialization failures, lock timeouts, connection
// exceptions, and resource shortages.
func isTransientPgCode(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"57014": // query_canceled (statement timeout)
		return true
	}
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case strings.HasPrefix(code, "53"): // insufficient resources
		return true
	}
	return false
}
