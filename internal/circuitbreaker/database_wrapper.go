package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DatabaseWrapper guards writes to the Postgres repository backend behind a
// CircuitBreaker. Only PingContext and ExecContext are exposed: the
// repository does its reads through sqlx directly (see chatrepo/postgres)
// and only routes writes — the operations that fan out to the connection
// pool under load and are worth protecting — through the breaker.
type DatabaseWrapper struct {
	db *sql.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper builds a DatabaseWrapper around db, classifying
// Postgres errors via isDatabaseFailure so that expected application-level
// outcomes don't trip the breaker.
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	cfg := GetDatabaseConfig().ToConfig()
	cfg.ShouldTrip = isDatabaseFailure
	cb := NewCircuitBreaker("postgresql", cfg, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "chatrepo-postgres", cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

// PingContext checks connectivity through the breaker; used by the
// repository's IsHealthy.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	dw.recordOutcome(err)
	return err
}

// ExecContext runs a write statement through the breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	dw.recordOutcome(err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (dw *DatabaseWrapper) recordOutcome(err error) {
	GlobalMetricsCollector.RecordRequest("postgresql", "chatrepo-postgres", dw.cb.State(), err == nil || !isDatabaseFailure(err))
}

// Close closes the pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// IsCircuitBreakerOpen reports whether writes are currently being rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// isDatabaseFailure decides whether a Postgres error should count against
// the breaker. A unique-violation or foreign-key-violation is the database
// correctly enforcing a constraint the application already raced against
// (e.g. an etag mismatch that slipped past the repository's own optimistic
// check) — it is not evidence the database is unavailable, and counting it
// as a failure would eventually trip the breaker under nothing worse than
// normal concurrent traffic. Everything else — connection refused, a
// statement timing out, the pool being exhausted — is a real outage signal.
func isDatabaseFailure(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23": // integrity_constraint_violation
			return false
		}
	}
	return true
}
