// SQL-backed Bucket storage on Dolt/MySQL, grounded on
// internal/storage/dolt/store.go's retry/tracing wrapper around
// database/sql: the same withRetry-over-ExecContext/QueryContext shape,
// the same otel tracer+meter pair, repurposed for a single
// key/value table instead of the full issue schema.
package bucket

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SQL is a Bucket backed by a single key/value table in a Dolt (or
// MySQL-wire-compatible) database.
type SQL struct {
	db        *sql.DB
	table     string
	retryable bool // server-mode connections get driver-level transient errors; embedded doesn't
}

// SQLConfig configures a SQL-backed Bucket.
type SQLConfig struct {
	// DriverName selects the registered sql driver: "dolt" for an
	// embedded database directory, "mysql" for a dolt sql-server (or
	// MySQL) DSN.
	DriverName string
	DataSource string
	// Table is the bucket's key/value table name, created if absent.
	Table string
	// Retryable enables exponential-backoff retry of transient
	// connection errors; set for server-mode (DriverName "mysql")
	// connections, which lack the embedded driver's built-in retry.
	Retryable bool
}

// NewSQL opens a SQL-backed Bucket and ensures its table exists.
func NewSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	table := cfg.Table
	if table == "" {
		table = "bucket_items"
	}
	db, err := sql.Open(cfg.DriverName, cfg.DataSource)
	if err != nil {
		return nil, fmt.Errorf("bucket: open %s: %w", cfg.DriverName, err)
	}
	s := &SQL{db: db, table: table, retryable: cfg.Retryable}
	if _, err := s.execContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (bucket_key VARCHAR(255) PRIMARY KEY, bucket_value LONGTEXT NOT NULL)`,
		table,
	)); err != nil {
		db.Close()
		return nil, fmt.Errorf("bucket: create table %s: %w", table, err)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func newBucketRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

func isRetryableBucketError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "driver: bad connection") ||
		strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}

// withRetry executes op, retrying transient connection errors with
// exponential backoff when s.retryable is set; embedded Dolt
// connections already retry at the driver level, so this is a no-op
// there.
func (s *SQL) withRetry(ctx context.Context, op func() error) error {
	if !s.retryable {
		return op()
	}
	attempts := 0
	bo := newBucketRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableBucketError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		bucketMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

var bucketTracer = otel.Tracer("github.com/sourcekit/core/bucket")

var bucketMetrics struct {
	retryCount metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/sourcekit/core/bucket")
	bucketMetrics.retryCount, _ = m.Int64Counter("sourcekit.bucket.sql_retry_count",
		metric.WithDescription("SQL bucket operations retried due to transient errors"),
		metric.WithUnit("{retry}"),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *SQL) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := bucketTracer.Start(ctx, "bucket.sql.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "dolt"), attribute.String("db.operation", "exec")),
	)
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	endSpan(span, err)
	return result, err
}

func (s *SQL) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, span := bucketTracer.Start(ctx, "bucket.sql.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "dolt"), attribute.String("db.operation", "query")),
	)
	defer span.End()
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *SQL) GetItem(ctx context.Context, key string) (string, bool, error) {
	row := s.queryRowContext(ctx, fmt.Sprintf(`SELECT bucket_value FROM %s WHERE bucket_key = ?`, s.table), key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("bucket: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQL) SetItem(ctx context.Context, key, value string) error {
	_, err := s.execContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (bucket_key, bucket_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE bucket_value = VALUES(bucket_value)`,
		s.table,
	), key, value)
	if err != nil {
		return fmt.Errorf("bucket: set %q: %w", key, err)
	}
	return nil
}

func (s *SQL) RemoveItem(ctx context.Context, key string) error {
	_, err := s.execContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE bucket_key = ?`, s.table), key)
	if err != nil {
		return fmt.Errorf("bucket: remove %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Clear(ctx context.Context) error {
	_, err := s.execContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return fmt.Errorf("bucket: clear: %w", err)
	}
	return nil
}

func (s *SQL) GetKeys(ctx context.Context) ([]string, error) {
	ctx, span := bucketTracer.Start(ctx, "bucket.sql.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "dolt"), attribute.String("db.operation", "query")),
	)
	defer span.End()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT bucket_key FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("bucket: list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("bucket: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ Bucket = (*SQL)(nil)
