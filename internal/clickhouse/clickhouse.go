package clickhouse

import (
	"context"
	"time"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/usagebill/internal/config"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
)

type ClickHouseStore struct {
	conn   driver.Conn
	logger *logger.Logger
}

func NewClickHouseStore(config *config.Configuration, logger *logger.Logger) (*ClickHouseStore, error) {
	conn, err := clickhouse_go.Open(config.ClickHouse.GetClientOptions())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open clickhouse connection").
			WithReportableDetails(map[string]any{
				"address":  config.ClickHouse.Address,
				"database": config.ClickHouse.Database,
			}).
			Mark(ierr.ErrDatabase)
	}

	// retry while the server starts
	ping := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err = backoff.Retry(func() error {
		if err := conn.Ping(context.Background()); err != nil {
			logger.Warnw("clickhouse ping failed", "address", config.ClickHouse.Address, "error", err)
			return err
		}
		return nil
	}, ping)
	if err != nil {
		_ = conn.Close()
		return nil, ierr.WithError(err).
			WithHint("ClickHouse is unreachable").
			WithReportableDetails(map[string]any{
				"address": config.ClickHouse.Address,
			}).
			Mark(ierr.ErrDatabase)
	}

	return NewClickHouseStoreFromConn(conn, logger), nil
}

// NewClickHouseStoreFromConn wraps an opened connection
func NewClickHouseStoreFromConn(conn driver.Conn, logger *logger.Logger) *ClickHouseStore {
	return &ClickHouseStore{conn: conn, logger: logger}
}

// GetConn returns a connection that logs the duration of every query
func (s *ClickHouseStore) GetConn() driver.Conn {
	return &tracedConn{Conn: s.conn, logger: s.logger}
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// tracedConn logs the queries run through the wrapped connection
type tracedConn struct {
	driver.Conn
	logger *logger.Logger
}

func (tc *tracedConn) trace(ctx context.Context, operation, query string, args int, start time.Time, err error) {
	fields := []interface{}{
		"operation", operation,
		"query", truncateQuery(query),
		"args_count", args,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	log := tc.logger.WithContext(ctx)
	if err != nil {
		log.Errorw("clickhouse query failed", append(fields, "error", err.Error())...)
		return
	}
	log.Debugw("clickhouse query completed", fields...)
}

func (tc *tracedConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := tc.Conn.Select(ctx, dest, query, args...)
	tc.trace(ctx, "select", query, len(args), start, err)
	return err
}

func (tc *tracedConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	start := time.Now()
	rows, err := tc.Conn.Query(ctx, query, args...)
	tc.trace(ctx, "query", query, len(args), start, err)
	return rows, err
}

func (tc *tracedConn) Exec(ctx context.Context, query string, args ...any) error {
	start := time.Now()
	err := tc.Conn.Exec(ctx, query, args...)
	tc.trace(ctx, "exec", query, len(args), start, err)
	return err
}

// truncateQuery shortens queries kept in logs
func truncateQuery(query string) string {
	const maxLen = 1000
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
