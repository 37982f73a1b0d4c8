package postgres

import (
	"context"
	"database/sql"

	"github.com/flexprice/usagebill/internal/config"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB wraps sqlx.DB to provide transaction management and query tracing
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// Querier is implemented by both *sqlx.DB and *sqlx.Tx
type Querier interface {
	sqlx.ExtContext
}

// NewDB opens the connection pool described by the configuration
func NewDB(config *config.Configuration, logger *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", config.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			WithReportableDetails(map[string]any{
				"host":   config.Postgres.Host,
				"dbname": config.Postgres.DBName,
			}).
			Mark(ierr.ErrDatabase)
	}
	return NewFromSQLX(db, logger), nil
}

// NewFromSQLX wraps an already opened pool
func NewFromSQLX(db *sqlx.DB, logger *logger.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.logger.Errorw("failed to close postgres connection", "error", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB,
// together with the transaction id used for tracing
func (db *DB) GetQuerier(ctx context.Context) (Querier, string) {
	if tx, ok := GetTx(ctx); ok {
		return tx.Tx, tx.ID
	}
	return db.DB, ""
}

// NamedExecContext runs a named statement on the querier of ctx
func (db *DB) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	q, txID := db.GetQuerier(ctx)
	tracer := NewQueryTracer(db.logger.WithContext(ctx), query, arg, txID)
	result, err := sqlx.NamedExecContext(ctx, q, query, arg)
	tracer.Done(err)
	return result, err
}

// NamedQueryContext runs a named query on the querier of ctx
func (db *DB) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	q, txID := db.GetQuerier(ctx)
	tracer := NewQueryTracer(db.logger.WithContext(ctx), query, arg, txID)
	rows, err := sqlx.NamedQueryContext(ctx, q, query, arg)
	tracer.Done(err)
	return rows, err
}

// SelectContext scans every row of a positional query into dest
func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q, txID := db.GetQuerier(ctx)
	tracer := NewQueryTracer(db.logger.WithContext(ctx), query, args, txID)
	err := sqlx.SelectContext(ctx, q, dest, query, args...)
	tracer.Done(err)
	return err
}

// ExecContext runs a positional statement on the querier of ctx
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q, txID := db.GetQuerier(ctx)
	tracer := NewQueryTracer(db.logger.WithContext(ctx), query, args, txID)
	result, err := q.ExecContext(ctx, query, args...)
	tracer.Done(err)
	return result, err
}
