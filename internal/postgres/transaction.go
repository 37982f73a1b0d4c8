package postgres

import (
	"context"
	"database/sql"

	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/jmoiron/sqlx"
)

// TxKey is the context key type for storing transaction
type TxKey struct{}

// Tx wraps sqlx.Tx with the id used for tracing
type Tx struct {
	*sqlx.Tx
	ID string
}

// GetTx retrieves a transaction from the context if it exists
func GetTx(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(TxKey{}).(*Tx)
	return tx, ok
}

func txError(err error, hint string) error {
	return ierr.WithError(err).WithHint(hint).Mark(ierr.ErrDatabase)
}

// BeginTx starts a transaction and stores it in the returned context
func (db *DB) BeginTx(ctx context.Context) (context.Context, *Tx, error) {
	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return ctx, nil, txError(err, "Failed to begin transaction")
	}

	tx := &Tx{Tx: sqlxTx, ID: types.GenerateUUID()}
	db.logger.WithContext(ctx).Debugw("starting new transaction", "tx_id", tx.ID)

	return context.WithValue(ctx, TxKey{}, tx), tx, nil
}

// CommitTx commits the transaction carried by ctx
func (db *DB) CommitTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return ierr.NewError("no transaction in context").
			WithHint("Commit requires an open transaction").
			Mark(ierr.ErrInvalidOperation)
	}

	db.logger.WithContext(ctx).Debugw("committing transaction", "tx_id", tx.ID)
	if err := tx.Commit(); err != nil {
		return txError(err, "Failed to commit transaction")
	}
	return nil
}

// RollbackTx rolls back the transaction carried by ctx
func (db *DB) RollbackTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return ierr.NewError("no transaction in context").
			WithHint("Rollback requires an open transaction").
			Mark(ierr.ErrInvalidOperation)
	}

	db.logger.WithContext(ctx).Debugw("rolling back transaction", "tx_id", tx.ID)
	if err := tx.Rollback(); err != nil {
		return txError(err, "Failed to rollback transaction")
	}
	return nil
}

// WithTx executes fn within a transaction, rolled back when fn fails or panics.
// When ctx already carries a transaction fn joins it and the outermost
// caller commits.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	ctx, tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	log := db.logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic in transaction", "tx_id", tx.ID, "panic", r)
			_ = db.RollbackTx(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		log.Errorw("transaction failed", "tx_id", tx.ID, "error", err)
		if rbErr := db.RollbackTx(ctx); rbErr != nil {
			return ierr.WithError(err).
				WithHintf("Rollback failed: %v", rbErr).
				Mark(ierr.ErrDatabase)
		}
		return err
	}

	return db.CommitTx(ctx)
}
