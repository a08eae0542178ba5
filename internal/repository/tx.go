package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UnitOfWork runs fn inside one atomic database transaction. fn's error
// rolls everything back and is returned unchanged.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// Transactor is the sqlx-backed UnitOfWork.
type Transactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

var _ UnitOfWork = (*Transactor)(nil)

func (t *Transactor) Do(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return NewTransactor(db).Do(ctx, fn)
}
