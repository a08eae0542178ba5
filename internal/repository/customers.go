package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// CustomersRepository keeps the order service's customer replica.
type CustomersRepository interface {
	// Save inserts the customer; an existing id is left untouched.
	Save(ctx context.Context, c model.Customer) (created bool, err error)
	Exists(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error)
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

func (r *CustomersRepositoryImpl) Save(ctx context.Context, c model.Customer) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = model.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, username, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Username, c.FirstName, c.LastName, c.CreatedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert customer %s: %w", c.ID, err)
	}
	return true, nil
}

func (r *CustomersRepositoryImpl) Exists(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	var n int
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM customers WHERE id = ?`, id)
	})
	if err != nil {
		return false, fmt.Errorf("count customer %s: %w", id, err)
	}
	return n > 0, nil
}
