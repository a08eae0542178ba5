package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreditRepository holds the spendable credit of payment-service customers.
type CreditRepository interface {
	// Debit subtracts amount when the customer has enough credit. ok is
	// false when the credit is missing or insufficient.
	Debit(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) (ok bool, err error)
	Refund(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) error
	Get(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID) (*model.CreditEntry, error)
	Topup(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) error
}

type creditRepo struct{}

func NewCreditRepository() CreditRepository { return &creditRepo{} }

func (r *creditRepo) Debit(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) (bool, error) {
	// single conditional update: no row lock and no lost update
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_entries
		   SET total_credit = total_credit - ?, updated_at = ?
		 WHERE customer_id = ? AND total_credit >= ?
	`, amount, model.Now(), customerID, amount)
	if err != nil {
		return false, fmt.Errorf("debit credit of %s: %w", customerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit credit of %s: %w", customerID, err)
	}
	return n == 1, nil
}

func (r *creditRepo) Refund(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_entries
		   SET total_credit = total_credit + ?, updated_at = ?
		 WHERE customer_id = ?
	`, amount, model.Now(), customerID)
	if err != nil {
		return fmt.Errorf("refund credit of %s: %w", customerID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("refund credit of %s: %w", customerID, model.ErrNotFound)
	}
	return nil
}

func (r *creditRepo) Get(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID) (*model.CreditEntry, error) {
	var c model.CreditEntry
	err := tx.GetContext(ctx, &c, `
		SELECT customer_id, total_credit, updated_at FROM credit_entries WHERE customer_id = ?
	`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credit of %s: %w", customerID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get credit of %s: %w", customerID, err)
	}
	return &c, nil
}

// Topup adds credit, creating the entry on first use.
func (r *creditRepo) Topup(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID, amount decimal.Decimal) error {
	if err := r.Refund(ctx, tx, customerID, amount); !errors.Is(err, model.ErrNotFound) {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (customer_id, total_credit, updated_at) VALUES (?, ?, ?)
	`, customerID, amount, model.Now())
	if err != nil {
		return fmt.Errorf("insert credit of %s: %w", customerID, err)
	}
	return nil
}
